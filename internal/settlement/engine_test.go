package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"materials-backend/internal/gateway"
	"materials-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletePurchase_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.gw.charge(t, "pay_1", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))

	res, err := f.engine.CompletePurchase(context.Background(), "pay_1", "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotZero(t, res.OrderID)

	assert.Equal(t, int64(1000), f.balance(t, f.owner.ID))
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))

	var order models.Order
	require.NoError(t, f.db.First(&order, res.OrderID).Error)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, f.buyer.ID, order.BuyerID)
	assert.Equal(t, f.owner.ID, order.OwnerID)
	require.NotNil(t, order.ExternalID)
	assert.Equal(t, "9001", *order.ExternalID)

	owns, err := f.engine.Owns(context.Background(), f.buyer.ID, material.ID)
	require.NoError(t, err)
	assert.True(t, owns)

	rows := f.ledger(t, f.owner.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxSale, rows[0].Type)
	assert.Equal(t, int64(1000), rows[0].Amount)
	assert.Equal(t, "pay_1", rows[0].Reference)
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, res.OrderID, *rows[0].OrderID)
}

func TestCompletePurchase_Referral(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.referralCode(t, "FRIEND10", material.ID, "10")
	f.gw.charge(t, "pay_2", 1000, purchaseMeta(material.ID, f.buyer.ID, "FRIEND10"))

	res, err := f.engine.CompletePurchase(context.Background(), "pay_2", "")
	require.NoError(t, err)

	assert.Equal(t, Shares{Gross: 1000, Referral: 100, Net: 900, Owner: 900}, res.Shares)
	assert.Equal(t, int64(100), f.balance(t, f.referrer.ID))
	assert.Equal(t, int64(900), f.balance(t, f.owner.ID))

	var code models.ReferralCode
	require.NoError(t, f.db.Where("code = ?", "FRIEND10").First(&code).Error)
	assert.Equal(t, int64(1), code.UsageCount)

	rows := f.ledger(t, f.referrer.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxReferralCommission, rows[0].Type)
}

func TestCompletePurchase_ReferralAndEquity(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "30")
	f.referralCode(t, "FRIEND10", material.ID, "10")
	f.gw.charge(t, "pay_3", 1000, purchaseMeta(material.ID, f.buyer.ID, "FRIEND10"))

	_, err := f.engine.CompletePurchase(context.Background(), "pay_3", "")
	require.NoError(t, err)

	referral, equity, owner := f.balance(t, f.referrer.ID), f.balance(t, f.coAuthor.ID), f.balance(t, f.owner.ID)
	assert.Equal(t, int64(100), referral)
	assert.Equal(t, int64(270), equity)
	assert.Equal(t, int64(630), owner)
	assert.Equal(t, int64(1000), referral+equity+owner)

	rows := f.ledger(t, f.coAuthor.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.TxEquityPayment, rows[0].Type)
}

func TestCompletePurchase_EquityRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "30")
	require.NoError(t, f.db.Model(&material).Update("co_author_accepted", false).Error)
	f.gw.charge(t, "pay_pending_coauthor", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))

	_, err := f.engine.CompletePurchase(context.Background(), "pay_pending_coauthor", "")
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(t, f.coAuthor.ID))
	assert.Equal(t, int64(1000), f.balance(t, f.owner.ID))
}

func TestCompletePurchase_ReferralForOtherMaterialIgnored(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	other := f.material(t, 500, "")
	f.referralCode(t, "OTHER", other.ID, "10")
	f.gw.charge(t, "pay_other_ref", 1000, purchaseMeta(material.ID, f.buyer.ID, "OTHER"))

	_, err := f.engine.CompletePurchase(context.Background(), "pay_other_ref", "")
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(t, f.referrer.ID))
	assert.Equal(t, int64(1000), f.balance(t, f.owner.ID))

	var code models.ReferralCode
	require.NoError(t, f.db.Where("code = ?", "OTHER").First(&code).Error)
	assert.Zero(t, code.UsageCount)
}

func TestCompletePurchase_ReferrerBuyingCreditsCommission(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.referralCode(t, "FRIEND10", material.ID, "10")
	f.gw.charge(t, "pay_self_ref", 1000, purchaseMeta(material.ID, f.referrer.ID, "FRIEND10"))

	res, err := f.engine.CompletePurchase(context.Background(), "pay_self_ref", "")
	require.NoError(t, err)

	// the charge was accepted, so its metadata is honored as paid for
	assert.Equal(t, int64(100), res.Shares.Referral)
	assert.Equal(t, int64(100), f.balance(t, f.referrer.ID))
	assert.Equal(t, int64(900), f.balance(t, f.owner.ID))
}

func TestCompletePurchase_Idempotent(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.gw.charge(t, "pay_dup", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))
	ctx := context.Background()

	first, err := f.engine.CompletePurchase(ctx, "pay_dup", "")
	require.NoError(t, err)
	second, err := f.engine.CompletePurchase(ctx, "pay_dup", "")
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))
	assert.Len(t, f.ledger(t, f.owner.ID), 1)
	assert.Equal(t, int64(1000), f.balance(t, f.owner.ID))
	// the duplicate never reached the gateway
	assert.Equal(t, 1, f.gw.verifyCalls)
}

func TestCompletePurchase_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "30")
	f.gw.charge(t, "pay_race", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))

	const deliveries = 8
	var wg sync.WaitGroup
	ids := make([]uint64, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.CompletePurchase(context.Background(), "pay_race", "")
			errs[i] = err
			if err == nil {
				ids[i] = res.OrderID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))
	assert.Equal(t, int64(2), f.count(t, &models.Transaction{}))
	assert.Equal(t, int64(700), f.balance(t, f.owner.ID))
	assert.Equal(t, int64(300), f.balance(t, f.coAuthor.ID))
}

func TestCompletePurchase_CallerCancelDoesNotFailSharedSettlement(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.gw.charge(t, "pay_shared", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))
	f.gw.verifyStarted = make(chan struct{}, 1)
	f.gw.verifyHold = make(chan struct{})

	clientCtx, cancel := context.WithCancel(context.Background())
	clientErr := make(chan error, 1)
	go func() {
		_, err := f.engine.CompletePurchase(clientCtx, "pay_shared", "")
		clientErr <- err
	}()
	<-f.gw.verifyStarted

	type outcome struct {
		res *PurchaseResult
		err error
	}
	webhook := make(chan outcome, 1)
	go func() {
		res, err := f.engine.CompletePurchase(context.Background(), "pay_shared", "")
		webhook <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	// the client gives up while the gateway is still answering
	cancel()
	select {
	case err := <-clientErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}
	close(f.gw.verifyHold)

	select {
	case got := <-webhook:
		require.NoError(t, got.err)
		assert.NotZero(t, got.res.OrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook settlement did not finish")
	}
	assert.Equal(t, int64(1), f.count(t, &models.Order{}))
	assert.Equal(t, int64(1000), f.balance(t, f.owner.ID))
	assert.Equal(t, 1, f.gw.verifyCalls)
}

func TestCompletePurchase_BackfillsExternalID(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	order := models.Order{
		Reference: "pay_backfill", Amount: 1000, Status: models.OrderStatusCompleted,
		BuyerID: f.buyer.ID, OwnerID: f.owner.ID, MaterialID: material.ID,
	}
	require.NoError(t, f.db.Omit("Material").Create(&order).Error)

	res, err := f.engine.CompletePurchase(context.Background(), "pay_backfill", "ext-77")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	require.NoError(t, f.db.First(&order, order.ID).Error)
	require.NotNil(t, order.ExternalID)
	assert.Equal(t, "ext-77", *order.ExternalID)

	// set once
	_, err = f.engine.CompletePurchase(context.Background(), "pay_backfill", "ext-88")
	require.NoError(t, err)
	require.NoError(t, f.db.First(&order, order.ID).Error)
	assert.Equal(t, "ext-77", *order.ExternalID)
}

func TestCompletePurchase_VerificationFailure(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")

	_, err := f.engine.CompletePurchase(context.Background(), "pay_unknown", "")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	f.gw.charge(t, "pay_abandoned", 1000, purchaseMeta(material.ID, f.buyer.ID, ""))
	f.gw.transactions["pay_abandoned"].Status = "abandoned"
	_, err = f.engine.CompletePurchase(context.Background(), "pay_abandoned", "")
	assert.ErrorIs(t, err, ErrVerificationFailed)

	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.Transaction{}))
}

func TestCompletePurchase_InvalidMetadata(t *testing.T) {
	f := newFixture(t)
	f.gw.charge(t, "pay_nometa", 1000, map[string]interface{}{"userId": f.buyer.ID})

	_, err := f.engine.CompletePurchase(context.Background(), "pay_nometa", "")
	assert.ErrorIs(t, err, ErrInvalidMetadata)
	assert.ErrorIs(t, err, gateway.ErrInvalidMetadata)
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCompletePurchase_MissingMaterialRollsBack(t *testing.T) {
	f := newFixture(t)
	f.gw.charge(t, "pay_gone", 1000, purchaseMeta(424242, f.buyer.ID, ""))

	_, err := f.engine.CompletePurchase(context.Background(), "pay_gone", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.Wallet{}))
	assert.Zero(t, f.count(t, &models.Transaction{}))
}

func TestCompletePurchase_MissingBuyerRollsBack(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	f.gw.charge(t, "pay_ghost", 1000, purchaseMeta(material.ID, 999999, ""))

	_, err := f.engine.CompletePurchase(context.Background(), "pay_ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, int64(0), f.balance(t, f.owner.ID))
}

func TestCompletePurchase_UsesVerifiedAmount(t *testing.T) {
	f := newFixture(t)
	material := f.material(t, 1000, "")
	// price changed after checkout; the buyer paid 800
	f.gw.charge(t, "pay_discount", 800, purchaseMeta(material.ID, f.buyer.ID, ""))

	res, err := f.engine.CompletePurchase(context.Background(), "pay_discount", "")
	require.NoError(t, err)
	assert.Equal(t, int64(800), res.Shares.Gross)
	assert.Equal(t, int64(800), f.balance(t, f.owner.ID))
}

func TestProcessRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("approved is credited back", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, f.owner.ID, 5000)
		w := f.requestWithdrawal(t, f.owner.ID, 3000)
		_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID, f.referrer.ID)
		require.NoError(t, err)
		require.Equal(t, int64(2000), f.balance(t, f.owner.ID))

		require.NoError(t, f.engine.ProcessRefund(ctx, w.Reference, "transfer failed"))

		assert.Equal(t, int64(5000), f.balance(t, f.owner.ID))
		got := f.reload(t, w.ID)
		assert.Equal(t, models.WithdrawalFailed, got.Status)
		assert.Equal(t, "transfer failed", got.FailureReason)

		rows := f.ledger(t, f.owner.ID)
		require.Len(t, rows, 3)
		assert.Equal(t, models.TxRefund, rows[2].Type)
		assert.Equal(t, int64(3000), rows[2].Amount)

		// second delivery is a no-op
		require.NoError(t, f.engine.ProcessRefund(ctx, w.Reference, "transfer reversed"))
		assert.Equal(t, int64(5000), f.balance(t, f.owner.ID))
		assert.Len(t, f.ledger(t, f.owner.ID), 3)
	})

	t.Run("paid is a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, f.owner.ID, 5000)
		w := f.requestWithdrawal(t, f.owner.ID, 3000)
		_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID, f.referrer.ID)
		require.NoError(t, err)
		require.NoError(t, f.engine.CompleteWithdrawal(ctx, w.Reference, "TRF_1"))

		err = f.engine.ProcessRefund(ctx, w.Reference, "transfer failed")
		assert.ErrorIs(t, err, ErrStateConflict)
		assert.Equal(t, int64(2000), f.balance(t, f.owner.ID))
		assert.Equal(t, models.WithdrawalPaid, f.reload(t, w.ID).Status)
	})

	t.Run("pending fails without credit", func(t *testing.T) {
		f := newFixture(t)
		f.fund(t, f.owner.ID, 5000)
		w := f.requestWithdrawal(t, f.owner.ID, 3000)

		require.NoError(t, f.engine.ProcessRefund(ctx, w.Reference, "cancelled"))
		assert.Equal(t, int64(5000), f.balance(t, f.owner.ID))
		assert.Equal(t, models.WithdrawalFailed, f.reload(t, w.ID).Status)
		assert.Len(t, f.ledger(t, f.owner.ID), 1)
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.engine.ProcessRefund(ctx, "wd-missing", "x"), ErrNotFound)
	})
}

func TestCompleteWithdrawal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, f.owner.ID, 5000)
	w := f.requestWithdrawal(t, f.owner.ID, 2000)

	// pending was never approved
	assert.ErrorIs(t, f.engine.CompleteWithdrawal(ctx, w.Reference, "TRF_early"), ErrStateConflict)

	_, err := f.withdrawals.ApproveWithdrawal(ctx, w.ID, f.referrer.ID)
	require.NoError(t, err)
	ledgerBefore := len(f.ledger(t, f.owner.ID))

	require.NoError(t, f.engine.CompleteWithdrawal(ctx, w.Reference, "TRF_ok"))
	got := f.reload(t, w.ID)
	assert.Equal(t, models.WithdrawalPaid, got.Status)
	require.NotNil(t, got.TransferCode)
	assert.Equal(t, "TRF_ok", *got.TransferCode)
	assert.Len(t, f.ledger(t, f.owner.ID), ledgerBefore)

	// repeated webhook
	require.NoError(t, f.engine.CompleteWithdrawal(ctx, w.Reference, "TRF_ok"))
	assert.Equal(t, int64(3000), f.balance(t, f.owner.ID))
}
