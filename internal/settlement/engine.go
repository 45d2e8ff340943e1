// Package settlement turns verified payments into orders and ledger entries
// and drives withdrawals through their lifecycle.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"materials-backend/internal/gateway"
	"materials-backend/internal/metrics"
	"materials-backend/internal/models"
	"materials-backend/internal/notify"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// PurchaseResult describes a settled purchase. Duplicate is set when the
// reference had already been settled and nothing new was written.
type PurchaseResult struct {
	OrderID    uint64 `json:"orderId"`
	Reference  string `json:"reference"`
	Duplicate  bool   `json:"duplicate"`
	Shares     Shares `json:"shares"`
	MaterialID uint64 `json:"materialId"`
}

type Engine struct {
	db      *gorm.DB
	gateway gateway.Client
	pusher  notify.Pusher
	metrics *metrics.Metrics
	logger  *zap.Logger

	inflight singleflight.Group
}

func NewEngine(db *gorm.DB, gw gateway.Client, pusher notify.Pusher, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if pusher == nil {
		pusher = notify.NopPusher{}
	}
	return &Engine{
		db:      db,
		gateway: gw,
		pusher:  pusher,
		metrics: m,
		logger:  logger,
	}
}

// CompletePurchase settles a charge exactly once per reference. Repeated or
// concurrent calls for a settled reference return the existing order.
//
// Concurrent callers share one settlement, which is detached from every
// caller's context. A caller whose ctx ends stops waiting and gets ctx.Err();
// the settlement still finishes for the others.
func (e *Engine) CompletePurchase(ctx context.Context, reference, externalID string) (*PurchaseResult, error) {
	start := time.Now()

	ch := e.inflight.DoChan(reference, func() (interface{}, error) {
		return e.completePurchase(context.WithoutCancel(ctx), reference, externalID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	outcome := "settled"
	switch {
	case res.Err != nil:
		outcome = "failed"
	case res.Val.(*PurchaseResult).Duplicate:
		outcome = "duplicate"
	}
	e.metrics.Settlement(outcome, time.Since(start).Seconds())

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*PurchaseResult), nil
}

func (e *Engine) completePurchase(ctx context.Context, reference, externalID string) (*PurchaseResult, error) {
	log := e.logger.With(zap.String("reference", reference))
	db := e.db.WithContext(ctx)

	// 1. Already settled?
	existing, err := findOrderByReference(db, reference)
	if err != nil {
		return nil, fmt.Errorf("look up order: %w", err)
	}
	if existing != nil {
		e.backfillExternalID(db, existing, externalID)
		log.Info("Purchase already settled", zap.Uint64("order_id", existing.ID))
		return &PurchaseResult{OrderID: existing.ID, Reference: reference, Duplicate: true, MaterialID: existing.MaterialID}, nil
	}

	// 2. Ask the gateway, never trust the webhook body for money
	txn, err := e.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if txn.Status != gateway.StatusSuccess {
		return nil, fmt.Errorf("%w: gateway status %q", ErrVerificationFailed, txn.Status)
	}
	if txn.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", ErrVerificationFailed, txn.Amount)
	}
	if externalID == "" {
		externalID = txn.ID
	}

	// 3. Metadata
	meta, err := gateway.DecodeMetadata(txn.Metadata)
	if err != nil {
		return nil, err
	}

	// 4. Split and record atomically
	var (
		result *PurchaseResult
		payees []Entry
		buyer  models.User
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		uow := newUnitOfWork(tx, reference)
		if err := uow.lockReference(); err != nil {
			return err
		}

		// a concurrent process may have won while we were verifying
		if order, err := uow.findOrder(); err != nil {
			return err
		} else if order != nil {
			result = &PurchaseResult{OrderID: order.ID, Reference: reference, Duplicate: true, MaterialID: order.MaterialID}
			return nil
		}

		var material models.Material
		if err := tx.First(&material, meta.MaterialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("material %d: %w", meta.MaterialID, ErrNotFound)
			}
			return err
		}
		if err := tx.First(&buyer, meta.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("buyer %d: %w", meta.UserID, ErrNotFound)
			}
			return err
		}

		if txn.Amount != material.Price {
			log.Warn("Verified amount differs from material price",
				zap.Int64("verified", txn.Amount), zap.Int64("price", material.Price))
		}

		referral, err := e.resolveReferral(tx, meta, &material, log)
		if err != nil {
			return err
		}
		referralPercent := decimal.Zero
		if referral != nil {
			referralPercent = referral.CommissionPercent
			if !referralPercent.IsPositive() && material.ReferralPercent.Valid {
				referralPercent = material.ReferralPercent.Decimal
			}
		}
		coAuthorID, equityPercent, hasEquity := material.EquityShare()
		shares := Split(txn.Amount, referralPercent, equityPercent)

		order := models.Order{
			Reference:  reference,
			Amount:     txn.Amount,
			Status:     models.OrderStatusCompleted,
			BuyerID:    buyer.ID,
			OwnerID:    material.OwnerID,
			MaterialID: material.ID,
		}
		if externalID != "" {
			order.ExternalID = &externalID
		}
		if err := tx.Omit("Material").Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		materialID, orderID := material.ID, order.ID
		payees = []Entry{{
			UserID: material.OwnerID, Type: models.TxSale, Amount: shares.Owner,
			MaterialID: &materialID, OrderID: &orderID,
			Description: fmt.Sprintf("Sale of %s", material.Title),
		}}
		if hasEquity {
			payees = append(payees, Entry{
				UserID: coAuthorID, Type: models.TxEquityPayment, Amount: shares.Equity,
				MaterialID: &materialID, OrderID: &orderID,
				Description: fmt.Sprintf("Co-author share of %s", material.Title),
			})
		}
		if referral != nil {
			payees = append(payees, Entry{
				UserID: referral.ReferrerID, Type: models.TxReferralCommission, Amount: shares.Referral,
				MaterialID: &materialID, OrderID: &orderID,
				Description: fmt.Sprintf("Referral commission for %s (%s)", material.Title, referral.Code),
			})
		}
		if err := uow.CreditAll(payees); err != nil {
			return err
		}

		if referral != nil {
			if err := tx.Model(&models.ReferralCode{}).Where("id = ?", referral.ID).
				UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
				return fmt.Errorf("count referral usage: %w", err)
			}
		}

		if err := uow.grantAccess(buyer.ID, material.ID); err != nil {
			return fmt.Errorf("grant access: %w", err)
		}

		result = &PurchaseResult{OrderID: order.ID, Reference: reference, Shares: shares, MaterialID: material.ID}
		return nil
	})
	if err != nil {
		// losing a race on the unique reference is still a settled purchase
		if order, ferr := findOrderByReference(e.db.WithContext(ctx), reference); ferr == nil && order != nil {
			log.Info("Purchase settled concurrently", zap.Uint64("order_id", order.ID))
			return &PurchaseResult{OrderID: order.ID, Reference: reference, Duplicate: true, MaterialID: order.MaterialID}, nil
		}
		log.Error("Purchase settlement failed", zap.Error(err))
		return nil, err
	}
	if result.Duplicate {
		return result, nil
	}

	for _, p := range payees {
		if p.Amount > 0 {
			e.metrics.Credited(p.Type, p.Amount)
		}
	}
	log.Info("Purchase settled",
		zap.Uint64("order_id", result.OrderID),
		zap.Int64("gross", result.Shares.Gross),
		zap.Int64("owner", result.Shares.Owner),
		zap.Int64("equity", result.Shares.Equity),
		zap.Int64("referral", result.Shares.Referral))

	e.notifyPayees(buyer, payees, result)
	return result, nil
}

// resolveReferral returns the referral code to credit, or nil. A code that
// does not belong to the material is ignored: the buyer has already paid and
// the sale must still settle. Who may use a code is decided at checkout.
func (e *Engine) resolveReferral(tx *gorm.DB, meta gateway.Metadata, material *models.Material, log *zap.Logger) (*models.ReferralCode, error) {
	if meta.ReferralCode == "" {
		return nil, nil
	}

	var code models.ReferralCode
	if err := tx.Where("code = ?", meta.ReferralCode).Limit(1).Find(&code).Error; err != nil {
		return nil, err
	}
	switch {
	case code.ID == 0:
		log.Warn("Unknown referral code ignored", zap.String("code", meta.ReferralCode))
		return nil, nil
	case code.MaterialID != material.ID:
		log.Warn("Referral code belongs to another material",
			zap.String("code", code.Code), zap.Uint64("code_material_id", code.MaterialID))
		return nil, nil
	}
	return &code, nil
}

func (e *Engine) backfillExternalID(db *gorm.DB, order *models.Order, externalID string) {
	if externalID == "" || order.ExternalID != nil {
		return
	}
	res := db.Model(&models.Order{}).
		Where("id = ? AND external_id IS NULL", order.ID).
		Update("external_id", externalID)
	if res.Error != nil {
		e.logger.Warn("Failed to backfill external id",
			zap.String("reference", order.Reference), zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		order.ExternalID = &externalID
	}
}

// ProcessRefund returns the money of a withdrawal whose payout failed.
func (e *Engine) ProcessRefund(ctx context.Context, reference, reason string) error {
	log := e.logger.With(zap.String("reference", reference))

	var (
		failed, refunded bool
		w                *models.Withdrawal
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := newUnitOfWork(tx, reference)

		var err error
		w, err = uow.lockWithdrawal("reference = ?", reference)
		if err != nil {
			return err
		}

		switch w.Status {
		case models.WithdrawalFailed:
			return nil
		case models.WithdrawalPaid, models.WithdrawalRejected:
			return fmt.Errorf("withdrawal %s is %s: %w", reference, w.Status, ErrStateConflict)
		case models.WithdrawalPending:
			// never debited, nothing to give back
			if err := uow.transition(w, models.WithdrawalPending, models.WithdrawalFailed,
				map[string]interface{}{"failure_reason": reason}); err != nil {
				return err
			}
			failed = true
			return nil
		case models.WithdrawalApproved:
		default:
			return fmt.Errorf("withdrawal %s has unknown status %s: %w", reference, w.Status, ErrStateConflict)
		}

		if err := uow.transition(w, models.WithdrawalApproved, models.WithdrawalFailed,
			map[string]interface{}{"failure_reason": reason}); err != nil {
			return err
		}
		if err := uow.Credit(Entry{
			UserID:      w.UserID,
			Type:        models.TxRefund,
			Amount:      w.Amount,
			Description: fmt.Sprintf("Refund of withdrawal %s: %s", reference, reason),
		}); err != nil {
			return err
		}
		failed, refunded = true, true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			log.Error("Refund needs manual reconciliation", zap.String("reason", reason), zap.Error(err))
		}
		return err
	}

	if failed {
		e.metrics.WithdrawalTransition(models.WithdrawalFailed)
	}
	if refunded {
		e.metrics.Credited(models.TxRefund, w.Amount)
		log.Info("Withdrawal refunded", zap.Int64("amount", w.Amount), zap.String("reason", reason))
		e.pushToUser(w.UserID, "Withdrawal failed",
			fmt.Sprintf("Your withdrawal %s failed and the funds were returned to your wallet.", reference),
			map[string]string{"type": "withdrawal_failed", "reference": reference})
	}
	return nil
}

// CompleteWithdrawal marks an approved withdrawal as paid out.
func (e *Engine) CompleteWithdrawal(ctx context.Context, reference, externalID string) error {
	var (
		w       *models.Withdrawal
		changed bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := newUnitOfWork(tx, reference)

		var err error
		w, err = uow.lockWithdrawal("reference = ?", reference)
		if err != nil {
			return err
		}

		switch w.Status {
		case models.WithdrawalPaid:
			return nil
		case models.WithdrawalApproved:
		default:
			return fmt.Errorf("withdrawal %s is %s: %w", reference, w.Status, ErrStateConflict)
		}

		extra := map[string]interface{}{"processed_at": time.Now()}
		if externalID != "" {
			extra["transfer_code"] = externalID
		}
		if err := uow.transition(w, models.WithdrawalApproved, models.WithdrawalPaid, extra); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		e.metrics.WithdrawalTransition(models.WithdrawalPaid)
		e.logger.Info("Withdrawal paid", zap.String("reference", reference), zap.String("transfer_code", externalID))
		e.pushToUser(w.UserID, "Withdrawal paid",
			fmt.Sprintf("Your withdrawal %s has been sent to your bank.", reference),
			map[string]string{"type": "withdrawal_paid", "reference": reference})
	}
	return nil
}

func (e *Engine) notifyPayees(buyer models.User, payees []Entry, result *PurchaseResult) {
	orderID := fmt.Sprintf("%d", result.OrderID)

	e.push(buyer.FCMToken, "Payment successful",
		"Your material is ready to download.",
		map[string]string{"type": "purchase_completed", "order_id": orderID})

	for _, p := range payees {
		if p.Amount <= 0 {
			continue
		}
		e.pushToUser(p.UserID, "You earned money",
			fmt.Sprintf("%s: %d credited to your wallet.", p.Description, p.Amount),
			map[string]string{"type": "wallet_credited", "order_id": orderID, "kind": p.Type})
	}
}

func (e *Engine) pushToUser(userID uint64, title, body string, data map[string]string) {
	var user models.User
	if err := e.db.Select("id", "fcm_token").Where("id = ?", userID).Limit(1).Find(&user).Error; err != nil {
		e.logger.Warn("Failed to load push token", zap.Uint64("user_id", userID), zap.Error(err))
		return
	}
	e.push(user.FCMToken, title, body, data)
}

// push is fire and forget; settlement has already committed.
func (e *Engine) push(token, title, body string, data map[string]string) {
	if token == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.pusher.Send(ctx, notify.Push{Token: token, Title: title, Body: body, Data: data}); err != nil {
			e.logger.Debug("Push dropped", zap.Error(err))
		}
	}()
}
