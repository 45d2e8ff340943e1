package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"materials-backend/internal/gateway"
	"materials-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxReferenceAttempts = 5

// WithdrawalManager moves withdrawals from request to payout. Terminal
// outcomes (paid, refunded) go through the Engine so webhook and admin
// paths share one implementation.
type WithdrawalManager struct {
	db            *gorm.DB
	engine        *Engine
	payouts       gateway.Payouts
	minWithdrawal int64
	logger        *zap.Logger
	now           func() time.Time
}

func NewWithdrawalManager(db *gorm.DB, engine *Engine, payouts gateway.Payouts, minWithdrawal int64, logger *zap.Logger) *WithdrawalManager {
	return &WithdrawalManager{
		db:            db,
		engine:        engine,
		payouts:       payouts,
		minWithdrawal: minWithdrawal,
		logger:        logger,
		now:           time.Now,
	}
}

// RequestWithdrawal records a PENDING withdrawal. The balance check here is
// advisory; money only moves on approval.
func (m *WithdrawalManager) RequestWithdrawal(ctx context.Context, userID uint64, in models.WithdrawalInput) (*models.Withdrawal, error) {
	if in.Amount < m.minWithdrawal {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, m.minWithdrawal)
	}
	if m.payouts == nil {
		return nil, ErrPayoutsUnavailable
	}

	db := m.db.WithContext(ctx)

	// 1. Balance
	var wallet models.Wallet
	if err := db.Where("user_id = ?", userID).Limit(1).Find(&wallet).Error; err != nil {
		return nil, err
	}
	if wallet.Balance < in.Amount {
		return nil, ErrInsufficientBalance
	}

	// 2. Bank account
	account, err := m.payouts.ResolveAccount(ctx, in.AccountNumber, in.BankCode)
	if err != nil {
		m.logger.Warn("Bank account resolution failed",
			zap.Uint64("user_id", userID), zap.String("bank_code", in.BankCode), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidBankAccount, err)
	}

	// 3. Reference
	reference, err := m.newReference(db)
	if err != nil {
		return nil, err
	}

	w := models.Withdrawal{
		UserID:        userID,
		Amount:        in.Amount,
		Status:        models.WithdrawalPending,
		Reference:     reference,
		BankName:      in.BankName,
		BankCode:      in.BankCode,
		AccountNumber: in.AccountNumber,
		AccountName:   account.AccountName,
	}
	if err := db.Create(&w).Error; err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	m.engine.metrics.WithdrawalTransition(models.WithdrawalPending)
	m.logger.Info("Withdrawal requested",
		zap.String("reference", reference), zap.Uint64("user_id", userID), zap.Int64("amount", in.Amount))
	return &w, nil
}

// newReference generates wd-YYYYMMDD-xxxxxxxx, retrying on collision.
func (m *WithdrawalManager) newReference(db *gorm.DB) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		ref := fmt.Sprintf("wd-%s-%s", m.now().Format("20060102"), suffix)

		var n int64
		if err := db.Model(&models.Withdrawal{}).Where("reference = ?", ref).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return ref, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique withdrawal reference after %d attempts", maxReferenceAttempts)
}

// ApproveWithdrawal debits the live balance and moves PENDING to APPROVED.
// With too little balance the withdrawal stays PENDING.
func (m *WithdrawalManager) ApproveWithdrawal(ctx context.Context, id, adminID uint64) (*models.Withdrawal, error) {
	var w *models.Withdrawal
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = newUnitOfWork(tx, "").lockWithdrawal("id = ?", id)
		if err != nil {
			return err
		}
		if w.Status != models.WithdrawalPending {
			return fmt.Errorf("withdrawal %s is %s: %w", w.Reference, w.Status, ErrStateConflict)
		}

		uow := newUnitOfWork(tx, w.Reference)
		if err := uow.Debit(Entry{
			UserID:      w.UserID,
			Type:        models.TxWithdrawal,
			Amount:      w.Amount,
			Description: fmt.Sprintf("Withdrawal %s to %s %s", w.Reference, w.BankName, maskAccount(w.AccountNumber)),
		}); err != nil {
			return err
		}

		now := m.now()
		if err := uow.transition(w, models.WithdrawalPending, models.WithdrawalApproved, map[string]interface{}{
			"processed_by": adminID,
			"processed_at": now,
		}); err != nil {
			return err
		}
		w.ProcessedBy, w.ProcessedAt = &adminID, &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.engine.metrics.WithdrawalTransition(models.WithdrawalApproved)
	m.logger.Info("Withdrawal approved", zap.String("reference", w.Reference), zap.Uint64("admin_id", adminID))
	m.engine.pushToUser(w.UserID, "Withdrawal approved",
		fmt.Sprintf("Your withdrawal %s was approved.", w.Reference),
		map[string]string{"type": "withdrawal_approved", "reference": w.Reference})
	return w, nil
}

// RejectWithdrawal closes a PENDING withdrawal. Nothing was debited.
func (m *WithdrawalManager) RejectWithdrawal(ctx context.Context, id, adminID uint64, reason string) (*models.Withdrawal, error) {
	var w *models.Withdrawal
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uow := newUnitOfWork(tx, "")

		var err error
		w, err = uow.lockWithdrawal("id = ?", id)
		if err != nil {
			return err
		}

		now := m.now()
		if err := uow.transition(w, models.WithdrawalPending, models.WithdrawalRejected, map[string]interface{}{
			"failure_reason": reason,
			"processed_by":   adminID,
			"processed_at":   now,
		}); err != nil {
			return err
		}
		w.FailureReason, w.ProcessedBy, w.ProcessedAt = reason, &adminID, &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.engine.metrics.WithdrawalTransition(models.WithdrawalRejected)
	m.logger.Info("Withdrawal rejected", zap.String("reference", w.Reference), zap.String("reason", reason))
	m.engine.pushToUser(w.UserID, "Withdrawal rejected", reason,
		map[string]string{"type": "withdrawal_rejected", "reference": w.Reference})
	return w, nil
}

// PayWithdrawal sends the money. A PENDING withdrawal is approved first.
// Money is only returned to the wallet when the provider definitely refused
// the transfer or reports it failed. When the outcome is unknown the
// withdrawal stays APPROVED and ErrPayoutUnconfirmed is returned; the
// transfer webhook or a later PayWithdrawal settles it.
func (m *WithdrawalManager) PayWithdrawal(ctx context.Context, id, adminID uint64) (*models.Withdrawal, error) {
	if m.payouts == nil {
		return nil, ErrPayoutsUnavailable
	}
	// runs to completion even if the admin disconnects
	ctx = context.WithoutCancel(ctx)

	w, err := m.withdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status == models.WithdrawalPending {
		if w, err = m.ApproveWithdrawal(ctx, id, adminID); err != nil {
			return nil, err
		}
	}
	if w.Status != models.WithdrawalApproved {
		return nil, fmt.Errorf("withdrawal %s is %s: %w", w.Reference, w.Status, ErrStateConflict)
	}

	log := m.logger.With(zap.String("reference", w.Reference))

	// 1. Recipient. A stored code means an earlier attempt got this far.
	attempted := w.RecipientCode != ""
	if !attempted {
		code, err := m.payouts.CreateTransferRecipient(ctx, w.AccountName, w.AccountNumber, w.BankCode)
		if err != nil {
			return nil, m.failPayout(ctx, w, "transfer recipient could not be created", err)
		}
		if err := m.db.WithContext(ctx).Model(&models.Withdrawal{}).
			Where("id = ?", w.ID).Update("recipient_code", code).Error; err != nil {
			return nil, err
		}
		w.RecipientCode = code
	}

	// 2. Never start a second transfer for a reference the provider knows
	if attempted {
		prior, err := m.payouts.VerifyTransfer(ctx, w.Reference)
		switch {
		case err == nil:
			log.Info("Resuming earlier transfer", zap.String("status", prior.Status))
			return m.settleTransfer(ctx, w, prior)
		case !gateway.IsNotFound(err):
			log.Warn("Earlier transfer could not be checked", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrPayoutUnconfirmed, err)
		}
	}

	// 3. Transfer
	transfer, err := m.payouts.InitiateTransfer(ctx, w.Amount, w.RecipientCode, w.Reference,
		fmt.Sprintf("Withdrawal %s", w.Reference))
	if err != nil {
		if gateway.IsRejection(err) {
			return nil, m.failPayout(ctx, w, "transfer rejected by provider", err)
		}
		log.Warn("Transfer outcome unknown, waiting for webhook", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPayoutUnconfirmed, err)
	}
	return m.settleTransfer(ctx, w, transfer)
}

// settleTransfer applies what the provider reported for a transfer.
func (m *WithdrawalManager) settleTransfer(ctx context.Context, w *models.Withdrawal, transfer *gateway.Transfer) (*models.Withdrawal, error) {
	switch {
	case transfer.Status == gateway.StatusSuccess:
		if err := m.engine.CompleteWithdrawal(ctx, w.Reference, transfer.TransferCode); err != nil {
			return nil, err
		}
	case gateway.TransferFailed(transfer.Status):
		return nil, m.failPayout(ctx, w, "transfer "+transfer.Status,
			fmt.Errorf("provider reported transfer %s", transfer.Status))
	default:
		m.logger.Info("Transfer awaiting confirmation",
			zap.String("reference", w.Reference), zap.String("status", transfer.Status))
		if transfer.TransferCode != "" {
			if err := m.db.WithContext(ctx).Model(&models.Withdrawal{}).
				Where("id = ? AND status = ?", w.ID, models.WithdrawalApproved).
				Update("transfer_code", transfer.TransferCode).Error; err != nil {
				m.logger.Warn("Failed to store transfer code", zap.String("reference", w.Reference), zap.Error(err))
			}
		}
	}
	return m.withdrawal(ctx, w.ID)
}

func (m *WithdrawalManager) failPayout(ctx context.Context, w *models.Withdrawal, reason string, cause error) error {
	m.logger.Error("Payout failed", zap.String("reference", w.Reference), zap.String("reason", reason), zap.Error(cause))
	if err := m.engine.ProcessRefund(ctx, w.Reference, reason); err != nil {
		return fmt.Errorf("%w: %v (refund: %v)", ErrPayoutFailed, cause, err)
	}
	return fmt.Errorf("%w: %v", ErrPayoutFailed, cause)
}

func (m *WithdrawalManager) withdrawal(ctx context.Context, id uint64) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := m.db.WithContext(ctx).First(&w, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("withdrawal %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &w, nil
}

// ListWithdrawals returns withdrawals, newest first, optionally by status.
func (m *WithdrawalManager) ListWithdrawals(ctx context.Context, status string) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	q := m.db.WithContext(ctx).Order("created_at desc, id desc")
	if status != "" {
		q = q.Where("status = ?", strings.ToUpper(status))
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (m *WithdrawalManager) UserWithdrawals(ctx context.Context, userID uint64) ([]models.Withdrawal, error) {
	var list []models.Withdrawal
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at desc, id desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Banks lists the banks the payout gateway can send to.
func (m *WithdrawalManager) Banks(ctx context.Context) ([]gateway.Bank, error) {
	if m.payouts == nil {
		return nil, ErrPayoutsUnavailable
	}
	return m.payouts.ListBanks(ctx)
}

func (m *WithdrawalManager) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.ResolvedAccount, error) {
	if m.payouts == nil {
		return nil, ErrPayoutsUnavailable
	}
	account, err := m.payouts.ResolveAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBankAccount, err)
	}
	return account, nil
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
