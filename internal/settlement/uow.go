package settlement

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"materials-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnitOfWork carries one database transaction through the steps of a
// settlement. Every wallet mutation goes through Credit or Debit so it is
// always paired with exactly one ledger row.
type UnitOfWork struct {
	tx        *gorm.DB
	reference string
}

func newUnitOfWork(tx *gorm.DB, reference string) *UnitOfWork {
	return &UnitOfWork{tx: tx, reference: reference}
}

// Entry is a single ledger movement.
type Entry struct {
	UserID      uint64
	Type        string
	Amount      int64
	MaterialID  *uint64
	OrderID     *uint64
	Description string
}

// lockReference serializes settlements of one reference across processes.
// Only Postgres offers transaction scoped advisory locks; elsewhere the
// unique index on orders.reference is the backstop.
func (u *UnitOfWork) lockReference() error {
	if u.tx.Dialector.Name() != "postgres" {
		return nil
	}
	return u.tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", u.reference).Error
}

// wallet returns the user's wallet row locked for update, creating it on
// first use.
func (u *UnitOfWork) wallet(userID uint64) (*models.Wallet, error) {
	var w models.Wallet
	locked := u.tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Limit(1)
	if err := locked.Find(&w).Error; err != nil {
		return nil, fmt.Errorf("lock wallet for user %d: %w", userID, err)
	}
	if w.ID != 0 {
		return &w, nil
	}

	if err := u.tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Wallet{UserID: userID}).Error; err != nil {
		return nil, fmt.Errorf("create wallet for user %d: %w", userID, err)
	}
	if err := u.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, fmt.Errorf("lock wallet for user %d: %w", userID, err)
	}
	return &w, nil
}

// CreditAll applies credits in user order so concurrent settlements touching
// the same payees take row locks in the same sequence.
func (u *UnitOfWork) CreditAll(entries []Entry) error {
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Amount > 0 {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	for _, e := range sorted {
		if err := u.Credit(e); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) Credit(e Entry) error {
	w, err := u.wallet(e.UserID)
	if err != nil {
		return err
	}

	res := u.tx.Model(&models.Wallet{}).Where("id = ?", w.ID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", e.Amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("credit wallet %d: %w", w.ID, res.Error)
	}
	return u.record(w.ID, e)
}

// Debit takes money out only if the live balance covers it.
func (u *UnitOfWork) Debit(e Entry) error {
	w, err := u.wallet(e.UserID)
	if err != nil {
		return err
	}

	res := u.tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", w.ID, e.Amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", e.Amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("debit wallet %d: %w", w.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return u.record(w.ID, e)
}

func (u *UnitOfWork) record(walletID uint64, e Entry) error {
	row := models.Transaction{
		WalletID:    walletID,
		UserID:      e.UserID,
		Type:        e.Type,
		Amount:      e.Amount,
		MaterialID:  e.MaterialID,
		OrderID:     e.OrderID,
		Reference:   u.reference,
		Description: e.Description,
	}
	if err := u.tx.Create(&row).Error; err != nil {
		return fmt.Errorf("record %s transaction: %w", e.Type, err)
	}
	return nil
}

// findOrder returns the order for the unit's reference, or nil.
func (u *UnitOfWork) findOrder() (*models.Order, error) {
	return findOrderByReference(u.tx, u.reference)
}

func findOrderByReference(db *gorm.DB, reference string) (*models.Order, error) {
	var order models.Order
	err := db.Where("reference = ?", reference).Limit(1).Find(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

// grantAccess records that the buyer owns the material.
func (u *UnitOfWork) grantAccess(userID, materialID uint64) error {
	var n int64
	if err := u.tx.Table("user_materials").
		Where("user_id = ? AND material_id = ?", userID, materialID).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return u.tx.Exec("INSERT INTO user_materials (user_id, material_id) VALUES (?, ?)",
		userID, materialID).Error
}

// lockWithdrawal loads a withdrawal by reference or id with a row lock.
func (u *UnitOfWork) lockWithdrawal(query string, arg interface{}) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := u.tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, arg).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("withdrawal %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// transition moves a withdrawal from one status to another. It fails with
// ErrStateConflict when the row is no longer in the expected status.
func (u *UnitOfWork) transition(w *models.Withdrawal, from, to string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to, "updated_at": time.Now()}
	for k, v := range extra {
		updates[k] = v
	}

	res := u.tx.Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("withdrawal %s %s -> %s: %w", w.Reference, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("withdrawal %s is not %s: %w", w.Reference, from, ErrStateConflict)
	}
	w.Status = to
	return nil
}
