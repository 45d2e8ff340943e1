package settlement

import (
	"context"
	"errors"
	"fmt"

	"materials-backend/internal/models"

	"gorm.io/gorm"
)

// Wallet returns the user's wallet with its most recent ledger rows. A user
// who never earned anything gets an empty wallet rather than an error.
func (e *Engine) Wallet(ctx context.Context, userID uint64, recent int) (*models.Wallet, error) {
	var wallet models.Wallet
	q := e.db.WithContext(ctx)
	if recent > 0 {
		q = q.Preload("Transactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at desc, id desc").Limit(recent)
		})
	}
	err := q.Where("user_id = ?", userID).Limit(1).Find(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		wallet = models.Wallet{UserID: userID, Transactions: []models.Transaction{}}
	}
	return &wallet, nil
}

// Orders lists a buyer's orders, newest first.
func (e *Engine) Orders(ctx context.Context, buyerID uint64) ([]models.Order, error) {
	var orders []models.Order
	if err := e.db.WithContext(ctx).Preload("Material").
		Where("buyer_id = ?", buyerID).
		Order("created_at desc, id desc").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// Order looks up a buyer's order by payment reference.
func (e *Engine) Order(ctx context.Context, buyerID uint64, reference string) (*models.Order, error) {
	var order models.Order
	err := e.db.WithContext(ctx).Preload("Material").
		Where("reference = ? AND buyer_id = ?", reference, buyerID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Library returns the materials a user has bought.
func (e *Engine) Library(ctx context.Context, userID uint64) ([]models.Material, error) {
	user := models.User{ID: userID}
	var materials []models.Material
	if err := e.db.WithContext(ctx).Model(&user).Association("OwnedMaterials").Find(&materials); err != nil {
		return nil, err
	}
	return materials, nil
}

// Owns reports whether the user has access to the material.
func (e *Engine) Owns(ctx context.Context, userID, materialID uint64) (bool, error) {
	var n int64
	err := e.db.WithContext(ctx).Table("user_materials").
		Where("user_id = ? AND material_id = ?", userID, materialID).Count(&n).Error
	return n > 0, err
}
