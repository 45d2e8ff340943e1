package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"materials-backend/internal/gateway"
	"materials-backend/internal/models"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Checkouts starts purchases: it validates the intent, opens a charge with
// the gateway and remembers what the charge is for.
type Checkouts struct {
	db          *gorm.DB
	gateway     gateway.Client
	engine      *Engine
	provider    string
	callbackURL string
	logger      *zap.Logger
}

func NewCheckouts(db *gorm.DB, gw gateway.Client, engine *Engine, provider, callbackURL string, logger *zap.Logger) *Checkouts {
	return &Checkouts{
		db:          db,
		gateway:     gw,
		engine:      engine,
		provider:    provider,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// NewPaymentReference returns a unique, gateway-safe payment reference.
func NewPaymentReference() string {
	return "pay_" + strings.ToLower(ulid.Make().String())
}

func (c *Checkouts) Create(ctx context.Context, buyerID uint64, in models.CreateCheckoutInput) (*models.Checkout, error) {
	db := c.db.WithContext(ctx)

	// 1. Buyer and material
	var buyer models.User
	if err := db.First(&buyer, buyerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("buyer %d: %w", buyerID, ErrNotFound)
		}
		return nil, err
	}
	var material models.Material
	if err := db.First(&material, in.MaterialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("material %d: %w", in.MaterialID, ErrNotFound)
		}
		return nil, err
	}

	// 2. Already has access?
	if material.OwnerID == buyerID {
		return nil, ErrAlreadyOwned
	}
	owned, err := c.engine.Owns(ctx, buyerID, material.ID)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, ErrAlreadyOwned
	}

	// 3. Referral code must belong to this material and to someone else
	code := strings.TrimSpace(in.ReferralCode)
	if code != "" {
		var referral models.ReferralCode
		if err := db.Where("code = ?", code).Limit(1).Find(&referral).Error; err != nil {
			return nil, err
		}
		if referral.ID == 0 || referral.MaterialID != material.ID || referral.ReferrerID == buyerID {
			return nil, ErrInvalidReferral
		}
	}

	// 4. Open the charge
	reference := NewPaymentReference()
	charge, err := c.gateway.InitializeTransaction(ctx, gateway.InitializeRequest{
		Reference:   reference,
		Email:       buyer.Email,
		FullName:    buyer.FullName,
		Amount:      material.Price,
		ItemID:      strconv.FormatUint(material.ID, 10),
		ItemName:    material.Title,
		CallbackURL: c.callbackURL,
		Metadata: gateway.Metadata{
			MaterialID:   material.ID,
			UserID:       buyerID,
			ReferralCode: code,
		},
	})
	if err != nil {
		c.logger.Error("Checkout initialization failed", zap.String("reference", reference), zap.Error(err))
		return nil, err
	}

	checkout := models.Checkout{
		Reference:        reference,
		BuyerID:          buyerID,
		MaterialID:       material.ID,
		ReferralCode:     code,
		Amount:           material.Price,
		Provider:         c.provider,
		AuthorizationURL: charge.AuthorizationURL,
	}
	if err := db.Create(&checkout).Error; err != nil {
		return nil, fmt.Errorf("save checkout: %w", err)
	}

	c.logger.Info("Checkout created",
		zap.String("reference", reference), zap.Uint64("material_id", material.ID), zap.Uint64("buyer_id", buyerID))
	return &checkout, nil
}

// CheckoutMetadata resolves charge metadata from the stored checkout, for
// gateways that do not echo custom metadata back on verification.
func CheckoutMetadata(db *gorm.DB) gateway.MetadataLookup {
	return func(ctx context.Context, reference string) (gateway.Metadata, error) {
		var checkout models.Checkout
		err := db.WithContext(ctx).Where("reference = ?", reference).First(&checkout).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gateway.Metadata{}, fmt.Errorf("%w: no checkout for %s", gateway.ErrInvalidMetadata, reference)
		}
		if err != nil {
			return gateway.Metadata{}, err
		}
		return gateway.Metadata{
			MaterialID:   checkout.MaterialID,
			UserID:       checkout.BuyerID,
			ReferralCode: checkout.ReferralCode,
		}, nil
	}
}

// Get returns a buyer's checkout by reference.
func (c *Checkouts) Get(ctx context.Context, buyerID uint64, reference string) (*models.Checkout, error) {
	var checkout models.Checkout
	err := c.db.WithContext(ctx).
		Where("reference = ? AND buyer_id = ?", reference, buyerID).First(&checkout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checkout %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}
