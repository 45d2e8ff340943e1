package models

import "time"

const OrderStatusCompleted = "COMPLETED"

// Order is written exactly once per payment reference. Failed charges never
// produce an order.
type Order struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	Reference  string    `gorm:"uniqueIndex;size:64;not null" json:"reference"`
	Amount     int64     `gorm:"not null" json:"amount"`
	Status     string    `gorm:"size:20;not null" json:"status"`
	BuyerID    uint64    `gorm:"not null;index" json:"buyer_id"`
	OwnerID    uint64    `gorm:"not null;index" json:"owner_id"`
	MaterialID uint64    `gorm:"not null;index" json:"material_id"`
	ExternalID *string   `gorm:"size:100" json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Material Material `gorm:"foreignKey:MaterialID" json:"material"`
}

// Checkout is the pending purchase intent created before the buyer is sent
// to the gateway. It carries the metadata for gateways that do not echo it.
type Checkout struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	Reference        string    `gorm:"uniqueIndex;size:64;not null" json:"reference"`
	BuyerID          uint64    `gorm:"not null;index" json:"buyer_id"`
	MaterialID       uint64    `gorm:"not null" json:"material_id"`
	ReferralCode     string    `gorm:"size:50" json:"referral_code,omitempty"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Provider         string    `gorm:"size:20;not null" json:"provider"`
	AuthorizationURL string    `gorm:"size:255" json:"authorization_url"`
	CreatedAt        time.Time `json:"created_at"`
}

type CreateCheckoutInput struct {
	MaterialID   uint64 `json:"material_id" binding:"required"`
	ReferralCode string `json:"referral_code"`
}
