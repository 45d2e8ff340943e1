package models

import "time"

// Ledger transaction types.
const (
	TxSale               = "SALE"
	TxReferralCommission = "REFERRAL_COMMISSION"
	TxEquityPayment      = "EQUITY_PAYMENT"
	TxWithdrawal         = "WITHDRAWAL"
	TxRefund             = "REFUND"
)

type Wallet struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	UserID    uint64    `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`

	// Ledger history (preloaded on demand)
	Transactions []Transaction `gorm:"foreignKey:WalletID" json:"transactions,omitempty"`
}

// Transaction is an append-only ledger row. Positive amounts only; the type
// tells the direction.
type Transaction struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	WalletID    uint64    `gorm:"not null;index" json:"wallet_id"`
	UserID      uint64    `gorm:"not null;index" json:"user_id"`
	Type        string    `gorm:"size:30;not null;index" json:"type"`
	Amount      int64     `gorm:"not null" json:"amount"`
	MaterialID  *uint64   `json:"material_id,omitempty"`
	OrderID     *uint64   `gorm:"index" json:"order_id,omitempty"`
	Reference   string    `gorm:"size:64;index" json:"reference"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
