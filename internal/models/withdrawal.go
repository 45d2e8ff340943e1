package models

import "time"

const (
	WithdrawalPending  = "PENDING"
	WithdrawalApproved = "APPROVED"
	WithdrawalPaid     = "PAID"
	WithdrawalRejected = "REJECTED"
	WithdrawalFailed   = "FAILED"
)

type Withdrawal struct {
	ID            uint64     `gorm:"primaryKey" json:"id"`
	UserID        uint64     `gorm:"not null;index" json:"user_id"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	Reference     string     `gorm:"uniqueIndex;size:32;not null" json:"reference"`
	BankName      string     `gorm:"size:100" json:"bank_name"`
	BankCode      string     `gorm:"size:20;not null" json:"bank_code"`
	AccountNumber string     `gorm:"size:30;not null" json:"account_number"`
	AccountName   string     `gorm:"size:150" json:"account_name"`
	RecipientCode string     `gorm:"size:64" json:"-"`
	TransferCode  *string    `gorm:"size:64" json:"transfer_code,omitempty"`
	FailureReason string     `gorm:"size:255" json:"failure_reason,omitempty"`
	ProcessedBy   *uint64    `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type WithdrawalInput struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	BankCode      string `json:"bank_code" binding:"required"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number" binding:"required,numeric,min=6,max=20"`
}

type RejectWithdrawalInput struct {
	Reason string `json:"reason" binding:"required"`
}

// All returns every model the service migrates.
func All() []interface{} {
	return []interface{}{
		&User{}, &Material{}, &ReferralCode{}, &Order{}, &Checkout{},
		&Wallet{}, &Transaction{}, &Withdrawal{},
	}
}
