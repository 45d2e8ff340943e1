package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Material struct {
	ID      uint64 `gorm:"primaryKey" json:"id"`
	Title   string `gorm:"size:200;not null" json:"title"`
	Price   int64  `gorm:"not null" json:"price"` // minor units
	OwnerID uint64 `gorm:"not null;index" json:"owner_id"`

	CoAuthorID       *uint64 `gorm:"index" json:"co_author_id,omitempty"`
	CoAuthorAccepted bool    `gorm:"default:false" json:"co_author_accepted"`
	// EquityPercent is only honoured once the co-author accepted.
	EquityPercent   decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"equity_percent"`
	ReferralPercent decimal.NullDecimal `gorm:"type:decimal(5,2)" json:"referral_percent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EquityShare returns the co-author and percentage entitled to equity, if any.
func (m *Material) EquityShare() (uint64, decimal.Decimal, bool) {
	if m.CoAuthorID == nil || !m.CoAuthorAccepted || !m.EquityPercent.Valid {
		return 0, decimal.Zero, false
	}
	if !m.EquityPercent.Decimal.IsPositive() {
		return 0, decimal.Zero, false
	}
	return *m.CoAuthorID, m.EquityPercent.Decimal, true
}
