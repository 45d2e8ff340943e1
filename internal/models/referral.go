package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReferralCode struct {
	ID                uint64          `gorm:"primaryKey" json:"id"`
	Code              string          `gorm:"uniqueIndex;size:50;not null" json:"code"`
	MaterialID        uint64          `gorm:"not null;index" json:"material_id"`
	ReferrerID        uint64          `gorm:"not null;index" json:"referrer_id"`
	CommissionPercent decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"commission_percent"`
	UsageCount        int64           `gorm:"default:0" json:"usage_count"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
