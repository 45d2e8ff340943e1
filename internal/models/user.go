package models

import (
	"time"

	"gorm.io/gorm"
)

// Role IDs carried in the JWT claims.
const (
	RoleAdmin   uint = 1
	RoleFinance uint = 2
	RoleAuthor  uint = 3
	RoleBuyer   uint = 4
)

// User is the identity a buyer or payee resolves to. Accounts are issued
// elsewhere; this service only reads them and records owned materials.
type User struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	RoleID    uint           `gorm:"not null" json:"role_id"`
	FullName  string         `gorm:"size:100;not null" json:"full_name"`
	Email     string         `gorm:"uniqueIndex;size:100;not null" json:"email"`
	FCMToken  string         `gorm:"size:255" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Materials the user bought (grants download access)
	OwnedMaterials []Material `gorm:"many2many:user_materials;" json:"owned_materials,omitempty"`
}
