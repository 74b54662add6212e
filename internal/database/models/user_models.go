package models

import (
	"time"

	"invictos-system/internal/lockout"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

type User struct {
	ID      string `gorm:"primaryKey;size:36"`
	Name    string `gorm:"not null"`
	Role    string `gorm:"type:varchar(16);not null;default:'seller'"`
	PinHash string `gorm:"not null"`
	// CommissionRate overrides the global rate when set; nil means the
	// store-wide default applies.
	CommissionRate *string       `gorm:"type:decimal(5,2)"`
	Security       lockout.State `gorm:"embedded"`
	// SecurityVersion guards the lockout read-modify-write against
	// concurrent login attempts for the same account.
	SecurityVersion int64 `gorm:"not null;default:0"`
	LastLogin       *time.Time
	CreatedAt       *time.Time `gorm:"autoCreateTime"`
	UpdatedAt       *time.Time `gorm:"autoUpdateTime"`
}

// StoreConfig is a single-row table holding store-wide settings.
type StoreConfig struct {
	ID                   int32      `gorm:"primaryKey"`
	GlobalCommissionRate string     `gorm:"type:decimal(5,2);not null"`
	UpdatedAt            *time.Time `gorm:"autoUpdateTime"`
}
