package models

import "time"

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

// Sale is an immutable record of one completed transaction. Only the
// commission payout fields are mutated after creation. SellerName is
// denormalized on purpose: history must render correctly even after the
// account is renamed or deleted.
type Sale struct {
	ID             string    `gorm:"primaryKey;size:36"`
	Timestamp      time.Time `gorm:"index;not null"`
	SellerID       string    `gorm:"index;size:36;not null"`
	SellerName     string    `gorm:"type:varchar(128);not null"`
	Subtotal       string    `gorm:"type:decimal(18,2);not null"`
	DiscountAmount string    `gorm:"type:decimal(18,2);not null"`
	Total          string    `gorm:"type:decimal(18,2);not null"`
	PaymentMethod  string    `gorm:"type:varchar(16);not null"`

	CommissionPaid   bool `gorm:"not null;default:false;index"`
	CommissionPaidAt *time.Time

	CreatedAt time.Time

	Items []SaleItem `gorm:"foreignKey:SaleID"`
}

// SaleItem is one product line within a sale. CommissionAmount is computed
// and frozen at sale time; rate or config changes never alter it.
type SaleItem struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	SaleID          string `gorm:"index;size:36;not null"`
	ProductID       string `gorm:"size:36;not null"`
	ProductName     string `gorm:"type:varchar(128);not null"`
	Quantity        int32  `gorm:"not null"`
	UnitPriceAtSale string `gorm:"type:decimal(18,2);not null"`
	LineSubtotal    string `gorm:"type:decimal(18,2);not null"`
	CommissionAmount string `gorm:"type:decimal(18,2);not null"`
	CreatedAt       time.Time
}
