package models

import "time"

type Product struct {
	ID          string  `gorm:"primaryKey;size:36"`
	Code        string  `gorm:"type:varchar(32);uniqueIndex;not null"`
	Name        string  `gorm:"type:varchar(128);not null"`
	Category    string  `gorm:"type:varchar(64);index;not null"`
	Provider    string  `gorm:"type:varchar(128);not null"`
	Price       string  `gorm:"type:decimal(18,2);not null"`
	Cost        string  `gorm:"type:decimal(18,2);not null"`
	Stock       int32   `gorm:"not null;default:0"`
	Description *string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Category struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"type:varchar(64);uniqueIndex;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        string  `gorm:"primaryKey;size:36"`
	Name      string  `gorm:"type:varchar(128);not null"`
	Contact   *string `gorm:"type:varchar(128)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
