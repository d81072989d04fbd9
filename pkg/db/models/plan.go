package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a seeded catalog entry; MinutesIncluded drives ledger resets.
type Plan struct {
	ID              string          `gorm:"column:id;primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	MinutesIncluded int             `gorm:"column:minutes_included;not null"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency        string          `gorm:"column:currency;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
