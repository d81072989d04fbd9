package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// Payment tracks the capture backing a Subscription.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	AccountID       uuid.UUID           `gorm:"column:account_id;type:uuid;not null;index"`
	SubscriptionID  uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	ExternalOrderID string              `gorm:"column:external_order_id;not null"`
	CaptureID       *string             `gorm:"column:capture_id"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string              `gorm:"column:currency;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	CompletedAt     *time.Time          `gorm:"column:completed_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
