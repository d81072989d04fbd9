package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// Subscription records a plan purchase keyed by the PayPal order id.
type Subscription struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	AccountID       uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	PlanID          string                   `gorm:"column:plan_id;not null"`
	ExternalOrderID string                   `gorm:"column:external_order_id;not null;uniqueIndex"`
	Status          enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	ActivatedAt     *time.Time               `gorm:"column:activated_at"`
	RenewalDate     *time.Time               `gorm:"column:renewal_date"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
