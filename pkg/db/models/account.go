package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the per-subscriber quota ledger. The id matches the auth
// service's user id.
type Account struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	PhoneNumber       string     `gorm:"column:phone_number;not null"`
	CountryCode       string     `gorm:"column:country_code;not null"`
	PlanID            string     `gorm:"column:plan_id;not null"`
	MinutesIncluded   int        `gorm:"column:minutes_included;not null;default:0"`
	MinutesRemaining  int        `gorm:"column:minutes_remaining;not null;default:0;check:minutes_remaining >= 0"`
	MinutesConsumed   int        `gorm:"column:minutes_consumed;not null;default:0"`
	VoiceAgentEnabled bool       `gorm:"column:voice_agent_enabled;not null;default:false"`
	VirtualNumberID   *uuid.UUID `gorm:"column:virtual_number_id;type:uuid"`
	RenewalDate       *time.Time `gorm:"column:renewal_date"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
