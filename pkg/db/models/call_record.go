package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CallRecord is an immutable completed call. Only ArchivedRecordingURL is
// written after insert. MinutesRemainingAfter and AgentEnabledAfter hold the
// ledger state the call produced so redeliveries can replay it.
type CallRecord struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	AccountID             uuid.UUID       `gorm:"column:account_id;type:uuid;not null;index"`
	ProviderCallID        string          `gorm:"column:provider_call_id;not null;uniqueIndex"`
	CallerName            string          `gorm:"column:caller_name"`
	CallerNumber          string          `gorm:"column:caller_number"`
	StartedAt             *time.Time      `gorm:"column:started_at"`
	EndedAt               *time.Time      `gorm:"column:ended_at"`
	DurationSeconds       int             `gorm:"column:duration_seconds;not null;default:0"`
	BilledMinutes         int             `gorm:"column:billed_minutes;not null;default:0"`
	Transcript            string          `gorm:"column:transcript"`
	Summary               string          `gorm:"column:summary"`
	RecordingURL          *string         `gorm:"column:recording_url"`
	ArchivedRecordingURL  *string         `gorm:"column:archived_recording_url"`
	ProviderCost          decimal.Decimal `gorm:"column:provider_cost;type:numeric(12,4);not null"`
	MinutesRemainingAfter int             `gorm:"column:minutes_remaining_after;not null;default:0"`
	AgentEnabledAfter     bool            `gorm:"column:agent_enabled_after;not null;default:false"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (CallRecord) TableName() string { return "calls" }

func (c *CallRecord) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
