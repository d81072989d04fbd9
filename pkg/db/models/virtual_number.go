package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// VirtualNumber is a pooled telephony number. AssignedUserID is exclusive.
type VirtualNumber struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PhoneNumber    string             `gorm:"column:phone_number;not null;uniqueIndex"`
	Country        string             `gorm:"column:country;not null"`
	CountryCode    string             `gorm:"column:country_code;not null;index"`
	Provider       string             `gorm:"column:provider;not null"`
	Status         enums.NumberStatus `gorm:"column:status;type:text;not null;default:'active'"`
	AssignedUserID *uuid.UUID         `gorm:"column:assigned_user_id;type:uuid;uniqueIndex"`
	AssignedAt     *time.Time         `gorm:"column:assigned_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *VirtualNumber) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
