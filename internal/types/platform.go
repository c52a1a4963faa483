package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Platform struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string           `gorm:"uniqueIndex;not null" json:"name"`
	BaseURL            string           `gorm:"column:base_url;not null" json:"base_url"`
	RateLimitPerMinute int              `gorm:"column:rate_limit_per_minute;not null;default:60" json:"rate_limit_per_minute"`
	AuthRequired       bool             `gorm:"column:auth_required;not null;default:false" json:"auth_required"`
	AuthToken          string           `gorm:"column:auth_token" json:"auth_token,omitempty"`
	IsActive           bool             `gorm:"column:is_active;not null;default:true" json:"is_active"`
	MetaData           datatypes.JSON   `gorm:"type:jsonb;column:meta_data" json:"meta_data,omitempty"`
	Actions            []PlatformAction `gorm:"constraint:OnDelete:CASCADE;foreignKey:PlatformID;references:ID" json:"actions,omitempty"`
	CreatedAt          time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"not null" json:"updated_at"`
}

func (Platform) TableName() string {
	return "platform"
}

func (m *Platform) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.RateLimitPerMinute < 1 {
		m.RateLimitPerMinute = 60
	}
	return nil
}
