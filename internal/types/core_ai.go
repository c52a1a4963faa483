package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CoreAI struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string         `gorm:"uniqueIndex;not null" json:"name"`
	APIEndpoint    string         `gorm:"column:api_endpoint;not null" json:"api_endpoint"`
	AuthRequired   bool           `gorm:"column:auth_required;not null;default:false" json:"auth_required"`
	AuthToken      string         `gorm:"column:auth_token" json:"auth_token,omitempty"`
	TimeoutSeconds int            `gorm:"column:timeout_seconds;not null;default:30" json:"timeout_seconds"`
	IsActive       bool           `gorm:"column:is_active;not null;default:true" json:"is_active"`
	MetaData       datatypes.JSON `gorm:"type:jsonb;column:meta_data" json:"meta_data,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (CoreAI) TableName() string {
	return "core_ai"
}

func (m *CoreAI) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.TimeoutSeconds < 1 {
		m.TimeoutSeconds = 30
	}
	return nil
}
