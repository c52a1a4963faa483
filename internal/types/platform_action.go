package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PlatformAction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlatformID uuid.UUID `gorm:"type:uuid;index;not null" json:"platform_id"`
	Name       string    `gorm:"not null" json:"name"`
	Method     string    `gorm:"not null;default:POST" json:"method"`
	Path       string    `gorm:"not null" json:"path"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (PlatformAction) TableName() string {
	return "platform_action"
}

func (m *PlatformAction) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
