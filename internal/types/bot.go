package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Bot struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	Language   string    `gorm:"not null;default:vi" json:"language"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CoreAIID   uuid.UUID `gorm:"type:uuid;column:core_ai_id;index;not null" json:"core_ai_id"`
	CoreAI     *CoreAI   `gorm:"foreignKey:CoreAIID;references:ID" json:"core_ai,omitempty"`
	PlatformID uuid.UUID `gorm:"type:uuid;column:platform_id;index;not null" json:"platform_id"`
	Platform   *Platform `gorm:"foreignKey:PlatformID;references:ID" json:"platform,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Bot) TableName() string {
	return "bot"
}

func (m *Bot) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Language == "" {
		m.Language = "vi"
	}
	return nil
}

// Ready reports whether the bot and both of its referenced configs are active.
// Preloaded associations are required; missing ones count as not ready.
func (m *Bot) Ready() bool {
	if m == nil || !m.IsActive {
		return false
	}
	if m.CoreAI == nil || !m.CoreAI.IsActive {
		return false
	}
	if m.Platform == nil || !m.Platform.IsActive {
		return false
	}
	return true
}
