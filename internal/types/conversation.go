package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ConversationStatusActive      = "active"
	ConversationStatusEnded       = "ended"
	ConversationStatusPaused      = "paused"
	ConversationStatusTransferred = "transferred"
)

type Conversation struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;uniqueIndex;not null" json:"conversation_id"`
	BotID          uuid.UUID      `gorm:"type:uuid;column:bot_id;index;not null" json:"bot_id"`
	Bot            *Bot           `gorm:"foreignKey:BotID;references:ID" json:"bot,omitempty"`
	Status         string         `gorm:"not null;default:active" json:"status"`
	Context        datatypes.JSON `gorm:"type:jsonb" json:"context,omitempty"`
	History        string         `gorm:"type:text" json:"history"`
	MessageCount   int            `gorm:"column:message_count;not null;default:0" json:"message_count"`
	Messages       []Message      `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConversationRef;references:ID" json:"messages,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversation"
}

func (m *Conversation) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = ConversationStatusActive
	}
	return nil
}

func ValidConversationStatus(s string) bool {
	switch s {
	case ConversationStatusActive, ConversationStatusEnded, ConversationStatusPaused, ConversationStatusTransferred:
		return true
	}
	return false
}
