package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageRoleUser = "user"
	MessageRoleBot  = "bot"
	MessageRoleSale = "sale"
)

type Message struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationRef uuid.UUID `gorm:"type:uuid;column:conversation_ref;index;not null" json:"conversation_ref"`
	Role            string    `gorm:"not null" json:"role"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	ContentType     string    `gorm:"column:content_type;not null;default:text/plain" json:"content_type"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Message) TableName() string {
	return "message"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ContentType == "" {
		m.ContentType = "text/plain"
	}
	return nil
}
