package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a single transcript entry of a session
type Message struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:uuid;not null;index"`
	SessionID string    `json:"session_id" gorm:"type:uuid;not null;index"`
	Role      string    `json:"role" gorm:"type:varchar(20);not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// TableName returns the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
