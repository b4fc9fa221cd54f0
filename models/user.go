package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User owns sessions, credit transactions and payments. Users are deactivated, never deleted.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"size:255" json:"-"` // Hashed password (excluded from JSON)
	FullName  string    `gorm:"size:255" json:"full_name,omitempty"`
	Role      string    `gorm:"default:'user'" json:"role"`
	Credits   int       `gorm:"not null;default:0" json:"credits"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Sessions      []Session      `gorm:"foreignKey:UserID" json:"sessions,omitempty"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"refresh_tokens,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

type RefreshToken struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// Resume is only referenced by sessions; uploads are handled elsewhere.
type Resume struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	FileName  string    `gorm:"size:255" json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Resume) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
