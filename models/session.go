package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// sessionTransitions is the only place legal status changes are defined.
// created -> active must go through paid activation.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionCreated: {SessionActive, SessionCancelled},
	SessionActive:  {SessionPaused, SessionCompleted, SessionCancelled},
	SessionPaused:  {SessionActive, SessionCompleted, SessionCancelled},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionActive, SessionPaused, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Session is one interview attempt. Status only changes through the session service.
type Session struct {
	ID               string            `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           string            `gorm:"type:uuid;not null;index" json:"user_id"`
	Status           SessionStatus     `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	JobTitle         string            `gorm:"size:255" json:"job_title"`
	Company          string            `gorm:"size:255" json:"company,omitempty"`
	JobDescription   string            `gorm:"type:text" json:"job_description,omitempty"`
	InterviewType    string            `gorm:"size:50" json:"interview_type,omitempty"`
	Difficulty       string            `gorm:"size:50" json:"difficulty,omitempty"`
	DurationMinutes  int               `json:"duration_minutes"`
	Params           datatypes.JSONMap `json:"params,omitempty"`
	ResumeID         *string           `gorm:"type:uuid;index" json:"resume_id,omitempty"`
	DesktopConnected bool              `gorm:"not null;default:false" json:"desktop_connected"`
	DesktopInfo      datatypes.JSONMap `json:"desktop_info,omitempty"`
	Notes            string            `gorm:"type:text" json:"notes,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// Relationships
	User     *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Messages []Message `gorm:"foreignKey:SessionID" json:"messages,omitempty"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
