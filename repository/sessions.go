package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/interview-engine/models"
	"gorm.io/gorm"
)

func (r *GORMRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create session", "error", err, "user_id", session.UserID)
		return fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("Session created", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

// GetSession gets a session by ID without an ownership check
func (r *GORMRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// GetUserSession gets a session only if it is owned by userID
func (r *GORMRepository) GetUserSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user session", "error", err, "session_id", sessionID, "user_id", userID)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// GetSessionVersion returns the session's updated_at, or nil if the user
// owns no such session.
func (r *GORMRepository) GetSessionVersion(ctx context.Context, sessionID, userID string) (*time.Time, error) {
	var row struct {
		UpdatedAt time.Time
	}
	err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Select("updated_at").
		Where("id = ? AND user_id = ?", sessionID, userID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get session version", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get session version: %w", err)
	}
	return &row.UpdatedAt, nil
}

func (r *GORMRepository) ListUserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&sessions).Error; err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionIfStatus applies updates only while the session is still in
// status from. It returns false when the row was not in that status (or does
// not exist), in which case nothing was written.
func (r *GORMRepository) UpdateSessionIfStatus(ctx context.Context, sessionID, userID string, from models.SessionStatus, updates map[string]interface{}) (bool, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND user_id = ? AND status = ?", sessionID, userID, from).
		Updates(updates)
	if res.Error != nil {
		slog.Error("Failed to update session", "error", res.Error, "session_id", sessionID, "from", from)
		return false, fmt.Errorf("failed to update session: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteSessionIfStatus removes the session row if it is still in one of statuses.
func (r *GORMRepository) DeleteSessionIfStatus(ctx context.Context, sessionID, userID string, statuses ...models.SessionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status IN ?", sessionID, userID, statuses).
		Delete(&models.Session{})
	if res.Error != nil {
		slog.Error("Failed to delete session", "error", res.Error, "session_id", sessionID)
		return false, fmt.Errorf("failed to delete session: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
