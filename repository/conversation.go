package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/krshsl/interview-engine/models"
)

// SaveMessage saves a transcript message
func (r *GORMRepository) SaveMessage(ctx context.Context, message *models.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to save message", "error", err, "session_id", message.SessionID)
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetMessagesBySession retrieves all messages for a specific session
func (r *GORMRepository) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message

	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		slog.Error("Failed to get messages by session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get messages by session: %w", err)
	}

	return messages, nil
}

// DeleteSessionMessages deletes the transcript of a session
func (r *GORMRepository) DeleteSessionMessages(ctx context.Context, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.Message{})
	if res.Error != nil {
		slog.Error("Failed to delete session messages", "error", res.Error, "session_id", sessionID)
		return 0, fmt.Errorf("failed to delete session messages: %w", res.Error)
	}

	slog.Info("Session messages deleted", "session_id", sessionID, "count", res.RowsAffected)
	return res.RowsAffected, nil
}
