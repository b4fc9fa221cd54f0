package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
)

// PairingTokenTTL bounds how long a desktop pairing token can be redeemed.
const PairingTokenTTL = 10 * time.Minute

type pairingRecord struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func pairingTokenKey(token string) string {
	return "desktop_temp_token:" + token
}

func pairingSessionKey(sessionID string) string {
	return "desktop_temp_token_session:" + sessionID
}

// PairingBroker lets a desktop client that holds no user credentials
// activate a session with a short-lived single-use token.
type PairingBroker struct {
	repo     *repository.GORMRepository
	store    cache.Store
	sessions *SessionService
	ttl      time.Duration
	now      func() time.Time
}

func NewPairingBroker(repo *repository.GORMRepository, store cache.Store, sessions *SessionService) *PairingBroker {
	return &PairingBroker{
		repo:     repo,
		store:    store,
		sessions: sessions,
		ttl:      PairingTokenTTL,
		now:      time.Now,
	}
}

// IssuePairingToken mints a token for a created session. Issuing again
// revokes the previous token.
func (b *PairingBroker) IssuePairingToken(ctx context.Context, sessionID, userID string) (string, time.Time, error) {
	session, err := b.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if session == nil {
		return "", time.Time{}, errSessionNotFound()
	}
	if session.Status != models.SessionCreated {
		return "", time.Time{}, errInvalidStatus(session.Status, "desktop pairing is only possible before the session starts")
	}

	token, err := generateSecureToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate pairing token: %w", err)
	}

	now := b.now().UTC()
	record := pairingRecord{
		Token:     token,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}

	revokePairingToken(ctx, b.store, sessionID)
	if err := b.store.SetJSON(ctx, pairingTokenKey(token), record, b.ttl); err != nil {
		slog.Error("Failed to store pairing token", "error", err, "session_id", sessionID)
		return "", time.Time{}, fmt.Errorf("failed to store pairing token: %w", err)
	}
	if err := b.store.Set(ctx, pairingSessionKey(sessionID), token, b.ttl); err != nil {
		slog.Warn("Failed to index pairing token", "error", err, "session_id", sessionID)
	}

	slog.Info("Pairing token issued", "session_id", sessionID, "user_id", userID, "expires_at", record.ExpiresAt)
	return token, record.ExpiresAt, nil
}

// RedeemPairingToken activates the session on behalf of the token's owner.
// The token is consumed only when activation succeeds.
func (b *PairingBroker) RedeemPairingToken(ctx context.Context, sessionID, token string, desktopInfo map[string]interface{}) (*models.Session, int, error) {
	if token == "" {
		return nil, 0, errInvalidTempToken()
	}

	var record pairingRecord
	if err := b.store.GetJSON(ctx, pairingTokenKey(token), &record); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, 0, errInvalidTempToken()
		}
		slog.Error("Failed to read pairing token", "error", err, "session_id", sessionID)
		return nil, 0, fmt.Errorf("failed to read pairing token: %w", err)
	}
	if !b.now().Before(record.ExpiresAt) {
		return nil, 0, errTempTokenExpired()
	}
	if record.SessionID != sessionID {
		slog.Warn("Pairing token used for another session", "session_id", sessionID, "token_session_id", record.SessionID)
		return nil, 0, errSessionTokenMismatch()
	}

	if desktopInfo == nil {
		desktopInfo = map[string]interface{}{}
	}
	session, remaining, err := b.sessions.activate(ctx, sessionID, record.UserID, activateOptions{
		desktopInfo: desktopInfo,
		note:        "Started from desktop app",
	})
	if err != nil {
		return nil, 0, err
	}

	if err := b.store.Delete(ctx, pairingTokenKey(token), pairingSessionKey(sessionID)); err != nil {
		// The session is no longer created, so a replay cannot activate it again.
		slog.Error("Failed to consume pairing token", "error", err, "session_id", sessionID)
	}
	return session, remaining, nil
}

// revokePairingToken drops any outstanding token for sessionID. Failures are
// logged; an orphaned token can no longer activate a session that left created.
func revokePairingToken(ctx context.Context, store cache.Store, sessionID string) {
	if store == nil {
		return
	}
	token, err := store.Get(ctx, pairingSessionKey(sessionID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("Failed to look up pairing token", "error", err, "session_id", sessionID)
		}
		return
	}
	if err := store.Delete(ctx, pairingTokenKey(token), pairingSessionKey(sessionID)); err != nil {
		slog.Warn("Failed to revoke pairing token", "error", err, "session_id", sessionID)
	}
}

func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
