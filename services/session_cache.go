package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/models"
)

const sessionCacheTTL = 24 * time.Hour

// SessionCache holds read-only session snapshots. It is never consulted on
// a mutation path and every failure is logged and swallowed.
type SessionCache struct {
	store cache.Store
}

func NewSessionCache(store cache.Store) *SessionCache {
	return &SessionCache{store: store}
}

func sessionCacheKey(sessionID string) string {
	return "session:" + sessionID
}

func (c *SessionCache) Get(ctx context.Context, sessionID string) (*models.Session, bool) {
	if c == nil {
		return nil, false
	}
	var session models.Session
	if err := c.store.GetJSON(ctx, sessionCacheKey(sessionID), &session); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Warn("Failed to read session snapshot", "error", err, "session_id", sessionID)
		}
		return nil, false
	}
	return &session, true
}

func (c *SessionCache) Put(ctx context.Context, session *models.Session) {
	if c == nil || session == nil {
		return
	}
	if err := c.store.SetJSON(ctx, sessionCacheKey(session.ID), session, sessionCacheTTL); err != nil {
		slog.Warn("Failed to write session snapshot", "error", err, "session_id", session.ID)
	}
}

func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) {
	if c == nil {
		return
	}
	if err := c.store.Delete(ctx, sessionCacheKey(sessionID)); err != nil {
		slog.Warn("Failed to drop session snapshot", "error", err, "session_id", sessionID)
	}
}
