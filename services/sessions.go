package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krshsl/interview-engine/cache"
	"github.com/krshsl/interview-engine/models"
	"github.com/krshsl/interview-engine/repository"
	ws "github.com/krshsl/interview-engine/websocket"
	"gorm.io/datatypes"
)

// SessionCost is the number of credits one activation consumes, whether it
// is started from the web or redeemed by the desktop app.
const SessionCost = 1

// EventNotifier receives session events after they commit.
type EventNotifier interface {
	SendToUser(userID string, event ws.Event)
}

// SessionParams are the user-supplied attributes of a new session.
type SessionParams struct {
	JobTitle        string
	Company         string
	JobDescription  string
	InterviewType   string
	Difficulty      string
	DurationMinutes int
	ResumeID        *string
	Params          map[string]interface{}
}

// SessionService owns every session status change.
type SessionService struct {
	repo     *repository.GORMRepository
	ledger   *CreditLedger
	store    cache.Store
	cache    *SessionCache
	notifier EventNotifier
	now      func() time.Time
}

func NewSessionService(repo *repository.GORMRepository, ledger *CreditLedger, store cache.Store, notifier EventNotifier) *SessionService {
	s := &SessionService{
		repo:     repo,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
	if store != nil {
		s.cache = NewSessionCache(store)
	}
	return s
}

func (s *SessionService) Create(ctx context.Context, userID string, params SessionParams) (*models.Session, error) {
	if params.DurationMinutes < 0 {
		return nil, errValidation("duration_minutes must not be negative")
	}
	if params.ResumeID != nil && *params.ResumeID != "" {
		resume, err := s.repo.GetUserResume(ctx, *params.ResumeID, userID)
		if err != nil {
			return nil, err
		}
		if resume == nil {
			return nil, errResumeNotFound()
		}
	} else {
		params.ResumeID = nil
	}

	session := &models.Session{
		UserID:          userID,
		Status:          models.SessionCreated,
		JobTitle:        params.JobTitle,
		Company:         params.Company,
		JobDescription:  params.JobDescription,
		InterviewType:   params.InterviewType,
		Difficulty:      params.Difficulty,
		DurationMinutes: params.DurationMinutes,
		ResumeID:        params.ResumeID,
	}
	if len(params.Params) > 0 {
		session.Params = datatypes.JSONMap(params.Params)
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.notify(session, "session.created", nil)
	return session, nil
}

// Get returns a session owned by userID. A cached snapshot is served only
// while its updated_at still matches the stored row.
func (s *SessionService) Get(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	if cached, ok := s.cache.Get(ctx, sessionID); ok && cached.UserID == userID {
		version, err := s.repo.GetSessionVersion(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if version == nil {
			s.cache.Invalidate(ctx, sessionID)
			return nil, errSessionNotFound()
		}
		if version.Equal(cached.UpdatedAt) {
			return cached, nil
		}
	}

	session, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionNotFound()
	}
	s.cache.Put(ctx, session)
	return session, nil
}

func (s *SessionService) List(ctx context.Context, userID string) ([]models.Session, error) {
	return s.repo.ListUserSessions(ctx, userID)
}

// Activate moves a created session to active and charges SessionCost in the
// same transaction. On INSUFFICIENT_CREDITS the session stays created.
func (s *SessionService) Activate(ctx context.Context, sessionID, userID string) (*models.Session, int, error) {
	return s.activate(ctx, sessionID, userID, activateOptions{})
}

type activateOptions struct {
	desktopInfo map[string]interface{}
	note        string
}

func (s *SessionService) activate(ctx context.Context, sessionID, userID string, opts activateOptions) (*models.Session, int, error) {
	now := s.now().UTC()
	var (
		session   *models.Session
		remaining int
	)

	err := s.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		current, err := tx.GetUserSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return errSessionNotFound()
		}
		if current.Status != models.SessionCreated {
			return errInvalidStatus(current.Status, "session can only be activated from created")
		}

		updates := map[string]interface{}{
			"status":     models.SessionActive,
			"started_at": now,
		}
		if opts.desktopInfo != nil {
			updates["desktop_connected"] = true
			updates["desktop_info"] = datatypes.JSONMap(opts.desktopInfo)
		}
		if opts.note != "" {
			updates["notes"] = appendNote(current.Notes, now, opts.note)
		}

		updated, err := tx.UpdateSessionIfStatus(ctx, sessionID, userID, models.SessionCreated, updates)
		if err != nil {
			return err
		}
		if !updated {
			// Lost a race with another activation or stop.
			latest, err := tx.GetUserSession(ctx, sessionID, userID)
			if err != nil {
				return err
			}
			if latest == nil {
				return errSessionNotFound()
			}
			return errInvalidStatus(latest.Status, "session can only be activated from created")
		}

		debited, balance, err := s.ledger.tryDebitTx(ctx, tx, userID, SessionCost, &sessionID, "Interview session started")
		if err != nil {
			return err
		}
		if !debited {
			return errInsufficientCredits(balance, SessionCost)
		}
		remaining = balance

		session, err = tx.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	slog.Info("Session activated", "session_id", sessionID, "user_id", userID, "remaining_credits", remaining, "desktop", opts.desktopInfo != nil)
	s.cache.Invalidate(ctx, sessionID)
	s.notify(session, "session.status", map[string]interface{}{
		"creditsDeducted":  SessionCost,
		"remainingCredits": remaining,
	})
	return session, remaining, nil
}

// Transition applies a table-checked status change. created -> active is
// delegated to Activate so it is always charged.
func (s *SessionService) Transition(ctx context.Context, sessionID, userID string, target models.SessionStatus, notes string) (*models.Session, error) {
	if !target.Valid() {
		return nil, errValidation("unknown status %q", target)
	}

	current, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errSessionNotFound()
	}

	if current.Status == models.SessionCreated && target == models.SessionActive {
		session, _, err := s.activate(ctx, sessionID, userID, activateOptions{note: notes})
		return session, err
	}
	if !models.CanTransition(current.Status, target) {
		return nil, errInvalidStatus(current.Status, fmt.Sprintf("cannot move session from %s to %s", current.Status, target))
	}

	now := s.now().UTC()
	updates := map[string]interface{}{"status": target}
	if notes != "" {
		updates["notes"] = appendNote(current.Notes, now, notes)
	}
	if target == models.SessionCompleted {
		updates["ended_at"] = now
	}
	if target.IsTerminal() {
		updates["desktop_connected"] = false
	}

	return s.applyUpdate(ctx, current, target, updates)
}

// Stop ends a session: created sessions are cancelled, active or paused ones
// completed. Sessions that already ended are rejected even with force.
func (s *SessionService) Stop(ctx context.Context, sessionID, userID, reason string, force bool) (*models.Session, error) {
	current, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errSessionNotFound()
	}
	if current.Status.IsTerminal() {
		return nil, errInvalidStatus(current.Status, "session has already ended")
	}

	now := s.now().UTC()
	target := models.SessionCompleted
	if current.Status == models.SessionCreated {
		target = models.SessionCancelled
	}

	if reason == "" {
		reason = "no reason given"
	}
	note := "Session stopped by user: " + reason
	if force {
		note += " (forced)"
	}

	updates := map[string]interface{}{
		"status":            target,
		"notes":             appendNote(current.Notes, now, note),
		"desktop_connected": false,
	}
	if target == models.SessionCompleted {
		updates["ended_at"] = now
	}

	session, err := s.applyUpdate(ctx, current, target, updates)
	if err != nil {
		return nil, err
	}
	slog.Info("Session stopped", "session_id", sessionID, "user_id", userID, "status", target, "force", force)
	return session, nil
}

func (s *SessionService) applyUpdate(ctx context.Context, current *models.Session, target models.SessionStatus, updates map[string]interface{}) (*models.Session, error) {
	updated, err := s.repo.UpdateSessionIfStatus(ctx, current.ID, current.UserID, current.Status, updates)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionNotFound()
	}
	if !updated {
		return nil, errInvalidStatus(session.Status, fmt.Sprintf("cannot move session from %s to %s", session.Status, target))
	}

	if target.IsTerminal() {
		revokePairingToken(ctx, s.store, session.ID)
	}
	slog.Info("Session status changed", "session_id", session.ID, "from", current.Status, "to", target)
	s.cache.Invalidate(ctx, session.ID)
	s.notify(session, "session.status", nil)
	return session, nil
}

// Delete removes a session. Anything past created needs force. A forced
// delete drops the transcript but does not delete the session's credit
// transactions: they stay in the user's history with session_id cleared,
// so the ledger still sums to the balance.
func (s *SessionService) Delete(ctx context.Context, sessionID, userID string, force bool) error {
	current, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if current == nil {
		return errSessionNotFound()
	}
	if current.Status != models.SessionCreated && !force {
		return errInvalidStatus(current.Status, "only sessions that have not started can be deleted without force")
	}

	allowed := []models.SessionStatus{models.SessionCreated}
	if force {
		allowed = []models.SessionStatus{
			models.SessionCreated, models.SessionActive, models.SessionPaused,
			models.SessionCompleted, models.SessionCancelled,
		}
	}

	err = s.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		if _, err := tx.DeleteSessionMessages(ctx, sessionID); err != nil {
			return err
		}
		if _, err := tx.DetachSessionTransactions(ctx, sessionID); err != nil {
			return err
		}
		deleted, err := tx.DeleteSessionIfStatus(ctx, sessionID, userID, allowed...)
		if err != nil {
			return err
		}
		if !deleted {
			latest, err := tx.GetUserSession(ctx, sessionID, userID)
			if err != nil {
				return err
			}
			if latest == nil {
				return errSessionNotFound()
			}
			return errInvalidStatus(latest.Status, "only sessions that have not started can be deleted without force")
		}
		return nil
	})
	if err != nil {
		return err
	}

	revokePairingToken(ctx, s.store, sessionID)
	s.cache.Invalidate(ctx, sessionID)
	s.notify(current, "session.deleted", nil)
	slog.Info("Session deleted", "session_id", sessionID, "user_id", userID, "force", force)
	return nil
}

// AddMessage appends to the transcript of an active session.
func (s *SessionService) AddMessage(ctx context.Context, sessionID, userID, role, content string) (*models.Message, error) {
	if role != models.MessageRoleUser && role != models.MessageRoleAssistant {
		return nil, errValidation("role must be %q or %q", models.MessageRoleUser, models.MessageRoleAssistant)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errValidation("content is required")
	}

	session, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionNotFound()
	}
	if session.Status != models.SessionActive {
		return nil, errInvalidStatus(session.Status, "messages can only be added to an active session")
	}

	message := &models.Message{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	if err := s.repo.SaveMessage(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *SessionService) Messages(ctx context.Context, sessionID, userID string) ([]models.Message, error) {
	session, err := s.repo.GetUserSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionNotFound()
	}
	return s.repo.GetMessagesBySession(ctx, sessionID)
}

func (s *SessionService) notify(session *models.Session, eventType string, data map[string]interface{}) {
	if s.notifier == nil || session == nil {
		return
	}
	s.notifier.SendToUser(session.UserID, ws.Event{
		Type:      eventType,
		SessionID: session.ID,
		Status:    string(session.Status),
		Data:      data,
	})
}

func appendNote(existing string, at time.Time, note string) string {
	line := fmt.Sprintf("[%s] %s", at.Format(time.RFC3339), note)
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
