package services

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/interview-engine/models"
)

type SessionEndpoints struct {
	sessions *SessionService
	pairing  *PairingBroker
	limiter  *IPRateLimiter
}

func NewSessionEndpoints(sessions *SessionService, pairing *PairingBroker, limiter *IPRateLimiter) *SessionEndpoints {
	return &SessionEndpoints{
		sessions: sessions,
		pairing:  pairing,
		limiter:  limiter,
	}
}

type CreateSessionRequest struct {
	JobTitle        string                 `json:"job_title"`
	Company         string                 `json:"company"`
	JobDescription  string                 `json:"job_description"`
	InterviewType   string                 `json:"interview_type"`
	Difficulty      string                 `json:"difficulty"`
	DurationMinutes int                    `json:"duration_minutes"`
	ResumeID        *string                `json:"resume_id"`
	Params          map[string]interface{} `json:"params"`
}

type UpdateSessionRequest struct {
	Status models.SessionStatus `json:"status"`
	Notes  string               `json:"notes"`
}

type StopSessionRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

type ConnectDesktopRequest struct {
	TempToken   string                 `json:"temp_token"`
	DesktopInfo map[string]interface{} `json:"desktop_info"`
}

type AddMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GetSessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
	Count    int              `json:"count"`
}

// RegisterRoutes mounts the routes that require an authenticated user.
func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", e.CreateSessionHandler)
		r.Get("/", e.GetSessionsHandler)
		r.Get("/{id}", e.GetSessionHandler)
		r.Put("/{id}", e.UpdateSessionHandler)
		r.Delete("/{id}", e.DeleteSessionHandler)
		r.Post("/{id}/start", e.ActivateSessionHandler)
		r.Post("/{id}/activate", e.ActivateSessionHandler)
		r.Post("/{id}/stop", e.StopSessionHandler)
		r.Post("/{id}/generate-desktop-token", e.GenerateDesktopTokenHandler)
		r.Get("/{id}/messages", e.GetMessagesHandler)
		r.Post("/{id}/messages", e.AddMessageHandler)
	})
}

// RegisterPublicRoutes mounts the desktop redemption route, which is
// authorized by the pairing token alone.
func (e *SessionEndpoints) RegisterPublicRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if e.limiter != nil {
			r.Use(e.limiter.Middleware)
		}
		r.Post("/sessions/{id}/connect-with-temp-token", e.ConnectWithTempTokenHandler)
	})
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return errValidation("invalid request body")
	}
	return nil
}

func requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "authentication required"))
		return nil, false
	}
	return user, true
}

func (e *SessionEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.JobTitle) == "" {
		writeError(w, r, errValidation("job_title is required"))
		return
	}

	session, err := e.sessions.Create(r.Context(), user.ID, SessionParams{
		JobTitle:        strings.TrimSpace(req.JobTitle),
		Company:         req.Company,
		JobDescription:  req.JobDescription,
		InterviewType:   req.InterviewType,
		Difficulty:      req.Difficulty,
		DurationMinutes: req.DurationMinutes,
		ResumeID:        req.ResumeID,
		Params:          req.Params,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
		"message": "Session created successfully",
	})
}

func (e *SessionEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessions, err := e.sessions.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GetSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, err := e.sessions.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) ActivateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, remaining, err := e.sessions.Activate(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activationResponse(session, remaining))
}

func activationResponse(session *models.Session, remaining int) map[string]interface{} {
	return map[string]interface{}{
		"status":           session.Status,
		"creditsDeducted":  SessionCost,
		"remainingCredits": remaining,
		"session":          session,
	}
}

func (e *SessionEndpoints) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req UpdateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, errValidation("status is required"))
		return
	}

	session, err := e.sessions.Transition(r.Context(), chi.URLParam(r, "id"), user.ID, req.Status, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req StopSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Force {
		req.Force = queryBool(r, "force")
	}

	session, err := e.sessions.Stop(r.Context(), chi.URLParam(r, "id"), user.ID, req.Reason, req.Force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"message": "Session stopped",
	})
}

func (e *SessionEndpoints) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := e.sessions.Delete(r.Context(), sessionID, user.ID, queryBool(r, "force")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session deleted successfully",
		"session_id": sessionID,
	})
}

func (e *SessionEndpoints) GenerateDesktopTokenHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	token, expiresAt, err := e.pairing.IssuePairingToken(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"temp_token": token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"expires_in": int(PairingTokenTTL.Seconds()),
	})
}

func (e *SessionEndpoints) ConnectWithTempTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req ConnectDesktopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TempToken == "" {
		req.TempToken = r.Header.Get("X-Temp-Token")
	}

	session, remaining, err := e.pairing.RedeemPairingToken(r.Context(), chi.URLParam(r, "id"), req.TempToken, req.DesktopInfo)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activationResponse(session, remaining))
}

func (e *SessionEndpoints) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	messages, err := e.sessions.Messages(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

func (e *SessionEndpoints) AddMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AddMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	message, err := e.sessions.AddMessage(r.Context(), chi.URLParam(r, "id"), user.ID, req.Role, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": message})
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
