package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/interview-engine/models"
)

type AuthEndpoints struct {
	authService *AuthService
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func NewAuthEndpoints(authService *AuthService) *AuthEndpoints {
	return &AuthEndpoints{
		authService: authService,
	}
}

// RegisterRoutes mounts the public auth routes. /logout and /me sit behind
// the auth middleware.
func (e *AuthEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", e.LoginHandler)
		r.Post("/signup", e.SignupHandler)
		r.Post("/refresh", e.RefreshHandler)
		r.Group(func(r chi.Router) {
			r.Use(e.authService.Middleware)
			r.Post("/logout", e.LogoutHandler)
			r.Get("/me", e.MeHandler)
		})
	})
}

func userResponse(user *models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
		"credits":   user.Credits,
	}
}

func (e *AuthEndpoints) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errValidation("invalid request body"))
		return
	}

	authResponse, err := e.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "invalid credentials"))
			return
		}
		writeError(w, r, err)
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, authResponse.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":          userResponse(authResponse.User),
		"access_token":  authResponse.AccessToken,
		"refresh_token": authResponse.RefreshToken,
		"message":       "Login successful",
	})
}

func (e *AuthEndpoints) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errValidation("invalid request body"))
		return
	}

	authResponse, err := e.authService.Signup(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, errUserExists) {
			writeError(w, r, errValidation("user already exists"))
			return
		}
		writeError(w, r, err)
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, authResponse.RefreshToken)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":          userResponse(authResponse.User),
		"access_token":  authResponse.AccessToken,
		"refresh_token": authResponse.RefreshToken,
		"message":       "Signup successful",
	})
}

func (e *AuthEndpoints) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	refreshToken := e.authService.GetTokenFromCookie(r, "refresh_token")
	if refreshToken == "" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			refreshToken = body.RefreshToken
		}
	}
	if refreshToken == "" {
		writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "no refresh token provided"))
		return
	}

	authResponse, err := e.authService.RefreshToken(r.Context(), refreshToken)
	if err != nil {
		slog.Warn("Token refresh failed", "error", err)
		writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "invalid refresh token"))
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, "")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": authResponse.AccessToken,
		"message":      "Token refreshed successfully",
	})
}

func (e *AuthEndpoints) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "not authenticated"))
		return
	}

	if err := e.authService.Logout(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}

	e.authService.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Logout successful"})
}

func (e *AuthEndpoints) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, newAppError(CodeUnauthorized, http.StatusUnauthorized, "not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": userResponse(user)})
}
