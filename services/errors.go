package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/krshsl/interview-engine/models"
)

// Error codes returned to clients.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidStatus        = "INVALID_SESSION_STATUS"
	CodeInsufficientCredits  = "INSUFFICIENT_CREDITS"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	CodePackageNotFound      = "PACKAGE_NOT_FOUND"
	CodeResumeNotFound       = "RESUME_NOT_FOUND"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeInvalidTempToken     = "INVALID_TEMP_TOKEN"
	CodeTempTokenExpired     = "TEMP_TOKEN_EXPIRED"
	CodeSessionTokenMismatch = "SESSION_TOKEN_MISMATCH"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeProcessorError       = "PROCESSOR_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeInternal             = "INTERNAL_ERROR"
	CodeUnavailable          = "SERVICE_UNAVAILABLE"
)

// AppError is an expected business outcome that the HTTP layer renders with
// its code, status and details. Anything that is not an AppError is treated
// as a store or infrastructure failure.
type AppError struct {
	Code    string                 `json:"code"`
	Status  int                    `json:"-"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

func newAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// with returns e with an extra detail attached.
func (e *AppError) with(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func errValidation(format string, args ...interface{}) *AppError {
	return newAppError(CodeValidation, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func errInvalidStatus(current models.SessionStatus, message string) *AppError {
	return newAppError(CodeInvalidStatus, http.StatusBadRequest, message).with("currentStatus", current)
}

func errInsufficientCredits(remaining, required int) *AppError {
	return newAppError(CodeInsufficientCredits, http.StatusForbidden, "not enough credits to start this session").
		with("remainingCredits", remaining).
		with("requiredCredits", required)
}

func errSessionNotFound() *AppError {
	return newAppError(CodeSessionNotFound, http.StatusNotFound, "session not found")
}

func errPaymentNotFound() *AppError {
	return newAppError(CodePaymentNotFound, http.StatusNotFound, "payment not found")
}

func errPackageNotFound() *AppError {
	return newAppError(CodePackageNotFound, http.StatusNotFound, "credit package not found")
}

func errResumeNotFound() *AppError {
	return newAppError(CodeResumeNotFound, http.StatusNotFound, "resume not found")
}

func errUserNotFound() *AppError {
	return newAppError(CodeUserNotFound, http.StatusNotFound, "user not found")
}

func errInvalidTempToken() *AppError {
	return newAppError(CodeInvalidTempToken, http.StatusUnauthorized, "desktop token is invalid or has expired")
}

func errTempTokenExpired() *AppError {
	return newAppError(CodeTempTokenExpired, http.StatusUnauthorized, "desktop token has expired")
}

func errSessionTokenMismatch() *AppError {
	return newAppError(CodeSessionTokenMismatch, http.StatusBadRequest, "desktop token was issued for a different session")
}

func errInvalidSignature(reason string) *AppError {
	return newAppError(CodeInvalidSignature, http.StatusUnauthorized, reason)
}

func errForbidden(message string) *AppError {
	return newAppError(CodeForbidden, http.StatusForbidden, message)
}

// ErrInvalidArgument is returned for non-positive ledger amounts.
var ErrInvalidArgument = errValidation("amount must be positive")

// IsCode reports whether err is an AppError carrying code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError renders err. Non-AppErrors never leak their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, map[string]interface{}{"error": appErr})
		return
	}

	status, code, message := http.StatusInternalServerError, CodeInternal, "internal error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status, code, message = http.StatusServiceUnavailable, CodeUnavailable, "request timed out, retry later"
	}
	slog.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	writeJSON(w, status, map[string]interface{}{"error": &AppError{Code: code, Message: message}})
}
