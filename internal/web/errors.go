package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical text and the request ID, then
// mapped through core.MapError and rendered as an HTML fragment (fetch
// requests from the page), JSON (API clients) or a full error page.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvsplit/internal/archive"
	"github.com/JonMunkholm/csvsplit/internal/core"
	"github.com/JonMunkholm/csvsplit/internal/csvtable"
	"github.com/JonMunkholm/csvsplit/internal/logging"
	"github.com/JonMunkholm/csvsplit/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

// respondError logs err and writes the mapped message. A zero statusCode
// derives the status from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	userMsg := core.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	// Parse failures and similar user-facing errors carry the parser's own
	// message, which tells the user which line broke.
	detail := ""
	if core.IsUserFacing(err) {
		detail = err.Error()
	}

	switch {
	case isFetch(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		templates.ErrorAlert(userMsg, detail).Render(r.Context(), w)
	case wantsJSON(r):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
			Detail:  detail,
		})
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		templates.ErrorPage(userMsg, detail).Render(r.Context(), w)
	}
}

var errRateLimited = errors.New("rate limit exceeded")

// statusFor picks the HTTP status for an error returned by the service.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrNoFile),
		errors.Is(err, core.ErrMemberNotSelected),
		errors.Is(err, core.ErrNotArchive),
		errors.Is(err, archive.ErrNoTableMember),
		errors.Is(err, archive.ErrMemberNotFound),
		errors.Is(err, archive.ErrInvalidArchive),
		errors.Is(err, csvtable.ErrEmptyFile),
		errors.Is(err, csvtable.ErrColumnNotFound):
		return http.StatusBadRequest
	case errors.Is(err, csvtable.ErrInvalidCSV):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// isFetch checks if the request came from the page script, which swaps the
// returned fragment into place.
func isFetch(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
