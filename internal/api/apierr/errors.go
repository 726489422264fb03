package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/pvg/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotConfigured       = "NOT_CONFIGURED"
	CodeNotHost             = "NOT_HOST"
	CodeNoActiveSession     = "NO_ACTIVE_SESSION"
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeRoomExists          = "ROOM_EXISTS"
	CodePlayerNotFound      = "PLAYER_NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	CodeInvalidWinner       = "INVALID_WINNER"
	CodeInvalidName         = "INVALID_NAME"
	CodeInvalidJoinLink     = "INVALID_JOIN_LINK"
	CodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	CodeFeedUnavailable     = "FEED_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error is written with
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError. Known causes get their own
// code; anything else is mapped by its kind.
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, model.ErrNotConfigured):
		return &httpError{http.StatusPreconditionFailed, APIError{CodeNotConfigured, "Backend is not configured"}}
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, APIError{CodeNotHost, "Only the host can perform this action"}}
	case errors.Is(err, model.ErrNoActiveSession):
		return &httpError{http.StatusConflict, APIError{CodeNoActiveSession, "No session is open"}}
	case errors.Is(err, model.ErrRoomNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeRoomNotFound, "Room not found"}}
	case errors.Is(err, model.ErrRoomExists):
		return &httpError{http.StatusConflict, APIError{CodeRoomExists, "Could not find a free room code"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrInvalidTransition):
		return &httpError{http.StatusConflict, APIError{CodeInvalidTransition, "Action not allowed in the current phase"}}
	case errors.Is(err, model.ErrInsufficientPlayers):
		return &httpError{http.StatusConflict, APIError{CodeInsufficientPlayers, "Not enough players to start"}}
	case errors.Is(err, model.ErrInvalidWinner):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidWinner, "Winner must be PREDATORS or GUARDIANS"}}
	case errors.Is(err, model.ErrInvalidName):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidName, "Player name must not be empty"}}
	case errors.Is(err, model.ErrInvalidJoinURL):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidJoinLink, "Join link is not valid"}}
	}

	switch model.KindOf(err) {
	case model.KindConfiguration:
		return &httpError{http.StatusPreconditionFailed, APIError{CodeNotConfigured, messageOf(err)}}
	case model.KindValidation:
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, messageOf(err)}}
	case model.KindRequest:
		return &httpError{http.StatusBadGateway, APIError{CodeBackendUnavailable, "Backend rejected the request"}}
	case model.KindChannel:
		return &httpError{http.StatusServiceUnavailable, APIError{CodeFeedUnavailable, "Change feed unavailable, reconfigure to reconnect"}}
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

func messageOf(err error) string {
	var e *model.Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
