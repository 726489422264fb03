package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcoot/pvg/internal/api/request"
	"github.com/mcoot/pvg/internal/api/response"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/actions"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/web/sse"
)

// SessionHandler handles the session endpoints of this device
type SessionHandler struct {
	dispatcher *actions.Dispatcher
	sessions   *session.Store
	hubManager *sse.HubManager
	wait       time.Duration
}

// NewSessionHandler creates a new session handler. Actions answer once their
// effect is visible in the local cache, or after wait with 202 Accepted.
func NewSessionHandler(dispatcher *actions.Dispatcher, sessions *session.Store, hubManager *sse.HubManager, wait time.Duration) *SessionHandler {
	return &SessionHandler{
		dispatcher: dispatcher,
		sessions:   sessions,
		hubManager: hubManager,
		wait:       wait,
	}
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	response.JSON(w, http.StatusOK, response.Session{
		View:     snap.ViewFor(h.dispatcher.Self(), reveal(r)),
		Observed: true,
	})
}

// Events handles GET /api/v1/session/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	hub := h.hubManager.GetOrCreateHub(h.sessions.Code())
	if hub.Latest() == nil {
		hub.Publish(h.sessions.Snapshot())
	}
	sse.ServeSSE(w, r, hub, h.dispatcher.Self(), reveal(r))
}

// Create handles POST /api/v1/session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateSessionRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	code, err := h.dispatcher.CreateSession(r.Context(), req.Name)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusCreated, actions.Entered(code, h.dispatcher.Self()))
}

// Join handles POST /api/v1/session/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req request.JoinSessionRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		WriteError(w, NewInvalidRequestError("Room code is required"))
		return
	}

	code := actions.NormalizeCode(model.RoomCode(req.Code))
	if err := h.dispatcher.JoinSession(r.Context(), code, req.Name); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Entered(code, h.dispatcher.Self()))
}

// Resume handles POST /api/v1/session/resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	code, err := h.dispatcher.ResumeSession(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Entered(code, h.dispatcher.Self()))
}

// Start handles POST /api/v1/session/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.StartSession(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Dealt())
}

// Begin handles POST /api/v1/session/begin
func (h *SessionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.BeginGame(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.InPhase(model.PhaseGame))
}

// Toggle handles POST /api/v1/session/toggle
func (h *SessionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	before := h.sessions.Room()
	if err := h.dispatcher.ToggleRoundPhase(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.RoundMoved(before))
}

// End handles POST /api/v1/session/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	var req request.EndSessionRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	winner := model.Winner(strings.ToUpper(strings.TrimSpace(req.Winner)))
	if err := h.dispatcher.EndSession(r.Context(), winner); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.InPhase(model.PhaseEnded))
}

// Reset handles POST /api/v1/session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req request.ResetSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	keep := req.KeepRoster == nil || *req.KeepRoster

	if err := h.dispatcher.ResetSession(r.Context(), keep); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Reset(keep))
}

// Kill handles POST /api/v1/session/players/{id}/kill
func (h *SessionHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := model.PlayerID(mux.Vars(r)["id"])
	if err := h.dispatcher.KillPlayer(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Alive(id, false))
}

// Revive handles POST /api/v1/session/players/{id}/revive
func (h *SessionHandler) Revive(w http.ResponseWriter, r *http.Request) {
	id := model.PlayerID(mux.Vars(r)["id"])
	if err := h.dispatcher.RevivePlayer(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, actions.Alive(id, true))
}

// Leave handles DELETE /api/v1/session
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.LeaveSession()
	h.respond(w, r, http.StatusOK, actions.Left())
}

// respond waits for the action to be observed and writes the session view.
// A write not yet visible is answered with 202 Accepted.
func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, status int, cond actions.Condition) {
	snap, observed, err := actions.Await(r.Context(), h.sessions, h.wait, cond)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !observed {
		status = http.StatusAccepted
	}
	response.JSON(w, status, response.Session{
		View:     snap.ViewFor(h.dispatcher.Self(), reveal(r)),
		Observed: observed,
	})
}

// reveal reports whether the caller asked to see every role
func reveal(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("reveal"))
	return v == "1" || v == "true"
}

// decode reads a JSON request body
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewInvalidRequestError("Invalid JSON body")
	}
	return nil
}

// decodeOptional reads a JSON request body that may be empty
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return NewInvalidRequestError("Invalid JSON body")
	}
	return nil
}
