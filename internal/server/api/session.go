package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/drishti/internal/app"
)

// SessionHandler mounts and unmounts modes.
//
//	GET    /api/session
//	POST   /api/session {"mode": "face-detection"}
//	DELETE /api/session
type SessionHandler struct {
	sessions Sessions
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type mountRequest struct {
	Mode string `json:"mode"`
}

type unmountResponse struct {
	Unmounted bool   `json:"unmounted"`
	Error     string `json:"error,omitempty"`
}

type idleResponse struct {
	Mounted  bool   `json:"mounted"`
	LastMode string `json:"last_mode,omitempty"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.mount(w, r)
	case http.MethodDelete:
		h.unmount(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// get handles GET /api/session. With nothing mounted it reports the last
// mode so a front end can offer to resume it.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	st, ok := h.sessions.Current()
	if !ok {
		last, _ := h.sessions.LastMode()
		writeJSON(w, http.StatusOK, idleResponse{LastMode: last})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// mount handles POST /api/session.
func (h *SessionHandler) mount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode == "" {
		writeError(w, http.StatusBadRequest, "mode is required")
		return
	}

	st, err := h.sessions.Mount(req.Mode)
	if err != nil {
		if errors.Is(err, app.ErrUnknownMode) {
			writeError(w, http.StatusNotFound, "mode not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mount mode")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// unmount handles DELETE /api/session.
func (h *SessionHandler) unmount(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Unmount()
	if errors.Is(err, app.ErrNotMounted) {
		writeError(w, http.StatusNotFound, "no mode mounted")
		return
	}

	resp := unmountResponse{Unmounted: true}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
