package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/loop"
)

// stateCheckInterval is how often an idle stream rechecks the mode state.
const stateCheckInterval = 250 * time.Millisecond

// StreamQuality is the JPEG quality of streamed frames.
const StreamQuality = 80

// Frames is the annotated surface published by the render loop.
type Frames interface {
	Subscribe() (<-chan struct{}, func())
	JPEG(quality int) ([]byte, uint64, error)
}

// Status reports the mounted mode.
type Status interface {
	Current() (app.Status, bool)
}

// StreamHandler serves the annotated surface as MJPEG while a mode is
// Active.
type StreamHandler struct {
	status Status
	frames Frames
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(status Status, frames Frames) *StreamHandler {
	return &StreamHandler{status: status, frames: frames}
}

// active returns the current session if its loop is running.
func (h *StreamHandler) active() (app.Status, bool) {
	st, ok := h.status.Current()
	return st, ok && st.State == loop.StateActive && st.Error == ""
}

// ServeHTTP streams MJPEG frames to connected clients. Without an Active
// mode it answers 409 with the state message.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, mounted := h.status.Current()
	if !mounted || st.State != loop.StateActive || st.Error != "" {
		msg := "no mode mounted"
		switch {
		case !mounted:
		case st.Error != "":
			msg = st.Error
		default:
			msg = st.Message
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": msg, "state": st.State.String()})
		return
	}

	updates, cancel := h.frames.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(stateCheckInterval)
	defer ticker.Stop()

	session := st.SessionID
	var last uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		case <-updates:
		}

		cur, ok := h.active()
		if !ok || cur.SessionID != session {
			return
		}

		buf, seq, err := h.frames.JPEG(StreamQuality)
		if err != nil || seq == 0 || seq == last {
			continue
		}
		last = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		if _, err := w.Write(buf); err != nil {
			log.Debug().Err(err).Msg("stream client gone")
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
