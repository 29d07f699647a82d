// Package api provides the HTTP API handlers for drishti.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/store"
)

// Sessions mounts and unmounts modes.
type Sessions interface {
	Mount(slug string) (app.Status, error)
	Unmount() error
	Current() (app.Status, bool)
	LastMode() (string, error)
}

// OptionsService reads and stores per-mode detector options.
type OptionsService interface {
	Options(slug string) (detector.Options, error)
	SaveOptions(slug string, o store.ModeOptions) (detector.Options, error)
	ResetOptions(slug string) error
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
