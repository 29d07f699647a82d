package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/mode"
	"github.com/ayusman/drishti/internal/store"
)

// ModesHandler serves the mode list and per-mode options.
//
//	GET    /api/modes
//	GET    /api/modes/{slug}
//	GET    /api/modes/{slug}/options
//	PUT    /api/modes/{slug}/options
//	DELETE /api/modes/{slug}/options
type ModesHandler struct {
	options OptionsService
}

// NewModesHandler creates a ModesHandler.
func NewModesHandler(options OptionsService) *ModesHandler {
	return &ModesHandler{options: options}
}

type modeResponse struct {
	Slug    string           `json:"slug"`
	Title   string           `json:"title"`
	Task    string           `json:"task"`
	Options detector.Options `json:"options"`
}

type listModesResponse struct {
	Modes []modeResponse `json:"modes"`
}

type updateOptionsRequest struct {
	ModelAssetPath string  `json:"model_asset_path"`
	Delegate       string  `json:"delegate"`
	MaxResults     int     `json:"max_results"`
	ScoreThreshold float64 `json:"score_threshold"`
}

func (r updateOptionsRequest) validate() error {
	switch r.Delegate {
	case "", detector.DelegateGPU, detector.DelegateCPU:
	default:
		return errors.New("delegate must be GPU or CPU")
	}
	if r.MaxResults < 0 {
		return errors.New("max_results must not be negative")
	}
	if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
		return errors.New("score_threshold must be between 0 and 1")
	}
	return nil
}

// ServeHTTP implements the http.Handler interface.
func (h *ModesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/modes")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	slug, rest, _ := strings.Cut(path, "/")
	switch rest {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.get(w, r, slug)
	case "options":
		switch r.Method {
		case http.MethodGet:
			h.getOptions(w, r, slug)
		case http.MethodPut:
			h.updateOptions(w, r, slug)
		case http.MethodDelete:
			h.resetOptions(w, r, slug)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *ModesHandler) describe(m mode.Mode) (modeResponse, error) {
	opts, err := h.options.Options(m.Slug)
	if err != nil {
		return modeResponse{}, err
	}
	return modeResponse{Slug: m.Slug, Title: m.Title, Task: m.Task, Options: opts}, nil
}

// list handles GET /api/modes.
func (h *ModesHandler) list(w http.ResponseWriter, r *http.Request) {
	resp := listModesResponse{Modes: []modeResponse{}}
	for _, m := range mode.All() {
		mr, err := h.describe(m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load mode options")
			return
		}
		resp.Modes = append(resp.Modes, mr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/modes/{slug}.
func (h *ModesHandler) get(w http.ResponseWriter, r *http.Request, slug string) {
	m, err := mode.Lookup(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "mode not found")
		return
	}
	mr, err := h.describe(m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load mode options")
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

// getOptions handles GET /api/modes/{slug}/options.
func (h *ModesHandler) getOptions(w http.ResponseWriter, r *http.Request, slug string) {
	opts, err := h.options.Options(slug)
	if err != nil {
		h.writeOptionsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// updateOptions handles PUT /api/modes/{slug}/options.
func (h *ModesHandler) updateOptions(w http.ResponseWriter, r *http.Request, slug string) {
	var req updateOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, err := h.options.SaveOptions(slug, store.ModeOptions{
		ModelAssetPath: req.ModelAssetPath,
		Delegate:       req.Delegate,
		MaxResults:     req.MaxResults,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		h.writeOptionsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// resetOptions handles DELETE /api/modes/{slug}/options.
func (h *ModesHandler) resetOptions(w http.ResponseWriter, r *http.Request, slug string) {
	if err := h.options.ResetOptions(slug); err != nil {
		h.writeOptionsError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ModesHandler) writeOptionsError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrUnknownMode) {
		writeError(w, http.StatusNotFound, "mode not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to access mode options")
}
