// Package engine discovers external inference engines: executables that
// serve one or more detection tasks over the detector process protocol.
package engine

import "encoding/json"

// ManifestFile is the manifest name looked up in each engine directory.
const ManifestFile = "engine.json"

// Manifest describes an engine's metadata and the tasks it can serve.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Tasks       []string `json:"tasks"`
}

// ProbeRequest is sent to an engine started with --probe.
type ProbeRequest struct {
	Task    string          `json:"task"`
	Options json.RawMessage `json:"options"`
}

// ProbeResponse is the engine's answer to a probe.
type ProbeResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Engine is a discovered engine with its manifest and location.
type Engine struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the engine serves task.
func (e *Engine) Supports(task string) bool {
	for _, t := range e.Manifest.Tasks {
		if t == task {
			return true
		}
	}
	return false
}
