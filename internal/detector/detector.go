// Package detector defines the inference capability consumed by the render
// loop and the backends that provide it.
package detector

import (
	"context"
	"errors"
	"sort"
	"strings"

	"gocv.io/x/gocv"
)

// ErrEngineInit is returned (wrapped) when a detector cannot be constructed.
var ErrEngineInit = errors.New("inference engine failed to initialize")

// Task names understood by engines and backends.
const (
	TaskFace   = "face"
	TaskHand   = "hand"
	TaskPose   = "pose"
	TaskObject = "object"
)

// Box is an axis-aligned bounding box in frame pixels.
type Box struct {
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Landmark is a keypoint. X and Y are normalized to the frame size, Z is the
// relative depth reported by the model (smaller is closer to the camera).
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Category is a classification label with its confidence in [0, 1].
type Category struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Detection is one detected entity: a face, a hand, a body or an object.
type Detection struct {
	Box        *Box       `json:"box,omitempty"`
	Landmarks  []Landmark `json:"landmarks,omitempty"`
	Categories []Category `json:"categories,omitempty"`
}

// TopCategory returns the first category, if any.
func (d Detection) TopCategory() (Category, bool) {
	if len(d.Categories) == 0 {
		return Category{}, false
	}
	return d.Categories[0], true
}

// keepBest orders detections by top category score, best first, and keeps
// at most limit of them. A limit of 0 keeps all.
func keepBest(detections []Detection, limit int) []Detection {
	score := func(d Detection) float64 {
		c, _ := d.TopCategory()
		return c.Score
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return score(detections[i]) > score(detections[j])
	})
	if limit > 0 && len(detections) > limit {
		detections = detections[:limit]
	}
	return detections
}

// Result is the output of a single Detect call.
type Result struct {
	Detections []Detection `json:"detections"`
}

// Detector runs inference on video frames.
type Detector interface {
	// Detect analyzes a frame. timestampMs must not decrease between calls.
	Detect(frame *gocv.Mat, timestampMs float64) (*Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Factory constructs a Detector. Construction may load models and is bounded
// by ctx. Failures wrap ErrEngineInit.
type Factory func(ctx context.Context, opts Options) (Detector, error)

// Options configures detector construction.
type Options struct {
	Task           string  `json:"task"`
	ModelAssetPath string  `json:"model_asset_path"`
	WasmBasePath   string  `json:"wasm_base_path,omitempty"`
	Delegate       string  `json:"delegate"`
	RunningMode    string  `json:"running_mode"`
	MaxResults     int     `json:"max_results,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// Delegates and running modes.
const (
	DelegateGPU      = "GPU"
	DelegateCPU      = "CPU"
	RunningModeVideo = "VIDEO"
)

// DefaultOptions returns options for a task with the VIDEO running mode on
// the GPU delegate.
func DefaultOptions(task string) Options {
	return Options{
		Task:        task,
		Delegate:    DelegateGPU,
		RunningMode: RunningModeVideo,
	}
}

// netPreference maps a delegate to the OpenCV dnn backend and target. GPU
// runs on OpenCL; OpenCV switches to the CPU when no OpenCL device exists.
func netPreference(delegate string) (gocv.NetBackendType, gocv.NetTargetType) {
	if strings.EqualFold(delegate, DelegateGPU) {
		return gocv.NetBackendOpenCV, gocv.NetTargetOpenCL
	}
	return gocv.NetBackendDefault, gocv.NetTargetCPU
}
