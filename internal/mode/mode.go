// Package mode defines the four annotation modes. A mode is a thin variant
// over the shared render loop: it only chooses the detector options and the
// annotator.
package mode

import (
	"errors"
	"fmt"

	"github.com/ayusman/drishti/internal/annotate"
	"github.com/ayusman/drishti/internal/detector"
)

// ErrUnknown is returned for a slug that names no mode.
var ErrUnknown = errors.New("unknown mode")

// Kind tags a mode variant.
type Kind int

const (
	Face Kind = iota
	Hand
	Pose
	Object
)

// WasmBasePath is the runtime location handed to detectors that need it.
const WasmBasePath = "https://cdn.jsdelivr.net/npm/@mediapipe/tasks-vision@0.10.0/wasm"

const modelBase = "https://storage.googleapis.com/mediapipe-models/"

// Mode is one annotation mode.
type Mode struct {
	Kind      Kind
	Slug      string
	Title     string
	Task      string
	Defaults  detector.Options
	Annotator annotate.Annotator
}

var all = []Mode{
	{
		Kind:  Face,
		Slug:  "face-detection",
		Title: "Face Detection",
		Task:  detector.TaskFace,
		Defaults: options(detector.TaskFace,
			modelBase+"face_detector/blaze_face_short_range/float16/1/blaze_face_short_range.tflite"),
		Annotator: annotate.Face{},
	},
	{
		Kind:  Hand,
		Slug:  "hand-landmark-detection",
		Title: "Hand Landmark Detection",
		Task:  detector.TaskHand,
		Defaults: withMaxResults(options(detector.TaskHand,
			modelBase+"hand_landmarker/hand_landmarker/float16/1/hand_landmarker.task"), 2),
		Annotator: annotate.Hand{},
	},
	{
		Kind:  Pose,
		Slug:  "pose-landmark-detection",
		Title: "Pose Landmark Detection",
		Task:  detector.TaskPose,
		Defaults: withMaxResults(options(detector.TaskPose,
			modelBase+"pose_landmarker/pose_landmarker_lite/float16/1/pose_landmarker_lite.task"), 2),
		Annotator: annotate.Pose{},
	},
	{
		Kind:  Object,
		Slug:  "object-detection",
		Title: "Object Detection",
		Task:  detector.TaskObject,
		Defaults: withScoreThreshold(options(detector.TaskObject,
			modelBase+"object_detector/efficientdet_lite0/float16/1/efficientdet_lite0.tflite"), 0.5),
		Annotator: annotate.Object{},
	},
}

func options(task, model string) detector.Options {
	opts := detector.DefaultOptions(task)
	opts.ModelAssetPath = model
	opts.WasmBasePath = WasmBasePath
	return opts
}

func withMaxResults(opts detector.Options, n int) detector.Options {
	opts.MaxResults = n
	return opts
}

func withScoreThreshold(opts detector.Options, t float64) detector.Options {
	opts.ScoreThreshold = t
	return opts
}

// All returns the modes in menu order.
func All() []Mode {
	return append([]Mode(nil), all...)
}

// Lookup returns the mode with the given slug.
func Lookup(slug string) (Mode, error) {
	for _, m := range all {
		if m.Slug == slug {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%w: %q", ErrUnknown, slug)
}

// Get returns the mode of the given kind.
func Get(k Kind) Mode {
	for _, m := range all {
		if m.Kind == k {
			return m
		}
	}
	panic(fmt.Sprintf("mode: invalid kind %d", int(k)))
}

func (k Kind) String() string {
	switch k {
	case Face:
		return "face"
	case Hand:
		return "hand"
	case Pose:
		return "pose"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Options merges stored overrides over the mode defaults. Zero fields in
// override keep the default; the task is always the mode's own.
func (m Mode) Options(override detector.Options) detector.Options {
	opts := m.Defaults
	if override.ModelAssetPath != "" {
		opts.ModelAssetPath = override.ModelAssetPath
	}
	if override.Delegate != "" {
		opts.Delegate = override.Delegate
	}
	if override.MaxResults > 0 {
		opts.MaxResults = override.MaxResults
	}
	if override.ScoreThreshold > 0 {
		opts.ScoreThreshold = override.ScoreThreshold
	}
	opts.Task = m.Task
	return opts
}
