package detector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/drishti/internal/engine"
)

// Model files looked up in the model directory for the in-process backends.
const (
	YuNetModelFile = "face_detection_yunet_2023mar.onnx"
	SSDModelFile   = "ssd_mobilenet_v1_coco.pb"
	SSDConfigFile  = "ssd_mobilenet_v1_coco.pbtxt"
	SSDLabelsFile  = "coco_labels.txt"
)

// Names reported for the built-in backends.
const (
	BackendYuNet     = "yunet"
	BackendSSD       = "ssd"
	BackendMediaPipe = "mediapipe"
)

// Model formats OpenCV's dnn module can load.
var (
	yunetModelExts = []string{".onnx"}
	ssdModelExts   = []string{".pb", ".onnx", ".caffemodel", ".t7", ".weights"}
)

// Resolver picks the backend serving a task. A discovered engine that
// supports the task wins. Otherwise face and object use the in-process YuNet
// and SSD backends when a model file is present, and any task falls back to
// the MediaPipe engine script when it is installed.
type Resolver struct {
	engines   *engine.Manager
	executor  *engine.Executor
	modelDir  string
	mediapipe MediaPipeConfig
}

// NewResolver creates a Resolver. engines and executor may be nil.
func NewResolver(engines *engine.Manager, executor *engine.Executor, modelDir string) *Resolver {
	return &Resolver{
		engines:  engines,
		executor: executor,
		modelDir: modelDir,
	}
}

// UseMediaPipe enables the MediaPipe fallback.
func (r *Resolver) UseMediaPipe(cfg MediaPipeConfig) *Resolver {
	r.mediapipe = cfg
	return r
}

// Factory returns the Factory for task. The backend is chosen each time the
// factory runs, from the options it is given, so engines discovered after
// startup and model overrides are picked up.
func (r *Resolver) Factory(task string) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		opts.Task = task
		b, err := r.resolve(task, opts)
		if err != nil {
			return nil, err
		}
		log.Info().Str("task", task).Str("backend", b.name).Str("model", b.model).Msg("creating detector")
		return b.factory(ctx, opts)
	}
}

// Backend returns the name of the backend that would serve task with its
// default options.
func (r *Resolver) Backend(task string) (string, error) {
	b, err := r.resolve(task, DefaultOptions(task))
	return b.name, err
}

type backend struct {
	factory Factory
	name    string
	model   string
}

func (r *Resolver) resolve(task string, opts Options) (backend, error) {
	if r.engines != nil {
		if eng, err := r.engines.ForTask(task); err == nil {
			return backend{
				factory: ProcessFactory(eng, r.executor),
				name:    eng.Manifest.Name,
				model:   opts.ModelAssetPath,
			}, nil
		}
	}

	switch task {
	case TaskFace:
		if model := r.modelFile(opts.ModelAssetPath, YuNetModelFile, yunetModelExts); model != "" {
			return backend{factory: YuNetFactory(model), name: BackendYuNet, model: model}, nil
		}
	case TaskObject:
		if model := r.modelFile(opts.ModelAssetPath, SSDModelFile, ssdModelExts); model != "" {
			return backend{factory: SSDFactory(r.ssdConfig(model)), name: BackendSSD, model: model}, nil
		}
	}

	if r.mediapipe.Available() {
		return backend{
			factory: MediaPipeFactory(r.mediapipe),
			name:    BackendMediaPipe,
			model:   opts.ModelAssetPath,
		}, nil
	}

	return backend{}, fmt.Errorf("%w: no backend for task %q", ErrEngineInit, task)
}

// modelFile returns override when it is a local file in one of exts, else
// the default file in the model directory when present, else "".
func (r *Resolver) modelFile(override, name string, exts []string) string {
	if override != "" && fileExists(override) && hasExt(override, exts) {
		return override
	}
	if def := filepath.Join(r.modelDir, name); fileExists(def) {
		return def
	}
	return ""
}

// ssdConfig builds the SSD configuration for model. A text graph is taken
// from next to the model, or from the model directory for the default
// model; labels always come from the model directory.
func (r *Resolver) ssdConfig(model string) SSDConfig {
	cfg := SSDConfig{ModelPath: model, SwapRB: true}

	graph := strings.TrimSuffix(model, filepath.Ext(model)) + ".pbtxt"
	if model == filepath.Join(r.modelDir, SSDModelFile) {
		graph = filepath.Join(r.modelDir, SSDConfigFile)
	}
	if fileExists(graph) {
		cfg.ConfigPath = graph
	}
	if labels := filepath.Join(r.modelDir, SSDLabelsFile); fileExists(labels) {
		cfg.LabelsPath = labels
	}
	return cfg
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
