package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("model"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestResolver_MediaPipeFallback(t *testing.T) {
	modelDir := t.TempDir()
	touch(t, filepath.Join(modelDir, YuNetModelFile))
	script := touch(t, filepath.Join(t.TempDir(), MediaPipeScript))

	without := NewResolver(nil, nil, modelDir)
	with := NewResolver(nil, nil, modelDir).UseMediaPipe(MediaPipeConfig{Script: script})

	tests := []struct {
		task        string
		withBackend string
		withoutErr  bool
	}{
		{TaskHand, BackendMediaPipe, true},
		{TaskPose, BackendMediaPipe, true},
		{TaskFace, BackendYuNet, false},
		{TaskObject, BackendMediaPipe, true},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			got, err := with.Backend(tt.task)
			if err != nil || got != tt.withBackend {
				t.Errorf("Backend(%q) = %q, %v; want %q", tt.task, got, err, tt.withBackend)
			}

			_, err = without.Backend(tt.task)
			if tt.withoutErr != errors.Is(err, ErrEngineInit) {
				t.Errorf("without MediaPipe: Backend(%q) error = %v", tt.task, err)
			}
		})
	}

	missing := NewResolver(nil, nil, t.TempDir()).UseMediaPipe(MediaPipeConfig{Script: filepath.Join(t.TempDir(), MediaPipeScript)})
	if _, err := missing.Backend(TaskHand); !errors.Is(err, ErrEngineInit) {
		t.Errorf("missing script: error = %v, want ErrEngineInit", err)
	}
}

func TestResolver_ModelOverride(t *testing.T) {
	emptyDir := t.TempDir()
	modelDir := t.TempDir()
	defFace := touch(t, filepath.Join(modelDir, YuNetModelFile))
	defObject := touch(t, filepath.Join(modelDir, SSDModelFile))

	other := t.TempDir()
	customFace := touch(t, filepath.Join(other, "faces.onnx"))
	customObject := touch(t, filepath.Join(other, "objects.pb"))
	customGraph := touch(t, filepath.Join(other, "objects.pbtxt"))
	tflite := touch(t, filepath.Join(other, "blaze_face_short_range.tflite"))

	tests := []struct {
		name      string
		modelDir  string
		task      string
		override  string
		wantModel string
		wantErr   bool
	}{
		{"override without default", emptyDir, TaskFace, customFace, customFace, false},
		{"override beats default", modelDir, TaskFace, customFace, customFace, false},
		{"remote asset uses default", modelDir, TaskFace, "https://storage.googleapis.com/x.tflite", defFace, false},
		{"foreign format uses default", modelDir, TaskFace, tflite, defFace, false},
		{"missing override uses default", modelDir, TaskObject, filepath.Join(other, "gone.pb"), defObject, false},
		{"object override", emptyDir, TaskObject, customObject, customObject, false},
		{"nothing to load", emptyDir, TaskFace, filepath.Join(other, "gone.onnx"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions(tt.task)
			opts.ModelAssetPath = tt.override

			b, err := NewResolver(nil, nil, tt.modelDir).resolve(tt.task, opts)
			if tt.wantErr {
				if !errors.Is(err, ErrEngineInit) {
					t.Fatalf("resolve() error = %v, want ErrEngineInit", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve() error = %v", err)
			}
			if b.model != tt.wantModel {
				t.Errorf("model = %q, want %q", b.model, tt.wantModel)
			}
		})
	}

	cfg := NewResolver(nil, nil, emptyDir).ssdConfig(customObject)
	if cfg.ConfigPath != customGraph {
		t.Errorf("ssdConfig().ConfigPath = %q, want %q", cfg.ConfigPath, customGraph)
	}
}

func TestNetPreference(t *testing.T) {
	tests := []struct {
		delegate    string
		wantBackend gocv.NetBackendType
		wantTarget  gocv.NetTargetType
	}{
		{DelegateGPU, gocv.NetBackendOpenCV, gocv.NetTargetOpenCL},
		{"gpu", gocv.NetBackendOpenCV, gocv.NetTargetOpenCL},
		{DelegateCPU, gocv.NetBackendDefault, gocv.NetTargetCPU},
		{"", gocv.NetBackendDefault, gocv.NetTargetCPU},
	}
	for _, tt := range tests {
		backend, target := netPreference(tt.delegate)
		if backend != tt.wantBackend || target != tt.wantTarget {
			t.Errorf("netPreference(%q) = %v, %v", tt.delegate, backend, target)
		}
	}
}

func TestYuNetConfig_FromOptions(t *testing.T) {
	opts := DefaultOptions(TaskFace)
	opts.MaxResults = 2
	opts.ScoreThreshold = 0.7
	opts.Delegate = DelegateCPU

	cfg := yunetConfig("/models/faces.onnx", opts)
	if cfg.ModelPath != "/models/faces.onnx" || cfg.MaxResults != 2 || cfg.ScoreThreshold != float32(0.7) {
		t.Errorf("yunetConfig() = %+v", cfg)
	}
	if cfg.Target != gocv.NetTargetCPU {
		t.Errorf("Target = %v, want CPU", cfg.Target)
	}
}

func TestKeepBest(t *testing.T) {
	det := func(name string, score float64) Detection {
		return Detection{Categories: []Category{{Name: name, Score: score}}}
	}
	in := []Detection{det("a", 0.4), det("b", 0.9), {}, det("c", 0.6)}

	got := keepBest(in, 2)
	if len(got) != 2 || got[0].Categories[0].Name != "b" || got[1].Categories[0].Name != "c" {
		t.Errorf("keepBest(2) = %+v", got)
	}
	if all := keepBest([]Detection{det("a", 0.1), det("b", 0.2)}, 0); len(all) != 2 || all[0].Categories[0].Name != "b" {
		t.Errorf("keepBest(0) = %+v", all)
	}
}

func TestMediaPipeFactory(t *testing.T) {
	t.Setenv("DRISHTI_HELPER_PROCESS", "1")

	factory := MediaPipeFactory(MediaPipeConfig{
		Python: os.Args[0],
		Script: "-test.run=TestHelperProcess",
	})
	det, err := factory(context.Background(), DefaultOptions(TaskHand))
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	defer det.Close()

	res, err := det.(*Process).DetectJPEG(42, []byte("jpeg"))
	if err != nil {
		t.Fatalf("DetectJPEG() error = %v", err)
	}
	if len(res.Detections) != 1 || res.Detections[0].Categories[0].Name != TaskHand {
		t.Errorf("result = %+v", res)
	}
}

func TestFindMediaPipe(t *testing.T) {
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	if cfg := FindMediaPipe(dataDir); cfg.Available() {
		t.Fatalf("FindMediaPipe() = %+v, want nothing found", cfg)
	}

	script := touch(t, filepath.Join(dataDir, "scripts", MediaPipeScript))
	python := touch(t, filepath.Join(dataDir, "venv", "bin", "python"))

	cfg := FindMediaPipe(dataDir)
	if cfg.Script != script || cfg.Python != python || !cfg.Available() {
		t.Errorf("FindMediaPipe() = %+v, want %s and %s", cfg, script, python)
	}
}
