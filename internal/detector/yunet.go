package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YuNetConfig configures the in-process face detector.
type YuNetConfig struct {
	ModelPath      string
	ScoreThreshold float32
	NMSThreshold   float32
	TopK           int
	MaxResults     int // 0 keeps every face
	Backend        gocv.NetBackendType
	Target         gocv.NetTargetType
}

// YuNet detects faces with OpenCV's FaceDetectorYN.
type YuNet struct {
	detector gocv.FaceDetectorYN
	config   YuNetConfig
	mu       sync.Mutex
}

// NewYuNet loads the YuNet ONNX model.
func NewYuNet(cfg YuNetConfig) (*YuNet, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file not found: %s", ErrEngineInit, cfg.ModelPath)
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.6
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5000
	}

	// Input size is reset per frame in Detect.
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(320, 320),
		cfg.ScoreThreshold,
		cfg.NMSThreshold,
		cfg.TopK,
		int(cfg.Backend),
		int(cfg.Target),
	)

	return &YuNet{detector: detector, config: cfg}, nil
}

// Detect finds faces in the frame. Boxes are in frame pixels; the five
// facial keypoints are normalized to the frame size.
func (d *YuNet) Detect(frame *gocv.Mat, timestampMs float64) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	cols, rows := frame.Cols(), frame.Rows()
	d.detector.SetInputSize(image.Pt(cols, rows))

	faces := gocv.NewMat()
	defer faces.Close()

	d.detector.Detect(*frame, &faces)

	// Output rows hold 15 columns: box x, y, w, h; five (x, y) keypoints;
	// score.
	result := &Result{}
	for r := 0; r < faces.Rows(); r++ {
		box := Box{
			OriginX: float64(faces.GetFloatAt(r, 0)),
			OriginY: float64(faces.GetFloatAt(r, 1)),
			Width:   float64(faces.GetFloatAt(r, 2)),
			Height:  float64(faces.GetFloatAt(r, 3)),
		}

		keypoints := make([]Landmark, 5)
		for k := range keypoints {
			keypoints[k] = Landmark{
				X: float64(faces.GetFloatAt(r, 4+2*k)) / float64(cols),
				Y: float64(faces.GetFloatAt(r, 5+2*k)) / float64(rows),
			}
		}

		result.Detections = append(result.Detections, Detection{
			Box:        &box,
			Landmarks:  keypoints,
			Categories: []Category{{Name: "face", Score: float64(faces.GetFloatAt(r, 14))}},
		})
	}

	result.Detections = keepBest(result.Detections, d.config.MaxResults)
	return result, nil
}

// Close releases the detector resources.
func (d *YuNet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}

// YuNetFactory returns a Factory building YuNet from modelPath. Score
// threshold, max results and delegate come from the options.
func YuNetFactory(modelPath string) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
		}
		return NewYuNet(yunetConfig(modelPath, opts))
	}
}

func yunetConfig(modelPath string, opts Options) YuNetConfig {
	backend, target := netPreference(opts.Delegate)
	return YuNetConfig{
		ModelPath:      modelPath,
		ScoreThreshold: float32(opts.ScoreThreshold),
		MaxResults:     opts.MaxResults,
		Backend:        backend,
		Target:         target,
	}
}
