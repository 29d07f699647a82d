package detector

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// SSDConfig configures the in-process object detector.
type SSDConfig struct {
	ModelPath      string
	ConfigPath     string
	LabelsPath     string
	InputSize      int
	Scale          float64
	Mean           gocv.Scalar
	SwapRB         bool
	ScoreThreshold float64
	MaxResults     int
	Backend        gocv.NetBackendType
	Target         gocv.NetTargetType
}

// SSD detects objects with a single-shot detector network loaded through
// OpenCV's dnn module. The network output is [1, 1, N, 7]: image id, class
// id, score, and the box corners normalized to the input.
type SSD struct {
	net    gocv.Net
	labels []string
	config SSDConfig
	mu     sync.Mutex
}

// NewSSD loads the network and its label file.
func NewSSD(cfg SSDConfig) (*SSD, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: model file not found: %s", ErrEngineInit, cfg.ModelPath)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 300
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1.0 / 127.5
		cfg.Mean = gocv.NewScalar(127.5, 127.5, 127.5, 0)
	}

	var labels []string
	if cfg.LabelsPath != "" {
		f, err := os.Open(cfg.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: open labels: %v", ErrEngineInit, err)
		}
		labels, err = parseLabels(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read labels: %v", ErrEngineInit, err)
		}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: could not read network %s", ErrEngineInit, cfg.ModelPath)
	}
	net.SetPreferableBackend(cfg.Backend)
	net.SetPreferableTarget(cfg.Target)

	return &SSD{net: net, labels: labels, config: cfg}, nil
}

// Detect runs the network on the frame.
func (d *SSD) Detect(frame *gocv.Mat, timestampMs float64) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	size := image.Pt(d.config.InputSize, d.config.InputSize)
	blob := gocv.BlobFromImage(*frame, d.config.Scale, size, d.config.Mean, d.config.SwapRB, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()

	out := gocv.GetBlobChannel(prob, 0, 0)
	defer out.Close()

	raw := make([][7]float32, out.Rows())
	for r := range raw {
		for c := 0; c < 7; c++ {
			raw[r][c] = out.GetFloatAt(r, c)
		}
	}

	return &Result{
		Detections: selectDetections(raw, frame.Cols(), frame.Rows(), d.labels, d.config.ScoreThreshold, d.config.MaxResults),
	}, nil
}

// Close releases the network.
func (d *SSD) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// selectDetections converts raw SSD rows into detections in frame pixels,
// dropping rows under threshold and keeping at most limit (0 keeps all), best
// score first.
func selectDetections(raw [][7]float32, cols, rows int, labels []string, threshold float64, limit int) []Detection {
	var detections []Detection
	for _, row := range raw {
		score := float64(row[2])
		if score < threshold || score <= 0 {
			continue
		}

		left := clamp01(float64(row[3])) * float64(cols)
		top := clamp01(float64(row[4])) * float64(rows)
		right := clamp01(float64(row[5])) * float64(cols)
		bottom := clamp01(float64(row[6])) * float64(rows)
		if right <= left || bottom <= top {
			continue
		}

		box := Box{OriginX: left, OriginY: top, Width: right - left, Height: bottom - top}
		detections = append(detections, Detection{
			Box:        &box,
			Categories: []Category{{Name: labelFor(labels, int(row[1])), Score: score}},
		})
	}

	return keepBest(detections, limit)
}

func labelFor(labels []string, class int) string {
	if class >= 0 && class < len(labels) && labels[class] != "" {
		return labels[class]
	}
	return fmt.Sprintf("class %d", class)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseLabels reads one label per line; the line index is the class id.
func parseLabels(r io.Reader) ([]string, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	return labels, scanner.Err()
}

// SSDFactory returns a Factory building SSD from cfg. Score threshold and
// max results from the options override cfg when set; the delegate picks the
// dnn target.
func SSDFactory(cfg SSDConfig) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
		}
		c := cfg
		if opts.ScoreThreshold > 0 {
			c.ScoreThreshold = opts.ScoreThreshold
		}
		if opts.MaxResults > 0 {
			c.MaxResults = opts.MaxResults
		}
		c.Backend, c.Target = netPreference(opts.Delegate)
		return NewSSD(c)
	}
}
