package detector

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results and records every call.
type MockDetector struct {
	mu         sync.Mutex
	result     *Result
	err        error
	timestamps []float64
	closed     int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResult sets the result returned by Detect.
func (m *MockDetector) SetResult(res *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = res
}

// SetError sets the error returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured result or error.
func (m *MockDetector) Detect(frame *gocv.Mat, timestampMs float64) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timestamps = append(m.timestamps, timestampMs)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &Result{}, nil
	}
	return m.result, nil
}

// Calls returns the number of Detect calls so far.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timestamps)
}

// Timestamps returns the timestamps passed to Detect, in call order.
func (m *MockDetector) Timestamps() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.timestamps...)
}

// Close records the call.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Closed returns how many times Close was called.
func (m *MockDetector) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// StaticFactory returns a Factory that always yields d.
func StaticFactory(d Detector) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// FailingFactory returns a Factory whose construction always fails with cause.
func FailingFactory(cause error) Factory {
	return func(ctx context.Context, opts Options) (Detector, error) {
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, cause)
	}
}

// FaceResult builds a single-face result, as a MediaPipe face detector reports it.
func FaceResult(box Box, score float64) *Result {
	return &Result{Detections: []Detection{{
		Box:        &box,
		Categories: []Category{{Score: score}},
	}}}
}

// OpenPalmLandmarks returns a right hand with all fingers extended, in
// normalized frame coordinates.
func OpenPalmLandmarks() []Landmark {
	points := make([]Landmark, NumHandLandmarks)

	points[Wrist] = Landmark{X: 0.5, Y: 0.8}

	points[ThumbCMC] = Landmark{X: 0.55, Y: 0.75, Z: 0.02}
	points[ThumbMCP] = Landmark{X: 0.62, Y: 0.70, Z: 0.03}
	points[ThumbIP] = Landmark{X: 0.68, Y: 0.65, Z: 0.03}
	points[ThumbTip] = Landmark{X: 0.73, Y: 0.60, Z: 0.03}

	points[IndexMCP] = Landmark{X: 0.55, Y: 0.68}
	points[IndexPIP] = Landmark{X: 0.57, Y: 0.55}
	points[IndexDIP] = Landmark{X: 0.58, Y: 0.45}
	points[IndexTip] = Landmark{X: 0.58, Y: 0.35}

	points[MiddleMCP] = Landmark{X: 0.50, Y: 0.66}
	points[MiddlePIP] = Landmark{X: 0.50, Y: 0.52}
	points[MiddleDIP] = Landmark{X: 0.50, Y: 0.40}
	points[MiddleTip] = Landmark{X: 0.50, Y: 0.28}

	points[RingMCP] = Landmark{X: 0.45, Y: 0.68}
	points[RingPIP] = Landmark{X: 0.43, Y: 0.55}
	points[RingDIP] = Landmark{X: 0.42, Y: 0.45}
	points[RingTip] = Landmark{X: 0.42, Y: 0.35}

	points[PinkyMCP] = Landmark{X: 0.40, Y: 0.70}
	points[PinkyPIP] = Landmark{X: 0.37, Y: 0.60}
	points[PinkyDIP] = Landmark{X: 0.35, Y: 0.50}
	points[PinkyTip] = Landmark{X: 0.34, Y: 0.42}

	return points
}
