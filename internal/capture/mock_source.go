package capture

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockSource is a scripted Source for tests. Each Position call consumes the
// next scripted position; once the script runs out the last position
// repeats. Frames are blank images of the configured resolution unless
// frames are set, in which case they are played back in order.
type MockSource struct {
	mu         sync.Mutex
	resolution Resolution
	script     []int64
	position   int64
	frames     []*gocv.Mat
	index      int
	acquireErr error
	block      chan struct{}
	acquired   bool
	acquires   int
	releases   int
	served     int
}

// NewMockSource creates a MockSource with the given resolution and scripted
// positions.
func NewMockSource(res Resolution, positions ...int64) *MockSource {
	return &MockSource{
		resolution: res,
		script:     positions,
	}
}

// FailAcquire makes Acquire fail with err wrapped in ErrCameraUnavailable.
func (s *MockSource) FailAcquire(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErr = err
}

// BlockAcquire makes Acquire wait until the returned function is called or
// its context is done.
func (s *MockSource) BlockAcquire() (unblock func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = make(chan struct{})
	var once sync.Once
	block := s.block
	return func() { once.Do(func() { close(block) }) }
}

// SetFrames replaces the frames played back by Frame.
func (s *MockSource) SetFrames(frames []*gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
	s.index = 0
}

// SetPositions replaces the position script.
func (s *MockSource) SetPositions(positions ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = positions
}

func (s *MockSource) Acquire(ctx context.Context) (Resolution, error) {
	s.mu.Lock()
	s.acquires++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Resolution{}, fmt.Errorf("%w: %v", ErrCameraUnavailable, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acquireErr != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrCameraUnavailable, s.acquireErr)
	}
	s.acquired = true
	return s.resolution, nil
}

func (s *MockSource) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.script) > 0 {
		s.position = s.script[0]
		s.script = s.script[1:]
	}
	return s.position
}

func (s *MockSource) Frame() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acquired {
		return nil, ErrCameraNotOpen
	}
	s.served++

	if len(s.frames) > 0 {
		// Clone so the caller can close its copy.
		mat := s.frames[s.index%len(s.frames)].Clone()
		s.index++
		return &Frame{Mat: mat, Position: s.position}, nil
	}

	mat := gocv.NewMatWithSize(s.resolution.Height, s.resolution.Width, gocv.MatTypeCV8UC3)
	return &Frame{Mat: mat, Position: s.position}, nil
}

// Release counts every call so tests can check it happens exactly once.
func (s *MockSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	s.acquired = false
	return nil
}

// Acquires returns how many times Acquire was called.
func (s *MockSource) Acquires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

// Releases returns how many times Release was called.
func (s *MockSource) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// FramesServed returns how many frames Frame handed out.
func (s *MockSource) FramesServed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}
