package loop

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/draw"
)

// Surface operations recorded by RecordingSurface.
const (
	OpResize     = "resize"
	OpClear      = "clear"
	OpDrawFrame  = "frame"
	OpPrimitives = "primitives"
	OpPresent    = "present"
)

// RecordingSurface is a Surface that records every call for tests.
type RecordingSurface struct {
	mu         sync.Mutex
	ops        []string
	size       image.Point
	primitives [][]draw.Primitive
	frameErr   error
}

// NewRecordingSurface creates an empty RecordingSurface.
func NewRecordingSurface() *RecordingSurface {
	return &RecordingSurface{}
}

// FailDrawFrame makes DrawFrame return err.
func (s *RecordingSurface) FailDrawFrame(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameErr = err
}

func (s *RecordingSurface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, OpResize)
	s.size = image.Pt(width, height)
}

func (s *RecordingSurface) Clear() {
	s.record(OpClear)
}

func (s *RecordingSurface) DrawFrame(frame *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, OpDrawFrame)
	return s.frameErr
}

func (s *RecordingSurface) DrawPrimitives(primitives []draw.Primitive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, OpPrimitives)
	s.primitives = append(s.primitives, primitives)
}

func (s *RecordingSurface) Present() {
	s.record(OpPresent)
}

func (s *RecordingSurface) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// Ops returns the recorded operations in call order.
func (s *RecordingSurface) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Size returns the last size passed to Resize.
func (s *RecordingSurface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Primitives returns the primitive batches passed to DrawPrimitives.
func (s *RecordingSurface) Primitives() [][]draw.Primitive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]draw.Primitive(nil), s.primitives...)
}

// Count returns how many times op was recorded.
func (s *RecordingSurface) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.ops {
		if o == op {
			n++
		}
	}
	return n
}
