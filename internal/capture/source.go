// Package capture provides the frame source feeding the render loop: a
// camera read through GoCV (OpenCV) and a scripted mock for tests.
package capture

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrCameraUnavailable is returned (wrapped) by Acquire when the camera
	// cannot be opened or yields no frame.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrCameraNotOpen is returned when reading from a source that is not
	// acquired.
	ErrCameraNotOpen = errors.New("camera is not open")
)

// Resolution is the intrinsic frame size of a source.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Frame is a decoded video frame owned by the caller.
type Frame struct {
	Mat gocv.Mat

	// Position identifies the source frame this copy was taken from.
	Position int64
}

// Close releases the frame's pixels.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Source is a live video source.
type Source interface {
	// Acquire opens the source and reports its intrinsic resolution.
	// Failures wrap ErrCameraUnavailable.
	Acquire(ctx context.Context) (Resolution, error)

	// Position changes whenever a new frame is available.
	Position() int64

	// Frame returns a copy of the latest frame. The caller closes it.
	Frame() (*Frame, error)

	// Release stops the source. It is safe to call more than once and
	// before Acquire.
	Release() error
}
