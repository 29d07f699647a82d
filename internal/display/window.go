// Package display shows the annotated surface in a native OpenCV window.
package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// ErrClosed is returned by Run when the user closes the window with Esc or q.
var ErrClosed = errors.New("display window closed")

// Placeholder size used while nothing has been presented.
const (
	placeholderWidth  = 640
	placeholderHeight = 480
)

// Frames is the annotated surface.
type Frames interface {
	Subscribe() (<-chan struct{}, func())
	Snapshot() (*image.RGBA, uint64)
}

// Window mirrors a surface into an OpenCV window.
type Window struct {
	title   string
	frames  Frames
	message func() string
}

// New creates a Window. message, when set, returns text to show instead of
// the video, such as the loading or error message of the mounted mode; an
// empty string shows the video.
func New(title string, frames Frames, message func() string) *Window {
	return &Window{title: title, frames: frames, message: message}
}

// Run shows frames until ctx is done or the user presses Esc or q. OpenCV
// requires it to run on the main thread on some platforms.
func (w *Window) Run(ctx context.Context) error {
	window := gocv.NewWindow(w.title)
	defer window.Close()

	updates, cancel := w.frames.Subscribe()
	defer cancel()

	log.Info().Str("title", w.title).Msg("display window opened")

	var last uint64
	var shown string
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msg := ""
		if w.message != nil {
			msg = w.message()
		}

		img, seq := w.frames.Snapshot()
		switch {
		case msg != "":
			if msg != shown {
				mat := placeholder(msg)
				window.IMShow(mat)
				mat.Close()
				shown = msg
			}
		case img != nil && seq != last:
			mat, err := toMat(img)
			if err != nil {
				return fmt.Errorf("convert frame: %w", err)
			}
			window.IMShow(mat)
			mat.Close()
			last = seq
			shown = ""
		}

		// WaitKey pumps the window's event loop.
		key := window.WaitKey(1)
		if key == 27 || key == 'q' {
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil
		case <-updates:
		default:
		}
	}
}

// toMat converts an RGBA image into a BGR Mat.
func toMat(img *image.RGBA) (gocv.Mat, error) {
	return gocv.ImageToMatRGB(img)
}

// placeholder renders message centered on a black frame.
func placeholder(message string) gocv.Mat {
	mat := gocv.NewMatWithSize(placeholderHeight, placeholderWidth, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))

	const scale = 0.8
	const thickness = 2
	size := gocv.GetTextSize(message, gocv.FontHersheySimplex, scale, thickness)
	origin := image.Pt((placeholderWidth-size.X)/2, (placeholderHeight+size.Y)/2)
	gocv.PutText(&mat, message, origin, gocv.FontHersheySimplex, scale, color.RGBA{255, 255, 255, 255}, thickness)
	return mat
}
