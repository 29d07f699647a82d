package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// readRetryDelay is how long the grabber waits after a failed read.
const readRetryDelay = 10 * time.Millisecond

// Options configures the requested capture format. The device may pick a
// different size; Acquire reports the one actually delivered.
type Options struct {
	Width  int
	Height int
	FPS    int
}

// Camera is a Source reading a video-only capture device. Once acquired, a
// grabber goroutine keeps a copy of the most recent frame.
type Camera struct {
	deviceID int
	opts     Options

	mu       sync.Mutex
	capture  *gocv.VideoCapture
	latest   gocv.Mat
	position int64
	res      Resolution
	acquired bool
	released bool
	stop     chan struct{}
	done     chan struct{}
}

// NewCamera creates a Camera for the given device ID. Zero option fields
// take the defaults.
func NewCamera(deviceID int, opts Options) *Camera {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &Camera{
		deviceID: deviceID,
		opts:     opts,
	}
}

type openResult struct {
	capture *gocv.VideoCapture
	first   gocv.Mat
	err     error
}

// Acquire opens the device and reads a first frame to learn the intrinsic
// resolution. Opening can block for a long time (device permission prompts),
// so it is raced against ctx.
func (c *Camera) Acquire(ctx context.Context) (Resolution, error) {
	c.mu.Lock()
	if c.acquired {
		res := c.res
		c.mu.Unlock()
		return res, nil
	}
	if c.released {
		c.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: camera released", ErrCameraUnavailable)
	}
	c.mu.Unlock()

	ch := make(chan openResult, 1)
	go func() {
		ch <- c.open()
	}()

	var opened openResult
	select {
	case opened = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.err == nil {
				late.first.Close()
				late.capture.Close()
			}
		}()
		return Resolution{}, fmt.Errorf("%w: %v", ErrCameraUnavailable, ctx.Err())
	}
	if opened.err != nil {
		return Resolution{}, fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, c.deviceID, opened.err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		opened.first.Close()
		opened.capture.Close()
		return Resolution{}, fmt.Errorf("%w: camera released", ErrCameraUnavailable)
	}

	c.capture = opened.capture
	c.latest = opened.first
	c.position = 1
	c.res = Resolution{Width: opened.first.Cols(), Height: opened.first.Rows()}
	c.acquired = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.grab(c.stop, c.done)

	log.Info().
		Int("device", c.deviceID).
		Int("width", c.res.Width).
		Int("height", c.res.Height).
		Msg("camera acquired")

	return c.res, nil
}

func (c *Camera) open() openResult {
	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return openResult{err: err}
	}
	if !capture.IsOpened() {
		capture.Close()
		return openResult{err: errors.New("device did not open")}
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.opts.FPS))

	first := gocv.NewMat()
	if ok := capture.Read(&first); !ok || first.Empty() {
		first.Close()
		capture.Close()
		return openResult{err: errors.New("failed to read first frame")}
	}

	return openResult{capture: capture, first: first}
}

// grab reads frames until stop is closed. Each decoded frame replaces the
// latest copy and advances the position.
func (c *Camera) grab(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := c.capture.Read(&mat); !ok || mat.Empty() {
			time.Sleep(readRetryDelay)
			continue
		}

		c.mu.Lock()
		mat.CopyTo(&c.latest)
		c.position++
		c.mu.Unlock()
	}
}

// Position returns the number of frames decoded so far.
func (c *Camera) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Frame returns a copy of the latest frame.
func (c *Camera) Frame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acquired || c.released {
		return nil, ErrCameraNotOpen
	}

	return &Frame{Mat: c.latest.Clone(), Position: c.position}, nil
}

// Resolution returns the intrinsic resolution learned by Acquire.
func (c *Camera) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// Release stops the grabber and closes the device.
func (c *Camera) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	if !c.acquired {
		c.mu.Unlock()
		return nil
	}
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	defer c.mu.Unlock()

	err := errors.Join(c.capture.Close(), c.latest.Close())
	c.capture = nil

	log.Info().Int("device", c.deviceID).Msg("camera released")
	return err
}
