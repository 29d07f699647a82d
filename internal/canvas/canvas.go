// Package canvas implements the drawing surface the render loop paints on:
// a double-buffered RGBA raster that takes camera frames and overlay
// primitives, rasterized with golang.org/x/image.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	"image/jpeg"
	"sync"

	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"

	"github.com/ayusman/drishti/internal/draw"
)

// DefaultJPEGQuality is used by JPEG when quality is out of range.
const DefaultJPEGQuality = 85

// ErrNotSized is returned when drawing before Resize.
var ErrNotSized = errors.New("canvas has no size")

// Canvas is a double-buffered drawing surface. One goroutine draws into the
// back buffer and calls Present; any number of readers take snapshots of the
// front buffer.
type Canvas struct {
	drawMu sync.Mutex
	back   *image.RGBA

	mu    sync.RWMutex
	front *image.RGBA
	seq   uint64

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// New creates a Canvas with no size. Resize must be called before drawing.
func New() *Canvas {
	return &Canvas{subs: make(map[chan struct{}]struct{})}
}

// Resize sets the pixel dimensions of both buffers and clears them.
func (c *Canvas) Resize(width, height int) {
	c.drawMu.Lock()
	c.back = image.NewRGBA(image.Rect(0, 0, width, height))
	c.drawMu.Unlock()

	c.mu.Lock()
	c.front = image.NewRGBA(image.Rect(0, 0, width, height))
	c.seq = 0
	c.mu.Unlock()
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() image.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.front == nil {
		return image.Point{}
	}
	return c.front.Bounds().Size()
}

// Clear makes the back buffer fully transparent.
func (c *Canvas) Clear() {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()
	if c.back == nil {
		return
	}
	clear(c.back.Pix)
}

// DrawFrame paints a BGR or BGRA frame over the whole back buffer, scaling
// it if its size differs from the canvas.
func (c *Canvas) DrawFrame(frame *gocv.Mat) error {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	if c.back == nil {
		return ErrNotSized
	}
	if frame.Empty() {
		return errors.New("empty frame")
	}

	var channels int
	switch frame.Type() {
	case gocv.MatTypeCV8UC3:
		channels = 3
	case gocv.MatTypeCV8UC4:
		channels = 4
	default:
		return fmt.Errorf("unsupported frame type %v", frame.Type())
	}

	cols, rows := frame.Cols(), frame.Rows()
	data := frame.ToBytes()

	dst := c.back
	scaled := cols != c.back.Rect.Dx() || rows != c.back.Rect.Dy()
	if scaled {
		dst = image.NewRGBA(image.Rect(0, 0, cols, rows))
	}

	bgrToRGBA(dst, data, cols, rows, channels)

	if scaled {
		xdraw.ApproxBiLinear.Scale(c.back, c.back.Bounds(), dst, dst.Bounds(), xdraw.Src, nil)
	}
	return nil
}

// bgrToRGBA copies packed BGR(A) pixels into an RGBA image of the same size.
func bgrToRGBA(dst *image.RGBA, data []byte, cols, rows, channels int) {
	for y := 0; y < rows; y++ {
		src := data[y*cols*channels : (y+1)*cols*channels]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+cols*4]
		for x := 0; x < cols; x++ {
			s := src[x*channels:]
			d := row[x*4:]
			d[0] = s[2]
			d[1] = s[1]
			d[2] = s[0]
			d[3] = 0xff
		}
	}
}

// DrawImage paints img over the whole back buffer. It is the image.Image
// counterpart of DrawFrame.
func (c *Canvas) DrawImage(img image.Image) error {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	if c.back == nil {
		return ErrNotSized
	}
	if img.Bounds().Size() == c.back.Bounds().Size() {
		stddraw.Draw(c.back, c.back.Bounds(), img, img.Bounds().Min, stddraw.Src)
		return nil
	}
	xdraw.ApproxBiLinear.Scale(c.back, c.back.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return nil
}

// DrawPrimitives paints primitives in order into the back buffer.
func (c *Canvas) DrawPrimitives(primitives []draw.Primitive) {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	if c.back == nil {
		return
	}
	for _, p := range primitives {
		paint(c.back, p)
	}
}

// Present publishes the back buffer to readers.
func (c *Canvas) Present() {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	if c.back == nil {
		return
	}

	c.mu.Lock()
	if c.front == nil || c.front.Rect != c.back.Rect {
		c.front = image.NewRGBA(c.back.Rect)
	}
	copy(c.front.Pix, c.back.Pix)
	c.seq++
	c.mu.Unlock()

	c.notify()
}

// Seq returns the number of frames presented since the last Resize.
func (c *Canvas) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Snapshot returns a copy of the front buffer and its sequence number.
func (c *Canvas) Snapshot() (*image.RGBA, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.front == nil {
		return nil, 0
	}
	img := image.NewRGBA(c.front.Rect)
	copy(img.Pix, c.front.Pix)
	return img, c.seq
}

// JPEG encodes the front buffer.
func (c *Canvas) JPEG(quality int) ([]byte, uint64, error) {
	img, seq := c.Snapshot()
	if img == nil {
		return nil, 0, ErrNotSized
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), seq, nil
}

// Subscribe returns a channel that receives a signal after each Present.
// Signals are dropped for slow readers. Call cancel to unsubscribe.
func (c *Canvas) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, ch)
			c.subsMu.Unlock()
		})
	}
}

func (c *Canvas) notify() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
