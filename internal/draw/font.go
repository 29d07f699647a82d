package draw

import (
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// LabelSize is the pixel size of label text.
const LabelSize = 25

var (
	labelOnce sync.Once
	labelFace font.Face
	labelErr  error

	// opentype faces keep per-face scratch buffers and are not safe for
	// concurrent use.
	labelMu sync.Mutex
)

func loadLabelFace() {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		labelErr = err
		return
	}
	labelFace, labelErr = opentype.NewFace(f, &opentype.FaceOptions{
		Size:    LabelSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// WithLabelFace runs fn with exclusive access to the label font face.
func WithLabelFace(fn func(face font.Face)) error {
	labelOnce.Do(loadLabelFace)
	if labelErr != nil {
		return labelErr
	}
	labelMu.Lock()
	defer labelMu.Unlock()
	fn(labelFace)
	return nil
}

// MeasureLabel returns the advance width in pixels of s rendered in the
// label face.
func MeasureLabel(s string) float64 {
	var width float64
	WithLabelFace(func(face font.Face) {
		width = float64(font.MeasureString(face, s).Ceil())
	})
	return width
}
