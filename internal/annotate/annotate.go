// Package annotate turns detector results into overlay primitives. Each
// annotator is pure: the same result and frame size always yield the same
// primitives in the same order, and later primitives paint over earlier ones.
package annotate

import (
	"fmt"
	"image"
	"math"

	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/draw"
)

// Annotator translates one detection result into draw primitives. frame is
// the frame size used to project normalized landmarks into pixels.
type Annotator interface {
	Annotate(res *detector.Result, frame image.Point) []draw.Primitive
}

// Func adapts a function to the Annotator interface.
type Func func(res *detector.Result, frame image.Point) []draw.Primitive

// Annotate calls f.
func (f Func) Annotate(res *detector.Result, frame image.Point) []draw.Primitive {
	return f(res, frame)
}

// Label plate geometry.
const (
	PlatePadding = 20
	PlateHeight  = 35
	TextInsetX   = 10
	TextBaseline = 25
)

var (
	faceColor   = draw.Hex("#5383EC")
	objectColor = draw.Hex("#5DBEDC")
	labelColor  = draw.Hex("#FFFFFF")
)

// Percent formats a score in [0, 1] as a rounded percentage, "87%".
func Percent(score float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(score*100)))
}

// boxed draws an outlined box with an optional label plate at its top-left
// corner. The plate is sized to the label text.
func boxed(out []draw.Primitive, box detector.Box, outline draw.Style, label string) []draw.Primitive {
	origin := draw.V(box.OriginX, box.OriginY)

	out = append(out, draw.Rect{
		Min:   origin,
		Size:  draw.V(box.Width, box.Height),
		Style: outline,
	})

	if label == "" {
		return out
	}

	return append(out,
		draw.Rect{
			Min:   origin,
			Size:  draw.V(draw.MeasureLabel(label)+PlatePadding, PlateHeight),
			Style: draw.Style{Color: outline.Color, Fill: true},
		},
		draw.Text{
			Origin: origin.Add(draw.V(TextInsetX, TextBaseline)),
			Value:  label,
			Style:  draw.Style{Color: labelColor},
		},
	)
}

// project maps a normalized landmark into frame pixels.
func project(l detector.Landmark, frame image.Point) draw.Vec {
	return draw.V(l.X*float64(frame.X), l.Y*float64(frame.Y))
}

// connectors draws one segment per connection whose ends both exist.
func connectors(out []draw.Primitive, landmarks []detector.Landmark, conns []detector.Connection, frame image.Point, style draw.Style) []draw.Primitive {
	for _, c := range conns {
		if c.From >= len(landmarks) || c.To >= len(landmarks) {
			continue
		}
		out = append(out, draw.Segment{
			From:  project(landmarks[c.From], frame),
			To:    project(landmarks[c.To], frame),
			Style: style,
		})
	}
	return out
}
