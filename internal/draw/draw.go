// Package draw defines the overlay primitives produced by annotators and
// consumed by drawing surfaces.
package draw

import (
	"fmt"
	"image/color"
	"math"
)

// Vec is a position or extent in frame pixels.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// V is shorthand for Vec{X: x, Y: y}.
func V(x, y float64) Vec {
	return Vec{X: x, Y: y}
}

// Add returns v translated by d.
func (v Vec) Add(d Vec) Vec {
	return Vec{X: v.X + d.X, Y: v.Y + d.Y}
}

// Style describes how a primitive is painted.
type Style struct {
	Color     color.RGBA
	LineWidth float64
	// Radius is only used by points.
	Radius float64
	// Fill paints the interior of rects and points. Rects are then not
	// outlined; points are still outlined when LineWidth is set.
	Fill bool
	// FillColor is the interior color of filled points. Zero means Color.
	FillColor color.RGBA
}

// Primitive is one of Rect, Text, Point or Segment.
type Primitive interface {
	primitive()
}

// Rect is an axis-aligned rectangle with its top-left corner at Min.
type Rect struct {
	Min   Vec
	Size  Vec
	Style Style
}

// Text is a single line of label text. Origin is the left end of the baseline.
type Text struct {
	Origin Vec
	Value  string
	Style  Style
}

// Point is a landmark marker centered on Center.
type Point struct {
	Center Vec
	Style  Style
}

// Segment is a straight connector between two landmarks.
type Segment struct {
	From  Vec
	To    Vec
	Style Style
}

func (Rect) primitive()    {}
func (Text) primitive()    {}
func (Point) primitive()   {}
func (Segment) primitive() {}

// Hex parses a "#RRGGBB" color. It panics on malformed input and is meant for
// package-level palette definitions.
func Hex(s string) color.RGBA {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		panic(fmt.Sprintf("draw: bad color %q: %v", s, err))
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Lerp maps value from the domain [lo, hi] onto [from, to]. Values outside
// the domain are clamped to its ends.
func Lerp(value, lo, hi, from, to float64) float64 {
	if hi == lo {
		return from
	}
	t := (value - lo) / (hi - lo)
	t = math.Max(0, math.Min(1, t))
	return from + (to-from)*t
}
