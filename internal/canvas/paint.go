package canvas

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/ayusman/drishti/internal/draw"
)

// path is a closed polygon in canvas coordinates.
type path []draw.Vec

func paint(dst *image.RGBA, p draw.Primitive) {
	switch p := p.(type) {
	case draw.Rect:
		paintRect(dst, p)
	case draw.Text:
		paintText(dst, p)
	case draw.Point:
		paintPoint(dst, p)
	case draw.Segment:
		paintSegment(dst, p)
	}
}

func paintRect(dst *image.RGBA, r draw.Rect) {
	x0, y0 := r.Min.X, r.Min.Y
	x1, y1 := x0+r.Size.X, y0+r.Size.Y

	if r.Style.Fill {
		fill(dst, r.Style.Color, rectPath(x0, y0, x1, y1))
		return
	}

	// The stroke is centered on the rectangle's edge.
	h := r.Style.LineWidth / 2
	if h <= 0 {
		return
	}
	outer := rectPath(x0-h, y0-h, x1+h, y1+h)
	if x1-x0 <= 2*h || y1-y0 <= 2*h {
		fill(dst, r.Style.Color, outer)
		return
	}
	fill(dst, r.Style.Color, outer, reversed(rectPath(x0+h, y0+h, x1-h, y1-h)))
}

func rectPath(x0, y0, x1, y1 float64) path {
	return path{draw.V(x0, y0), draw.V(x1, y0), draw.V(x1, y1), draw.V(x0, y1)}
}

func paintPoint(dst *image.RGBA, p draw.Point) {
	r := p.Style.Radius
	if r <= 0 {
		return
	}

	if p.Style.Fill {
		c := p.Style.FillColor
		if c == (color.RGBA{}) {
			c = p.Style.Color
		}
		fill(dst, c, circlePath(p.Center, r))
	}

	h := p.Style.LineWidth / 2
	if h <= 0 {
		return
	}
	if r-h <= 0 {
		fill(dst, p.Style.Color, circlePath(p.Center, r+h))
		return
	}
	fill(dst, p.Style.Color, circlePath(p.Center, r+h), reversed(circlePath(p.Center, r-h)))
}

func circlePath(center draw.Vec, radius float64) path {
	n := int(radius * 4)
	if n < 16 {
		n = 16
	}
	pts := make(path, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = draw.V(center.X+radius*math.Cos(a), center.Y+radius*math.Sin(a))
	}
	return pts
}

func paintSegment(dst *image.RGBA, s draw.Segment) {
	dx, dy := s.To.X-s.From.X, s.To.Y-s.From.Y
	length := math.Hypot(dx, dy)
	h := s.Style.LineWidth / 2
	if length == 0 || h <= 0 {
		return
	}

	nx, ny := -dy/length*h, dx/length*h
	fill(dst, s.Style.Color, path{
		draw.V(s.From.X+nx, s.From.Y+ny),
		draw.V(s.To.X+nx, s.To.Y+ny),
		draw.V(s.To.X-nx, s.To.Y-ny),
		draw.V(s.From.X-nx, s.From.Y-ny),
	})
}

func paintText(dst *image.RGBA, t draw.Text) {
	draw.WithLabelFace(func(face font.Face) {
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(t.Style.Color),
			Face: face,
			Dot: fixed.Point26_6{
				X: fixed.Int26_6(math.Round(t.Origin.X * 64)),
				Y: fixed.Int26_6(math.Round(t.Origin.Y * 64)),
			},
		}
		d.DrawString(t.Value)
	})
}

func reversed(p path) path {
	out := make(path, len(p))
	for i, v := range p {
		out[len(p)-1-i] = v
	}
	return out
}

// fill rasterizes the union of the given closed paths. Paths wound in the
// opposite direction to the first cut holes. The rasterizer covers only the
// paths' bounding box clipped to dst; it clips geometry outside that box.
func fill(dst *image.RGBA, c color.RGBA, paths ...path) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range paths {
		for _, v := range p {
			minX, minY = math.Min(minX, v.X), math.Min(minY, v.Y)
			maxX, maxY = math.Max(maxX, v.X), math.Max(maxY, v.Y)
		}
	}
	if math.IsInf(minX, 0) || math.IsNaN(minX+minY+maxX+maxY) {
		return
	}

	clip := image.Rect(
		int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY)),
	).Intersect(dst.Bounds())
	if clip.Empty() {
		return
	}

	z := vector.NewRasterizer(clip.Dx(), clip.Dy())
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)
	for _, p := range paths {
		if len(p) < 3 {
			continue
		}
		z.MoveTo(float32(p[0].X-ox), float32(p[0].Y-oy))
		for _, v := range p[1:] {
			z.LineTo(float32(v.X-ox), float32(v.Y-oy))
		}
		z.ClosePath()
	}
	z.Draw(dst, clip, image.NewUniform(c), image.Point{})
}
