package annotate

import (
	"fmt"
	"image"

	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/draw"
)

// Overlay styles.
var (
	FaceStyle   = draw.Style{Color: faceColor, LineWidth: 4}
	ObjectStyle = draw.Style{Color: objectColor, LineWidth: 4}

	HandConnectorStyle = draw.Style{Color: draw.Hex("#00FF00"), LineWidth: 5}
	HandPointStyle     = draw.Style{Color: draw.Hex("#FF0000"), FillColor: labelColor, Fill: true, LineWidth: 2, Radius: 6}

	PoseConnectorStyle = draw.Style{Color: labelColor, LineWidth: 4}
	PosePointStyle     = draw.Style{Color: labelColor, FillColor: labelColor, Fill: true, LineWidth: 4}
)

// Pose point radius: a landmark at depth PoseNearZ gets PoseNearRadius, one
// at PoseFarZ or beyond gets PoseFarRadius.
const (
	PoseNearZ      = -0.15
	PoseFarZ       = 0.1
	PoseNearRadius = 5
	PoseFarRadius  = 1
)

// Face outlines each face and labels it with the top category's score.
type Face struct{}

func (Face) Annotate(res *detector.Result, frame image.Point) []draw.Primitive {
	if res == nil {
		return nil
	}
	var out []draw.Primitive
	for _, d := range res.Detections {
		if d.Box == nil {
			continue
		}
		label := ""
		if c, ok := d.TopCategory(); ok && c.Score != 0 {
			label = Percent(c.Score)
		}
		out = boxed(out, *d.Box, FaceStyle, label)
	}
	return out
}

// Object outlines each object and labels it "<category>: NN%".
type Object struct{}

func (Object) Annotate(res *detector.Result, frame image.Point) []draw.Primitive {
	if res == nil {
		return nil
	}
	var out []draw.Primitive
	for _, d := range res.Detections {
		if d.Box == nil {
			continue
		}
		label := ""
		if c, ok := d.TopCategory(); ok && c.Score != 0 {
			label = fmt.Sprintf("%s: %s", c.Name, Percent(c.Score))
		}
		out = boxed(out, *d.Box, ObjectStyle, label)
	}
	return out
}

// Hand draws each hand's skeleton, then its landmarks on top.
type Hand struct{}

func (Hand) Annotate(res *detector.Result, frame image.Point) []draw.Primitive {
	if res == nil {
		return nil
	}
	var out []draw.Primitive
	for _, d := range res.Detections {
		out = connectors(out, d.Landmarks, detector.HandConnections, frame, HandConnectorStyle)
		for _, l := range d.Landmarks {
			out = append(out, draw.Point{Center: project(l, frame), Style: HandPointStyle})
		}
	}
	return out
}

// Pose draws each body's landmarks sized by depth, then its skeleton on top.
type Pose struct{}

func (Pose) Annotate(res *detector.Result, frame image.Point) []draw.Primitive {
	if res == nil {
		return nil
	}
	var out []draw.Primitive
	for _, d := range res.Detections {
		for _, l := range d.Landmarks {
			style := PosePointStyle
			style.Radius = PoseRadius(l.Z)
			out = append(out, draw.Point{Center: project(l, frame), Style: style})
		}
		out = connectors(out, d.Landmarks, detector.PoseConnections, frame, PoseConnectorStyle)
	}
	return out
}

// PoseRadius maps a landmark depth onto a point radius; closer is larger.
func PoseRadius(z float64) float64 {
	return draw.Lerp(z, PoseNearZ, PoseFarZ, PoseNearRadius, PoseFarRadius)
}
