package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// MinInsertSize is the smallest width or height a drag-inserted layer may
// have. Smaller drags are treated as clicks.
const MinInsertSize = 5

type Bounds struct {
	X, Y, Width, Height float64
}

// InsertBounds normalizes the rectangle spanned by two drag corners.
func InsertBounds(a, b Point) Bounds {
	return Bounds{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// NewDefaultLayer builds a layer of the given type filling bounds, styled
// the way the editor inserts new shapes.
func NewDefaultLayer(t LayerType, b Bounds) (Layer, error) {
	base := BaseLayer{
		ID:      uuid.NewString(),
		Type:    t,
		X:       b.X,
		Y:       b.Y,
		Width:   b.Width,
		Height:  b.Height,
		Visible: true,
		Name:    layerName(t),
	}
	shapeFill := NewRGBA(229, 229, 229, 1)

	switch t {
	case LayerRectangle:
		return &RectangleLayer{BaseLayer: base, Fill: shapeFill, CornerRadius: &CornerRadius{}}, nil
	case LayerEllipse:
		return &EllipseLayer{BaseLayer: base, Fill: shapeFill}, nil
	case LayerPath:
		return &PathLayer{
			BaseLayer: base,
			Fill:      shapeFill,
			Points:    [][]float64{{0, 0}, {50, 50}, {100, 0}},
		}, nil
	case LayerText:
		return &TextLayer{
			BaseLayer:  base,
			Value:      "Text Layer",
			FontSize:   Float(16),
			FontFamily: "Arial",
			FontWeight: 400,
			Fill:       NewRGBA(0, 0, 0, 1),
		}, nil
	case LayerGroup:
		return &GroupLayer{BaseLayer: base, Children: []string{}}, nil
	default:
		return nil, fmt.Errorf("unknown layer type: %s", t)
	}
}

func layerName(t LayerType) string {
	s := string(t)
	if s == "" {
		return "Layer"
	}
	return strings.ToUpper(s[:1]) + s[1:] + " Layer"
}

// PathLayerFromPoints turns freehand pen input into a path layer. Each
// point is {x, y, pressure...}; points are re-based to the bounding box
// origin and the position is scaled by zoom.
func PathLayerFromPoints(points [][]float64, color RGBA, zoom float64) *PathLayer {
	if zoom == 0 {
		zoom = 1
	}
	left, top := math.Inf(1), math.Inf(1)
	right, bottom := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		if len(p) < 2 {
			continue
		}
		left = math.Min(left, p[0])
		top = math.Min(top, p[1])
		right = math.Max(right, p[0])
		bottom = math.Max(bottom, p[1])
	}
	if math.IsInf(left, 1) {
		left, top, right, bottom = 0, 0, 0, 0
	}

	rebased := make([][]float64, 0, len(points))
	for _, p := range points {
		if len(p) < 2 {
			continue
		}
		q := append([]float64(nil), p...)
		q[0] -= left
		q[1] -= top
		rebased = append(rebased, q)
	}

	id := uuid.NewString()
	return &PathLayer{
		BaseLayer: BaseLayer{
			ID:      id,
			Type:    LayerPath,
			X:       left / zoom,
			Y:       top / zoom,
			Width:   right - left,
			Height:  bottom - top,
			Visible: true,
			Name:    id,
		},
		Fill:   color.Clone(),
		Stroke: &Stroke{Color: color.Clone(), Width: 1},
		Points: rebased,
	}
}
