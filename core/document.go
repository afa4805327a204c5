package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

type (
	Units            string
	ExportFormat     string
	ExportBackground string
)

const (
	UnitsPixels      Units = "px"
	UnitsInches      Units = "in"
	UnitsCentimeters Units = "cm"
	UnitsMillimeters Units = "mm"

	ExportPNG ExportFormat = "png"
	ExportJPG ExportFormat = "jpg"
	ExportSVG ExportFormat = "svg"

	BackgroundTransparent ExportBackground = "transparent"
	BackgroundColor       ExportBackground = "color"
)

type (
	// Document is a design document: a layer table plus the ordered list of
	// top-level layers painted back to front.
	Document struct {
		ID           string
		Name         string
		Width        float64
		Height       float64
		Layers       map[string]Layer
		RootLayerIDs []string
		BgColor      RGBA
		Settings     Settings
		Version      int
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	Settings struct {
		Units          Units
		GridVisible    bool
		GridSize       float64
		GridColor      RGBA
		SnapToGrid     bool
		ExportSettings ExportSettings
	}

	ExportSettings struct {
		DefaultFormat     ExportFormat
		DefaultScale      float64
		DefaultBackground ExportBackground
	}
)

// ErrIntegrity is returned by CheckIntegrity when the layer table and the
// ownership structure disagree.
var ErrIntegrity = errors.New("document integrity violated")

// NewDocument returns an empty document with the editor defaults.
func NewDocument(name string, width, height float64) *Document {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	now := time.Now()
	return &Document{
		ID:           ulid.Make().String(),
		Name:         name,
		Width:        width,
		Height:       height,
		Layers:       make(map[string]Layer),
		RootLayerIDs: []string{},
		BgColor:      NewRGBA(255, 255, 255, 1),
		Settings: Settings{
			Units:       UnitsPixels,
			GridVisible: true,
			GridSize:    20,
			GridColor:   NewRGBA(200, 200, 200, 0.2),
			SnapToGrid:  true,
			ExportSettings: ExportSettings{
				DefaultFormat:     ExportPNG,
				DefaultScale:      1,
				DefaultBackground: BackgroundTransparent,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep, independent copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Layers = make(map[string]Layer, len(d.Layers))
	for id, layer := range d.Layers {
		c.Layers[id] = layer.Clone()
	}
	c.RootLayerIDs = cloneStrings(d.RootLayerIDs)
	c.BgColor = d.BgColor.Clone()
	c.Settings = d.Settings.Clone()
	return &c
}

func (s Settings) Clone() Settings {
	s.GridColor = s.GridColor.Clone()
	return s
}

// CheckIntegrity verifies that every id in the root list and in group
// children exists in the layer table, that every layer has exactly one
// owner, and that no layer is unreachable from the root list.
func (d *Document) CheckIntegrity() error {
	owner := make(map[string]string, len(d.Layers))
	claim := func(id, by string) error {
		if _, ok := d.Layers[id]; !ok {
			return fmt.Errorf("%w: %s references missing layer %s", ErrIntegrity, by, id)
		}
		if prev, taken := owner[id]; taken {
			return fmt.Errorf("%w: layer %s owned by both %s and %s", ErrIntegrity, id, prev, by)
		}
		owner[id] = by
		return nil
	}

	for _, id := range d.RootLayerIDs {
		if err := claim(id, "root"); err != nil {
			return err
		}
	}
	for id, layer := range d.Layers {
		if layer == nil {
			return fmt.Errorf("%w: layer %s is nil", ErrIntegrity, id)
		}
		if layer.Base().ID != id {
			return fmt.Errorf("%w: layer keyed %s carries id %s", ErrIntegrity, id, layer.Base().ID)
		}
		group, ok := layer.(*GroupLayer)
		if !ok {
			continue
		}
		for _, child := range group.Children {
			if err := claim(child, "group "+id); err != nil {
				return err
			}
		}
	}

	// Ownership alone admits detached group cycles, so walk from the root.
	reached := make(map[string]bool, len(d.Layers))
	stack := cloneStrings(d.RootLayerIDs)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[id] {
			continue
		}
		reached[id] = true
		if group, ok := d.Layers[id].(*GroupLayer); ok {
			stack = append(stack, group.Children...)
		}
	}
	for id := range d.Layers {
		if !reached[id] {
			return fmt.Errorf("%w: layer %s is unreachable from the root list", ErrIntegrity, id)
		}
	}
	return nil
}

// IndexOf returns the position of id in the root list, or -1.
func (d *Document) IndexOf(id string) int {
	for i, rootID := range d.RootLayerIDs {
		if rootID == id {
			return i
		}
	}
	return -1
}

// OwnerOf returns the id of the group whose children contain id, or "" when
// the layer is top-level or not owned at all.
func (d *Document) OwnerOf(id string) string {
	for gid, layer := range d.Layers {
		group, ok := layer.(*GroupLayer)
		if !ok {
			continue
		}
		for _, child := range group.Children {
			if child == id {
				return gid
			}
		}
	}
	return ""
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
