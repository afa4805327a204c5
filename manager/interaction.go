package manager

import (
	"design-editor/core"
	"fmt"
	"strings"
)

type Mode int

const (
	ModeNone Mode = iota
	ModeInserting
	ModeDragging
	ModeResizing
)

func (m Mode) String() string {
	switch m {
	case ModeInserting:
		return "inserting"
	case ModeDragging:
		return "dragging"
	case ModeResizing:
		return "resizing"
	default:
		return "none"
	}
}

// Handle names the edge or corner of a layer grabbed for resizing.
type Handle string

const (
	HandleN  Handle = "n"
	HandleNE Handle = "ne"
	HandleE  Handle = "e"
	HandleSE Handle = "se"
	HandleS  Handle = "s"
	HandleSW Handle = "sw"
	HandleW  Handle = "w"
	HandleNW Handle = "nw"
)

func (h Handle) valid() bool {
	switch h {
	case HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW, HandleNW:
		return true
	}
	return false
}

// Interaction turns tool gestures into manager operations. Points are in
// world space. Every drag or resize frame commits its own batch.
type Interaction struct {
	m    *Manager
	mode Mode

	layerType core.LayerType
	origin    core.Point
	current   core.Point

	dragIDs   []string
	originals map[string]core.Point

	resizeID string
	handle   Handle
	initial  core.Bounds
}

func NewInteraction(m *Manager) *Interaction {
	return &Interaction{m: m}
}

func (s *Interaction) Mode() Mode { return s.mode }

// Cancel abandons the current gesture. Frames already committed stay in
// history.
func (s *Interaction) Cancel() {
	*s = Interaction{m: s.m}
}

func (s *Interaction) StartInserting(t core.LayerType, p core.Point) error {
	if s.m.doc == nil {
		return ErrNoDocumentLoaded
	}
	s.Cancel()
	s.mode = ModeInserting
	s.layerType = t
	s.origin, s.current = p, p
	return nil
}

// UpdateInserting moves the free corner of the insert rectangle and returns
// the normalized bounds. ok is false outside an insert gesture.
func (s *Interaction) UpdateInserting(p core.Point) (b core.Bounds, ok bool) {
	if s.mode != ModeInserting {
		return core.Bounds{}, false
	}
	s.current = p
	return core.InsertBounds(s.origin, s.current), true
}

// Preview returns the in-progress insert bounds for drawing.
func (s *Interaction) Preview() (core.Bounds, bool) {
	if s.mode != ModeInserting {
		return core.Bounds{}, false
	}
	return core.InsertBounds(s.origin, s.current), true
}

// CompleteInserting adds a default layer filling the drawn rectangle. A
// rectangle smaller than core.MinInsertSize in either direction is treated
// as a click and adds nothing; inserted is false then.
func (s *Interaction) CompleteInserting() (doc *core.Document, inserted bool, err error) {
	if s.mode != ModeInserting {
		return nil, false, fmt.Errorf("complete inserting: not inserting (mode %s)", s.mode)
	}
	bounds := core.InsertBounds(s.origin, s.current)
	t := s.layerType
	s.Cancel()

	if bounds.Width < core.MinInsertSize || bounds.Height < core.MinInsertSize {
		doc, err := s.m.Document()
		return doc, false, err
	}
	layer, err := core.NewDefaultLayer(t, bounds)
	if err != nil {
		return nil, false, err
	}
	doc, err = s.m.AddLayer(layer, End)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// StartDragging begins moving the selected unlocked layers. It reports
// false when there is nothing to drag.
func (s *Interaction) StartDragging(p core.Point) bool {
	s.Cancel()
	originals := make(map[string]core.Point)
	var ids []string
	for _, layer := range s.m.SelectedLayers() {
		base := layer.Base()
		if base.Locked {
			continue
		}
		ids = append(ids, base.ID)
		originals[base.ID] = core.Point{X: base.X, Y: base.Y}
	}
	if len(ids) == 0 {
		return false
	}
	s.mode = ModeDragging
	s.origin = p
	s.dragIDs = ids
	s.originals = originals
	return true
}

// UpdateDragging offsets every dragged layer from its starting position by
// the distance from the drag origin to p.
func (s *Interaction) UpdateDragging(p core.Point) (*core.Document, error) {
	if s.mode != ModeDragging {
		return nil, fmt.Errorf("update dragging: not dragging (mode %s)", s.mode)
	}
	dx, dy := p.X-s.origin.X, p.Y-s.origin.Y
	changes := make(map[string]Changes, len(s.dragIDs))
	for _, id := range s.dragIDs {
		o := s.originals[id]
		changes[id] = Changes{"x": o.X + dx, "y": o.Y + dy}
	}
	return s.m.updateLayers(s.dragIDs, changes)
}

func (s *Interaction) CompleteDragging() {
	if s.mode == ModeDragging {
		s.Cancel()
	}
}

func (s *Interaction) StartResizing(id string, h Handle) error {
	if !h.valid() {
		return fmt.Errorf("start resizing: unknown handle %q", h)
	}
	layer, err := s.m.LayerByID(id)
	if err != nil {
		return err
	}
	base := layer.Base()
	s.Cancel()
	s.mode = ModeResizing
	s.resizeID = id
	s.handle = h
	s.initial = core.Bounds{X: base.X, Y: base.Y, Width: base.Width, Height: base.Height}
	return nil
}

// UpdateResizing drags the grabbed handle to p. Width and height never drop
// below core.MinInsertSize.
func (s *Interaction) UpdateResizing(p core.Point) (*core.Document, error) {
	if s.mode != ModeResizing {
		return nil, fmt.Errorf("update resizing: not resizing (mode %s)", s.mode)
	}
	b := s.initial
	h := string(s.handle)
	if strings.Contains(h, "e") {
		b.Width = p.X - s.initial.X
	}
	if strings.Contains(h, "w") {
		b.Width = s.initial.Width + (s.initial.X - p.X)
		b.X = p.X
	}
	if strings.Contains(h, "s") {
		b.Height = p.Y - s.initial.Y
	}
	if strings.Contains(h, "n") {
		b.Height = s.initial.Height + (s.initial.Y - p.Y)
		b.Y = p.Y
	}
	b.Width = max(b.Width, core.MinInsertSize)
	b.Height = max(b.Height, core.MinInsertSize)

	return s.m.UpdateLayer(s.resizeID, Changes{
		"x":      b.X,
		"y":      b.Y,
		"width":  b.Width,
		"height": b.Height,
	})
}

func (s *Interaction) CompleteResizing() {
	if s.mode == ModeResizing {
		s.Cancel()
	}
}

// CompletePencil adds a freehand stroke as a path layer.
func (s *Interaction) CompletePencil(points [][]float64, color core.RGBA, zoom float64) (*core.Document, error) {
	s.Cancel()
	if len(points) == 0 {
		return s.m.Document()
	}
	return s.m.AddLayer(core.PathLayerFromPoints(points, color, zoom), End)
}
