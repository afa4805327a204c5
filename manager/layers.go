package manager

import (
	"design-editor/core"
	"design-editor/patch"
	"fmt"
	"slices"
	"sort"
)

// Changes maps node field names of a layer, such as "x" or "fill", to new
// values. A nil value removes an optional field.
type Changes map[string]any

var rootPath = patch.Path{"rootLayerIds"}

func layerPath(id string, keys ...string) patch.Path {
	return append(patch.Path{"layers", id}, keys...)
}

// AddLayer inserts layer into the root list at index, or appends it when
// index is End, and selects it. A group takes ownership of its children,
// which must currently be top-level layers.
func (m *Manager) AddLayer(layer core.Layer, index int) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	if err := validLayer(layer); err != nil {
		return nil, err
	}
	id := layer.Base().ID
	if _, ok := m.doc.Layers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLayerID, id)
	}

	var patches []patch.Patch
	order := slices.Clone(m.doc.RootLayerIDs)
	if group, ok := layer.(*core.GroupLayer); ok {
		seen := make(map[string]bool, len(group.Children))
		for _, child := range group.Children {
			at := slices.Index(order, child)
			if at < 0 || seen[child] {
				return nil, fmt.Errorf("%w: group child %s is not a distinct top-level layer", ErrInvalidLayer, child)
			}
			seen[child] = true
			patches = append(patches, mustPatch(patch.NewRemove(rootPath, child, at)))
			order = slices.Delete(order, at, at+1)
		}
	}
	if index != End && (index < 0 || index > len(order)) {
		return nil, fmt.Errorf("%w: insert index %d, %d root layers", patch.ErrIndexOutOfBounds, index, len(order))
	}
	patches = append(patches,
		mustPatch(patch.NewAdd(layerPath(id), layer, End)),
		mustPatch(patch.NewAdd(rootPath, id, index)),
	)

	doc, err := m.commit(patches, true)
	if err != nil {
		return nil, err
	}
	m.selection = []string{id}
	return doc, nil
}

func validLayer(layer core.Layer) error {
	if layer == nil {
		return fmt.Errorf("%w: nil layer", ErrInvalidLayer)
	}
	base := layer.Base()
	if base.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidLayer)
	}
	var want core.LayerType
	switch layer.(type) {
	case *core.RectangleLayer:
		want = core.LayerRectangle
	case *core.EllipseLayer:
		want = core.LayerEllipse
	case *core.PathLayer:
		want = core.LayerPath
	case *core.TextLayer:
		want = core.LayerText
	case *core.GroupLayer:
		want = core.LayerGroup
	}
	if base.Type != want {
		return fmt.Errorf("%w: %s layer typed %q", ErrInvalidLayer, want, base.Type)
	}
	return nil
}

// RemoveLayers deletes the given layers and, for groups, everything they
// contain. Unknown ids are ignored.
func (m *Manager) RemoveLayers(ids []string) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	targets := m.withDescendants(ids)
	if len(targets) == 0 {
		return m.doc.Clone(), nil
	}
	removing := make(map[string]bool, len(targets))
	for _, id := range targets {
		removing[id] = true
	}

	var patches []patch.Patch
	order := slices.Clone(m.doc.RootLayerIDs)
	children := make(map[string][]string)
	for _, id := range targets {
		if at := slices.Index(order, id); at >= 0 {
			patches = append(patches, mustPatch(patch.NewRemove(rootPath, id, at)))
			order = slices.Delete(order, at, at+1)
		} else if owner := m.doc.OwnerOf(id); owner != "" && !removing[owner] {
			list, ok := children[owner]
			if !ok {
				list = slices.Clone(m.doc.Layers[owner].(*core.GroupLayer).Children)
			}
			at := slices.Index(list, id)
			patches = append(patches, mustPatch(patch.NewRemove(layerPath(owner, "children"), id, at)))
			children[owner] = slices.Delete(list, at, at+1)
		}
		patches = append(patches, mustPatch(patch.NewRemove(layerPath(id), m.doc.Layers[id], patch.NoIndex)))
	}
	return m.commit(patches, true)
}

// withDescendants returns the known ids in request order, each group
// followed by its descendants, without repeats.
func (m *Manager) withDescendants(ids []string) []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		layer, ok := m.doc.Layers[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
		if group, ok := layer.(*core.GroupLayer); ok {
			for _, child := range group.Children {
				visit(child)
			}
		}
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}

// UpdateLayer changes fields of one layer. Unchanged fields are skipped and
// an update that changes nothing records no history.
func (m *Manager) UpdateLayer(id string, changes Changes) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	patches, err := m.layerChanges(id, changes)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return m.doc.Clone(), nil
	}
	_, cached := m.cache[id]
	doc, err := m.commit(patches, false)
	if err != nil {
		return nil, err
	}
	if cached {
		m.cache[id] = m.doc.Layers[id]
	}
	return doc, nil
}

// updateLayers commits changes to several layers as one batch.
func (m *Manager) updateLayers(ids []string, changes map[string]Changes) (*core.Document, error) {
	var patches []patch.Patch
	for _, id := range ids {
		p, err := m.layerChanges(id, changes[id])
		if err != nil {
			return nil, err
		}
		patches = append(patches, p...)
	}
	if len(patches) == 0 {
		return m.doc.Clone(), nil
	}
	return m.commit(patches, false)
}

func (m *Manager) layerChanges(id string, changes Changes) ([]patch.Patch, error) {
	layer, ok := m.doc.Layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	current := core.LayerNode(layer)

	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var patches []patch.Patch
	for _, key := range keys {
		value, err := core.NodeOf(changes[key])
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidLayer, key, err)
		}
		old, exists := current[key]
		if exists && core.EqualNode(old, value) {
			continue
		}
		if key == "id" || key == "type" {
			return nil, fmt.Errorf("%w: %s", ErrImmutableField, key)
		}
		path := layerPath(id, key)
		switch {
		case value == nil && !exists:
		case value == nil:
			patches = append(patches, mustPatch(patch.NewRemove(path, old, patch.NoIndex)))
		case exists:
			patches = append(patches, mustPatch(patch.NewReplace(path, value, old)))
		default:
			patches = append(patches, mustPatch(patch.NewAdd(path, value, patch.End)))
		}
	}
	return patches, nil
}

// MoveLayers moves the given top-level layers, as a block in the order
// given, so that the block starts at newIndex of the remaining order.
// newIndex is clamped; ids that are not top-level are ignored.
func (m *Manager) MoveLayers(ids []string, newIndex int) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	valid := m.rootSubset(ids)
	if len(valid) == 0 {
		return m.doc.Clone(), nil
	}

	var patches []patch.Patch
	order := slices.Clone(m.doc.RootLayerIDs)
	for _, id := range valid {
		at := slices.Index(order, id)
		patches = append(patches, mustPatch(patch.NewRemove(rootPath, id, at)))
		order = slices.Delete(order, at, at+1)
	}
	at := clamp(newIndex, 0, len(order))
	for i := len(valid) - 1; i >= 0; i-- {
		patches = append(patches, mustPatch(patch.NewAdd(rootPath, valid[i], at)))
	}
	return m.commit(patches, true)
}

func (m *Manager) BringLayersForward(ids []string) (*core.Document, error) {
	return m.moveRelative(ids, 1)
}

func (m *Manager) SendLayersBackward(ids []string) (*core.Document, error) {
	return m.moveRelative(ids, -1)
}

// moveRelative gathers ids into a block placed delta positions from the
// lowest current index among them, as a single replace of the root list.
func (m *Manager) moveRelative(ids []string, delta int) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	current := m.doc.RootLayerIDs
	block := m.rootSubset(ids)
	if len(block) == 0 {
		return m.doc.Clone(), nil
	}

	minIndex := len(current)
	for _, id := range block {
		minIndex = min(minIndex, slices.Index(current, id))
	}
	rest := slices.DeleteFunc(slices.Clone(current), func(id string) bool {
		return slices.Contains(block, id)
	})
	at := clamp(minIndex+delta, 0, len(rest))
	next := slices.Insert(rest, at, block...)
	if slices.Equal(next, current) {
		return m.doc.Clone(), nil
	}
	return m.commit([]patch.Patch{mustPatch(patch.NewReplace(rootPath, next, current))}, true)
}

// rootSubset returns the distinct ids of ids that are top-level layers.
func (m *Manager) rootSubset(ids []string) []string {
	var out []string
	for _, id := range ids {
		if m.doc.IndexOf(id) >= 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func mustPatch(p patch.Patch, err error) patch.Patch {
	if err != nil {
		panic(err)
	}
	return p
}
