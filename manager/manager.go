// Package manager holds a live design document and edits it through
// patch batches, keeping undo and redo history, a layer cache, the
// selection and debounced persistence consistent with every commit.
package manager

import (
	"context"
	"design-editor/core"
	"design-editor/patch"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// End appends when used as an insertion index.
const End = patch.End

const DefaultSaveDebounce = 100 * time.Millisecond

var (
	ErrNoDocumentLoaded = errors.New("no document loaded")
	ErrDuplicateLayerID = errors.New("layer id already exists")
	ErrLayerNotFound    = errors.New("layer not found")
	ErrEmptyHistory     = errors.New("history is empty")
	ErrImmutableField   = errors.New("field cannot be changed")
	ErrInvalidLayer     = errors.New("invalid layer")
	ErrNoStore          = errors.New("no document store configured")
)

type batch struct {
	forward []patch.Patch
	inverse []patch.Patch
}

// Manager owns one editing session. It is not safe for concurrent use;
// callers serialize access the way a single UI thread would.
type Manager struct {
	doc        *core.Document
	consistent bool
	undo       []batch
	redo       []batch
	cache      map[string]core.Layer
	selection  []string

	store    core.DocumentStore
	history  core.HistoryStore
	notifier core.Notifier
	debounce time.Duration
	now      func() time.Time
	log      *logrus.Entry
	saver    *autosave
}

type Option func(*Manager)

func WithStore(s core.DocumentStore) Option { return func(m *Manager) { m.store = s } }

func WithHistory(h core.HistoryStore) Option { return func(m *Manager) { m.history = h } }

func WithNotifier(n core.Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithSaveDebounce(d time.Duration) Option { return func(m *Manager) { m.debounce = d } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *logrus.Entry) Option { return func(m *Manager) { m.log = l } }

func New(opts ...Option) *Manager {
	m := &Manager{
		cache:    make(map[string]core.Layer),
		debounce: DefaultSaveDebounce,
		now:      time.Now,
		log:      logrus.WithField("component", "manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.saver = &autosave{
		delay:    m.debounce,
		store:    m.store,
		history:  m.history,
		notifier: m.notifier,
		now:      m.now,
		log:      m.log,
	}
	return m
}

// LoadDocument replaces the session document and resets history, cache,
// selection and any pending save. A nil document unloads the session.
func (m *Manager) LoadDocument(doc *core.Document) {
	m.saver.cancel()
	m.undo, m.redo = nil, nil
	m.cache = make(map[string]core.Layer)
	m.selection = nil
	m.doc = doc.Clone()
	if m.doc == nil {
		return
	}
	if err := m.doc.CheckIntegrity(); err != nil {
		m.consistent = false
		m.log.WithField("document_id", m.doc.ID).WithError(err).Warn("Loaded document is inconsistent, integrity checks disabled")
	} else {
		m.consistent = true
	}
	m.log.WithFields(logrus.Fields{
		"document_id": m.doc.ID,
		"version":     m.doc.Version,
		"layers":      len(m.doc.Layers),
	}).Info("Document loaded")
}

func (m *Manager) Document() (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	return m.doc.Clone(), nil
}

// LayerByID returns a copy of a layer, reading through the layer cache.
func (m *Manager) LayerByID(id string) (core.Layer, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	if layer, ok := m.cache[id]; ok {
		return layer.Clone(), nil
	}
	layer, ok := m.doc.Layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	m.cache[id] = layer
	return layer.Clone(), nil
}

func (m *Manager) LayersOrder() []string {
	if m.doc == nil {
		return nil
	}
	return append([]string(nil), m.doc.RootLayerIDs...)
}

// SelectedLayers returns copies of the selected layers in selection order.
func (m *Manager) SelectedLayers() []core.Layer {
	layers := make([]core.Layer, 0, len(m.selection))
	for _, id := range m.selection {
		if layer, err := m.LayerByID(id); err == nil {
			layers = append(layers, layer)
		}
	}
	return layers
}

func (m *Manager) SelectedLayerIDs() []string {
	return append([]string(nil), m.selection...)
}

// SetSelection replaces the selection, dropping unknown and repeated ids.
func (m *Manager) SetSelection(ids []string) {
	if m.doc == nil {
		return
	}
	m.selection = m.existing(ids)
}

func (m *Manager) existing(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.doc.Layers[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (m *Manager) CanUndo() bool { return len(m.undo) > 0 }

func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// ApplyPatches commits a caller built batch as one undoable action.
func (m *Manager) ApplyPatches(patches []patch.Patch) (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	if len(patches) == 0 {
		return m.doc.Clone(), nil
	}
	return m.commit(patches, false)
}

// commit applies a batch and records it. Batches the manager synthesized
// itself must keep the document consistent; a violation there is a bug and
// panics, while a violating caller batch is rejected.
func (m *Manager) commit(patches []patch.Patch, synthesized bool) (*core.Document, error) {
	next, inverse, err := patch.ApplyWithInverse(m.doc, patches)
	if err != nil {
		return nil, err
	}
	if err := m.checkIntegrity(next); err != nil {
		if synthesized {
			panic(fmt.Sprintf("manager: synthesized batch broke document: %v", err))
		}
		return nil, err
	}
	m.install(next, patches)
	m.undo = append(m.undo, batch{forward: patches, inverse: inverse})
	m.redo = nil
	m.log.WithFields(logrus.Fields{
		"document_id": m.doc.ID,
		"version":     m.doc.Version,
		"patches":     len(patches),
	}).Debug("Batch committed")
	return m.doc.Clone(), nil
}

func (m *Manager) checkIntegrity(doc *core.Document) error {
	if !m.consistent {
		return nil
	}
	return doc.CheckIntegrity()
}

// install makes next the current document after applied was run against
// the previous one.
func (m *Manager) install(next *core.Document, applied []patch.Patch) {
	next.Version = m.doc.Version + 1
	next.UpdatedAt = m.now()
	m.doc = next
	m.invalidate(applied)
	m.selection = m.existing(m.selection)
	m.saver.schedule(next.Clone(), applied)
}

// invalidate drops cache entries addressed by any patch path: a path of
// "layers" clears the cache, "layers/<id>/..." drops <id>.
func (m *Manager) invalidate(patches []patch.Patch) {
	for _, p := range patches {
		path := p.Path()
		if path[0] != "layers" {
			continue
		}
		if len(path) == 1 {
			clear(m.cache)
			return
		}
		delete(m.cache, path[1])
	}
}

func (m *Manager) Undo() (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	if len(m.undo) == 0 {
		return nil, fmt.Errorf("%w: nothing to undo", ErrEmptyHistory)
	}
	b := m.undo[len(m.undo)-1]
	backward := patch.Reverse(b.inverse)
	next, err := patch.Apply(m.doc, backward)
	if err != nil {
		panic(fmt.Sprintf("manager: recorded inverse does not apply: %v", err))
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.install(next, backward)
	m.redo = append(m.redo, b)
	return m.doc.Clone(), nil
}

func (m *Manager) Redo() (*core.Document, error) {
	if m.doc == nil {
		return nil, ErrNoDocumentLoaded
	}
	if len(m.redo) == 0 {
		return nil, fmt.Errorf("%w: nothing to redo", ErrEmptyHistory)
	}
	b := m.redo[len(m.redo)-1]
	next, inverse, err := patch.ApplyWithInverse(m.doc, b.forward)
	if err != nil {
		panic(fmt.Sprintf("manager: recorded batch does not reapply: %v", err))
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.install(next, b.forward)
	m.undo = append(m.undo, batch{forward: b.forward, inverse: inverse})
	return m.doc.Clone(), nil
}

// Flush runs a pending debounced save now.
func (m *Manager) Flush(ctx context.Context) error {
	return m.saver.flush(ctx)
}

// Reconcile reloads the document from the store when update reports a
// strictly newer version of the loaded document. Local history is
// discarded: the newer version wins.
func (m *Manager) Reconcile(ctx context.Context, update core.DocumentUpdate) (bool, error) {
	if m.doc == nil || update.DocumentID != m.doc.ID || update.Version <= m.doc.Version {
		return false, nil
	}
	if m.store == nil {
		return false, ErrNoStore
	}
	fresh, err := m.store.Get(ctx, update.DocumentID)
	if err != nil {
		return false, err
	}
	if fresh.Version <= m.doc.Version {
		return false, nil
	}
	m.log.WithFields(logrus.Fields{
		"document_id":   fresh.ID,
		"local_version": m.doc.Version,
		"version":       fresh.Version,
	}).Info("Reloading newer document version")
	m.LoadDocument(fresh)
	return true, nil
}

// Dispose cancels any pending save and releases the session state.
func (m *Manager) Dispose() {
	m.saver.cancel()
	m.doc = nil
	m.undo, m.redo = nil, nil
	m.cache = make(map[string]core.Layer)
	m.selection = nil
}
