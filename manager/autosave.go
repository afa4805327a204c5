package manager

import (
	"context"
	"design-editor/core"
	"design-editor/patch"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// autosave debounces persistence. Each scheduled commit restarts the timer;
// when it fires the latest snapshot is stored, the batches committed since
// the last save are appended to history squashed, and an update is
// published.
type autosave struct {
	delay    time.Duration
	store    core.DocumentStore
	history  core.HistoryStore
	notifier core.Notifier
	now      func() time.Time
	log      *logrus.Entry

	saving   sync.Mutex // serializes saves so versions land in order
	mu       sync.Mutex
	timer    *time.Timer
	snapshot *core.Document
	pending  []patch.Patch
}

func (a *autosave) enabled() bool {
	return a.store != nil || a.history != nil || a.notifier != nil
}

func (a *autosave) schedule(doc *core.Document, patches []patch.Patch) {
	if !a.enabled() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snapshot = doc
	a.pending = append(a.pending, patches...)
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		_ = a.flush(context.Background())
	})
}

func (a *autosave) cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.snapshot = nil
	a.pending = nil
}

func (a *autosave) flush(ctx context.Context) error {
	a.saving.Lock()
	defer a.saving.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	doc, pending := a.snapshot, a.pending
	a.snapshot, a.pending = nil, nil
	a.mu.Unlock()

	if doc == nil {
		return nil
	}
	return a.save(ctx, doc, pending)
}

func (a *autosave) save(ctx context.Context, doc *core.Document, pending []patch.Patch) error {
	log := a.log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"version":     doc.Version,
	})

	if a.store != nil {
		if err := a.store.Put(ctx, doc); err != nil {
			log.WithError(err).Error("Failed to save document")
			return err
		}
	}

	// The snapshot is already stored, so a lost history entry does not fail
	// the save.
	if a.history != nil {
		squashed := patch.Squash(pending)
		if err := a.appendHistory(ctx, doc, squashed); err != nil {
			log.WithError(err).Warn("Document saved without its history entry")
		} else {
			log = log.WithField("patches", len(squashed))
		}
	}

	if a.notifier != nil {
		update := core.DocumentUpdate{DocumentID: doc.ID, Version: doc.Version}
		if err := a.notifier.Publish(ctx, update); err != nil {
			log.WithError(err).Warn("Failed to publish document update")
			return err
		}
	}

	log.Info("Document saved")
	return nil
}

func (a *autosave) appendHistory(ctx context.Context, doc *core.Document, patches []patch.Patch) error {
	raw, err := patch.EncodeBatch(patches)
	if err != nil {
		return err
	}
	return a.history.AppendHistory(ctx, core.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Patches:    raw,
		Timestamp:  a.now(),
	})
}
