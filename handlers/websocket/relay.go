package websocket

import (
	"design-editor/core"
	"sync"

	"github.com/sirupsen/logrus"
)

// relay keeps one notifier subscription per document that has editors
// connected and hands every update to emit.
type relay struct {
	notifier core.Notifier
	emit     func(documentID string, update core.DocumentUpdate)

	mu      sync.Mutex
	viewers map[string]int
	cancels map[string]func()
	wg      sync.WaitGroup
}

func newRelay(notifier core.Notifier, emit func(string, core.DocumentUpdate)) *relay {
	return &relay{
		notifier: notifier,
		emit:     emit,
		viewers:  make(map[string]int),
		cancels:  make(map[string]func()),
	}
}

// setViewers records how many editors documentID has. The subscription
// starts with the first editor and stops with the last.
func (r *relay) setViewers(documentID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"editors":     count,
	})

	if count <= 0 {
		delete(r.viewers, documentID)
		if cancel, ok := r.cancels[documentID]; ok {
			cancel()
			delete(r.cancels, documentID)
			log.Debug("Stopped relaying document updates")
		}
		return
	}

	r.viewers[documentID] = count
	if _, ok := r.cancels[documentID]; ok || r.notifier == nil {
		return
	}
	updates, cancel := r.notifier.Subscribe(documentID)
	r.cancels[documentID] = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for update := range updates {
			r.emit(documentID, update)
		}
	}()
	log.Debug("Relaying document updates")
}

func (r *relay) active() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.viewers))
	for id, n := range r.viewers {
		out[id] = n
	}
	return out
}

// close stops every subscription and waits for the forwarding goroutines.
func (r *relay) close() {
	r.mu.Lock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	clear(r.viewers)
	r.mu.Unlock()
	r.wg.Wait()
}
