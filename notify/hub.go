// Package notify fans document updates out to in-process subscribers.
package notify

import (
	"context"
	"design-editor/core"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the channel capacity given to each subscriber.
const DefaultBuffer = 16

type subscriber struct {
	documentID string
	ch         chan core.DocumentUpdate
}

// Hub is a core.Notifier. Delivery is best effort: an update is dropped for
// a subscriber whose buffer is full.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	buffer int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber), buffer: DefaultBuffer}
}

func (h *Hub) Publish(ctx context.Context, update core.DocumentUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, sub := range h.subs {
		if sub.documentID != "" && sub.documentID != update.DocumentID {
			continue
		}
		select {
		case sub.ch <- update:
			delivered++
		default:
			logrus.WithFields(logrus.Fields{
				"document_id":   update.DocumentID,
				"version":       update.Version,
				"subscriber_id": id,
			}).Warn("Subscriber buffer full, dropping update")
		}
	}

	logrus.WithFields(logrus.Fields{
		"document_id": update.DocumentID,
		"version":     update.Version,
		"delivered":   delivered,
	}).Debug("Document update published")
	return nil
}

func (h *Hub) Subscribe(documentID string) (<-chan core.DocumentUpdate, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sub := &subscriber{documentID: documentID, ch: make(chan core.DocumentUpdate, h.buffer)}
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
