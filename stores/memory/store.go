package memory

import (
	"context"
	"design-editor/core"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// memStore keeps documents and their history in process. Documents are
// cloned on the way in and out so callers never share state with it.
type memStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	history   map[string][]core.HistoryEntry
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents: make(map[string]*core.Document),
		history:   make(map[string][]core.HistoryEntry),
	}
}

func (s *memStore) Create(ctx context.Context, name string, width, height float64) (*core.Document, error) {
	doc := core.NewDocument(name, width, height)

	s.mu.Lock()
	s.documents[doc.ID] = doc.Clone()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"name":        name,
	}).Info("Document created successfully")
	return doc, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if !ok {
		log.WithField("error", "document not found").Warn("Document with specified ID not found")
		return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}
	log.Info("Document retrieved successfully")
	return doc.Clone(), nil
}

func (s *memStore) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	s.mu.Lock()
	s.documents[doc.ID] = doc.Clone()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"version":     doc.Version,
	}).Info("Document saved successfully")
	return nil
}

func (s *memStore) List(ctx context.Context) ([]*core.Document, error) {
	s.mu.RLock()
	docs := make([]*core.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc.Clone())
	}
	s.mu.RUnlock()

	sortByUpdated(docs)
	logrus.Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	log := logrus.WithField("document_id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		log.Warn("Document not found for deletion")
		return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.history, id)

	log.Info("Document deleted successfully")
	return nil
}

func (s *memStore) AppendHistory(ctx context.Context, entry core.HistoryEntry) error {
	if entry.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Patches = append([]byte(nil), entry.Patches...)

	s.mu.Lock()
	entries := s.history[entry.DocumentID]
	for _, existing := range entries {
		if existing.Version == entry.Version {
			s.mu.Unlock()
			return fmt.Errorf("history entry %s@%d already exists", entry.DocumentID, entry.Version)
		}
	}
	entries = append(entries, entry)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	s.history[entry.DocumentID] = entries
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": entry.DocumentID,
		"version":     entry.Version,
	}).Debug("History entry appended")
	return nil
}

func (s *memStore) ListHistory(ctx context.Context, documentID string) ([]core.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]core.HistoryEntry, len(s.history[documentID]))
	copy(entries, s.history[documentID])
	return entries, nil
}

func sortByUpdated(docs []*core.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}
