package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is wrapped by every store when a document does not exist.
var ErrNotFound = errors.New("not found")

type (
	DocumentStore interface {
		Create(ctx context.Context, name string, width, height float64) (*Document, error)
		Get(ctx context.Context, id string) (*Document, error)
		// Put inserts or overwrites the document.
		Put(ctx context.Context, doc *Document) error
		// List returns all documents, most recently updated first.
		List(ctx context.Context) ([]*Document, error)
		// Delete removes the document together with its history.
		Delete(ctx context.Context, id string) error
	}

	// HistoryEntry is one persisted patch batch. Patches holds the batch in
	// its JSON form.
	HistoryEntry struct {
		DocumentID string          `json:"documentId"`
		Version    int             `json:"version"`
		Patches    json.RawMessage `json:"patches"`
		Timestamp  time.Time       `json:"timestamp"`
	}

	HistoryStore interface {
		AppendHistory(ctx context.Context, entry HistoryEntry) error
		// ListHistory returns the entries of one document ordered by version.
		ListHistory(ctx context.Context, documentID string) ([]HistoryEntry, error)
	}

	DocumentUpdate struct {
		DocumentID string `json:"documentId"`
		Version    int    `json:"version"`
	}

	Notifier interface {
		Publish(ctx context.Context, update DocumentUpdate) error
		// Subscribe delivers updates for documentID, or for every document
		// when documentID is empty, until the returned cancel func is called.
		Subscribe(documentID string) (<-chan DocumentUpdate, func())
	}
)
