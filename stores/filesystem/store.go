package filesystem

import (
	"context"
	"design-editor/core"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	documentExt   = ".json"
	historySuffix = ".history"
)

// ErrInvalidID is returned for ids that could escape the base directory.
var ErrInvalidID = errors.New("invalid document id")

// fsStore keeps <base>/<id>.json per document and one file per history
// entry under <base>/<id>.history/.
type fsStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates basePath if needed and returns a store rooted there.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &fsStore{basePath: basePath}, nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *fsStore) documentPath(id string) string {
	return filepath.Join(s.basePath, id+documentExt)
}

func (s *fsStore) historyDir(id string) string {
	return filepath.Join(s.basePath, id+historySuffix)
}

func (s *fsStore) Create(ctx context.Context, name string, width, height float64) (*core.Document, error) {
	doc := core.NewDocument(name, width, height)
	if err := s.Put(ctx, doc); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"name":        name,
	}).Info("Document created successfully")
	return doc, nil
}

func (s *fsStore) Get(ctx context.Context, id string) (*core.Document, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	filePath := s.documentPath(id)
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	s.mu.RLock()
	data, err := os.ReadFile(filePath)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.WithError(err).Error("Failed to decode document")
		return nil, err
	}
	log.Info("Document retrieved successfully")
	return &doc, nil
}

// Put writes to a temporary file and renames it over the document so a
// reader never sees a partial write.
func (s *fsStore) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if err := validID(doc.ID); err != nil {
		return err
	}
	filePath := s.documentPath(doc.ID)
	log := logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"version":     doc.Version,
		"file_path":   filePath,
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.basePath, doc.ID+".*.tmp")
	if err != nil {
		log.WithError(err).Error("Failed to create temporary file")
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		log.WithError(err).Error("Failed to write document")
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		log.WithError(err).Error("Failed to replace document file")
		return err
	}

	log.Info("Document saved successfully")
	return nil
}

func (s *fsStore) List(ctx context.Context) ([]*core.Document, error) {
	log := logrus.WithField("path", s.basePath)

	s.mu.RLock()
	files, err := os.ReadDir(s.basePath)
	s.mu.RUnlock()
	if err != nil {
		log.WithError(err).Error("Failed to read base directory")
		return nil, err
	}

	docs := make([]*core.Document, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), documentExt) {
			continue
		}
		id := strings.TrimSuffix(file.Name(), documentExt)
		doc, err := s.Get(ctx, id)
		if err != nil {
			log.WithError(err).Warnf("Failed to read document file %s, skipping", file.Name())
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	log.Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *fsStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	log := logrus.WithField("document_id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.documentPath(id)); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Document not found for deletion")
			return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to delete document file")
		return err
	}
	if err := os.RemoveAll(s.historyDir(id)); err != nil {
		log.WithError(err).Error("Failed to delete document history")
		return err
	}

	log.Info("Document deleted successfully")
	return nil
}

// AppendHistory names each entry by its zero-padded version so directory
// order is version order. An existing version is never overwritten.
func (s *fsStore) AppendHistory(ctx context.Context, entry core.HistoryEntry) error {
	if err := validID(entry.DocumentID); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	dir := s.historyDir(entry.DocumentID)
	filePath := filepath.Join(dir, fmt.Sprintf("%020d%s", entry.Version, documentExt))
	log := logrus.WithFields(logrus.Fields{
		"document_id": entry.DocumentID,
		"version":     entry.Version,
		"file_path":   filePath,
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.WithError(err).Error("Failed to create history directory")
		return err
	}
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("history entry %s@%d already exists", entry.DocumentID, entry.Version)
		}
		log.WithError(err).Error("Failed to create history file")
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Debug("History entry appended")
	return nil
}

func (s *fsStore) ListHistory(ctx context.Context, documentID string) ([]core.HistoryEntry, error) {
	if err := validID(documentID); err != nil {
		return nil, err
	}
	dir := s.historyDir(documentID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []core.HistoryEntry{}, nil
		}
		return nil, err
	}

	entries := make([]core.HistoryEntry, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(file.Name(), documentExt)
		if _, err := strconv.ParseUint(name, 10, 64); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		var entry core.HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", file.Name(), err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
