package sqlite

import (
	"context"
	"database/sql"
	"design-editor/core"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	document_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	patches BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (document_id, version)
);`

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the database at dataSourceName and creates the tables it
// needs.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, name string, width, height float64) (*core.Document, error) {
	doc := core.NewDocument(name, width, height)
	log := logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"name":        name,
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, name, version, updated_at, data) VALUES (?, ?, ?, ?, ?)",
		doc.ID, doc.Name, doc.Version, doc.UpdatedAt.UnixNano(), data)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}
	log.Info("Document created successfully")
	return doc, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *sqliteStore) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"version":     doc.Version,
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, version, updated_at, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, version = excluded.version,
			updated_at = excluded.updated_at, data = excluded.data`,
		doc.ID, doc.Name, doc.Version, doc.UpdatedAt.UnixNano(), data)
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}
	log.WithField("data_length", len(data)).Info("Document saved successfully")
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM documents ORDER BY updated_at DESC, id ASC")
	if err != nil {
		logrus.WithError(err).Error("Failed to list documents")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close document rows")
		}
	}()

	docs := []*core.Document{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var doc core.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			logrus.WithError(err).Warn("Skipping undecodable document row")
			continue
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logrus.Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	log := logrus.WithField("document_id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete document")
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		log.Warn("Document not found for deletion")
		return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE document_id = ?", id); err != nil {
		log.WithError(err).Error("Failed to delete document history")
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Info("Document deleted successfully")
	return nil
}

func (s *sqliteStore) AppendHistory(ctx context.Context, entry core.HistoryEntry) error {
	if entry.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": entry.DocumentID,
		"version":     entry.Version,
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO history (document_id, version, patches, timestamp) VALUES (?, ?, ?, ?)",
		entry.DocumentID, entry.Version, []byte(entry.Patches), entry.Timestamp.UnixNano())
	if err != nil {
		log.WithError(err).Error("Failed to append history")
		return err
	}
	log.Debug("History entry appended")
	return nil
}

func (s *sqliteStore) ListHistory(ctx context.Context, documentID string) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version, patches, timestamp FROM history WHERE document_id = ? ORDER BY version ASC",
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []core.HistoryEntry{}
	for rows.Next() {
		var (
			entry   = core.HistoryEntry{DocumentID: documentID}
			patches []byte
			ts      int64
		)
		if err := rows.Scan(&entry.Version, &patches, &ts); err != nil {
			return nil, err
		}
		entry.Patches = json.RawMessage(patches)
		entry.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
