package aws

import (
	"bytes"
	"context"
	"design-editor/core"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const (
	documentPrefix = "documents/"
	historyPrefix  = "history/"
)

// Client is the subset of *s3.Client the store uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps documents under documents/<id>.json and history entries
// under history/<id>/<version>.json, the version zero-padded so key order
// is version order.
type s3Store struct {
	client Client
	bucket string
}

// NewStore creates a store on bucketName using the default AWS config
// chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func NewStoreWithClient(client Client, bucketName string) *s3Store {
	return &s3Store{client: client, bucket: bucketName}
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || path.Base(id) != id || strings.Contains(id, `\`) {
		return fmt.Errorf("invalid document id %q: must not be empty or a path", id)
	}
	return nil
}

func documentKey(id string) string { return documentPrefix + id + ".json" }

func historyKey(id string, version int) string {
	return fmt.Sprintf("%s%s/%020d.json", historyPrefix, id, version)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *s3Store) read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *s3Store) keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *s3Store) Create(ctx context.Context, name string, width, height float64) (*core.Document, error) {
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

func (s *s3Store) Get(ctx context.Context, id string) (*core.Document, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "bucket": s.bucket})

	data, err := s.read(ctx, documentKey(id))
	if err != nil {
		if isNotFound(err) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.WithError(err).Error("Failed to decode document")
		return nil, err
	}
	log.Info("Document retrieved successfully")
	return &doc, nil
}

func (s *s3Store) Put(ctx context.Context, doc *core.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if err := validID(doc.ID); err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"version":     doc.Version,
		"bucket":      s.bucket,
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.write(ctx, documentKey(doc.ID), data); err != nil {
		log.WithError(err).Error("Failed to upload document")
		return fmt.Errorf("failed to upload document: %w", err)
	}
	log.Info("Document saved successfully")
	return nil
}

func (s *s3Store) List(ctx context.Context) ([]*core.Document, error) {
	keys, err := s.keys(ctx, documentPrefix)
	if err != nil {
		return nil, err
	}

	docs := make([]*core.Document, 0, len(keys))
	for _, key := range keys {
		data, err := s.read(ctx, key)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to get object %s, skipping", key)
			continue
		}
		var doc core.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			logrus.WithError(err).Warnf("Failed to decode object %s, skipping", key)
			continue
		}
		docs = append(docs, &doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	logrus.Infof("Listed %d documents", len(docs))
	return docs, nil
}

// Delete removes the document object first; history objects left behind by
// a failure part way through are unreachable through the store.
func (s *s3Store) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "bucket": s.bucket})

	found, err := s.exists(ctx, documentKey(id))
	if err != nil {
		log.WithError(err).Error("Failed to check document")
		return err
	}
	if !found {
		log.Warn("Document not found for deletion")
		return fmt.Errorf("document with id %s %w", id, core.ErrNotFound)
	}

	keys, err := s.keys(ctx, historyPrefix+id+"/")
	if err != nil {
		return err
	}
	for _, key := range append([]string{documentKey(id)}, keys...) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			log.WithError(err).WithField("key", key).Error("Failed to delete object")
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	log.Info("Document deleted successfully")
	return nil
}

// AppendHistory refuses to overwrite an existing version. The existence
// check and the upload are not atomic.
func (s *s3Store) AppendHistory(ctx context.Context, entry core.HistoryEntry) error {
	if err := validID(entry.DocumentID); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	key := historyKey(entry.DocumentID, entry.Version)
	log := logrus.WithFields(logrus.Fields{
		"document_id": entry.DocumentID,
		"version":     entry.Version,
		"key":         key,
	})

	found, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("history entry %s@%d already exists", entry.DocumentID, entry.Version)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.write(ctx, key, data); err != nil {
		log.WithError(err).Error("Failed to upload history entry")
		return err
	}
	log.Debug("History entry appended")
	return nil
}

func (s *s3Store) ListHistory(ctx context.Context, documentID string) ([]core.HistoryEntry, error) {
	if err := validID(documentID); err != nil {
		return nil, err
	}
	keys, err := s.keys(ctx, historyPrefix+documentID+"/")
	if err != nil {
		return nil, err
	}

	entries := make([]core.HistoryEntry, 0, len(keys))
	for _, key := range keys {
		data, err := s.read(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read history entry %s: %w", key, err)
		}
		var entry core.HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", key, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
