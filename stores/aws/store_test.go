package aws

import (
	"bytes"
	"context"
	"design-editor/core"
	"design-editor/stores/storetest"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket answering the way S3 does for missing
// keys.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return NewStoreWithClient(newFakeS3(), "test-bucket")
	})
}

func TestKeyLayout(t *testing.T) {
	client := newFakeS3()
	store := NewStoreWithClient(client, "test-bucket")
	ctx := context.Background()

	doc, err := store.Create(ctx, "keys", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.AppendHistory(ctx, core.HistoryEntry{DocumentID: doc.ID, Version: 3, Patches: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("AppendHistory() failed: %v", err)
	}

	want := []string{
		"documents/" + doc.ID + ".json",
		"history/" + doc.ID + "/00000000000000000003.json",
	}
	got := client.keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("object keys: got %v, want %v", got, want)
	}
}

func TestInvalidID(t *testing.T) {
	store := NewStoreWithClient(newFakeS3(), "test-bucket")
	ctx := context.Background()

	for _, id := range []string{"", "..", "a/b", "../secret", `a\b`} {
		if _, err := store.Get(ctx, id); err == nil || errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want an invalid id error", id, err)
		}
	}
}

func TestList_SkipsUndecodable(t *testing.T) {
	client := newFakeS3()
	store := NewStoreWithClient(client, "test-bucket")
	ctx := context.Background()

	if _, err := store.Create(ctx, "good", 0, 0); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	client.objects["documents/bad.json"] = []byte("not json")

	docs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "good" {
		t.Errorf("List() returned %d documents", len(docs))
	}
}
