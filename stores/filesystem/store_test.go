package filesystem

import (
	"context"
	"design-editor/core"
	"design-editor/stores/storetest"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *fsStore {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return newTestStore(t) })
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "path", "test")
	if _, err := NewStore(tempDir); err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("NewStore() did not create nested directory structure")
	}
}

func TestLayout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.Create(ctx, "on disk", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := store.AppendHistory(ctx, core.HistoryEntry{DocumentID: doc.ID, Version: 12, Patches: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("AppendHistory() failed: %v", err)
	}

	for _, p := range []string{
		filepath.Join(store.basePath, doc.ID+".json"),
		filepath.Join(store.basePath, doc.ID+".history", "00000000000000000012.json"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected file %s: %v", p, err)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(store.basePath, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestPathTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	testCases := []string{
		"",
		"../etc/passwd",
		"../../secret",
		"..\\..\\windows\\system32",
		"/etc/passwd",
		"C:\\Windows\\System32",
	}

	for _, id := range testCases {
		t.Run(id, func(t *testing.T) {
			if _, err := store.Get(ctx, id); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Get() error = %v, want ErrInvalidID", err)
			}
			if err := store.Delete(ctx, id); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Delete() error = %v, want ErrInvalidID", err)
			}
			if _, err := store.ListHistory(ctx, id); !errors.Is(err, ErrInvalidID) {
				t.Errorf("ListHistory() error = %v, want ErrInvalidID", err)
			}
			doc := core.NewDocument("escape", 0, 0)
			doc.ID = id
			if err := store.Put(ctx, doc); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Put() error = %v, want ErrInvalidID", err)
			}
		})
	}
}

func TestList_SkipsForeignFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "real", 0, 0); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	os.WriteFile(filepath.Join(store.basePath, "notes.txt"), []byte("hello"), 0644)
	os.WriteFile(filepath.Join(store.basePath, "broken.json"), []byte("{"), 0644)

	docs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "real" {
		t.Errorf("List() returned %d documents", len(docs))
	}
}

func TestDataPersistence(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	first, _ := NewStore(tempDir)
	doc, err := first.Create(ctx, "persistent", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	second, _ := NewStore(tempDir)
	got, err := second.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() from new store instance failed: %v", err)
	}
	if got.Name != "persistent" {
		t.Errorf("Data persistence failed: got %q", got.Name)
	}
}

func TestConcurrentPut(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	doc, err := store.Create(ctx, "shared", 0, 0)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			update := doc.Clone()
			update.Version = v
			if err := store.Put(ctx, update); err != nil {
				t.Errorf("Concurrent Put() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := store.Get(ctx, doc.ID); err != nil {
				t.Errorf("Concurrent Get() failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
