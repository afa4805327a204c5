// Package storetest checks that a store implementation honors the
// core.DocumentStore and core.HistoryStore contracts.
package storetest

import (
	"context"
	"design-editor/core"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type Store interface {
	core.DocumentStore
	core.HistoryStore
}

// Sample returns a document with a layer of every type, grouped, and every
// optional field set somewhere.
func Sample() *core.Document {
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	doc := core.NewDocument("sample", 640, 480)
	doc.CreatedAt, doc.UpdatedAt = at, at
	doc.Version = 7
	doc.Layers = map[string]core.Layer{
		"r": &core.RectangleLayer{
			BaseLayer:    core.BaseLayer{ID: "r", Type: core.LayerRectangle, Width: 10, Height: 20, Visible: true, Name: "r", Rotation: core.Float(30)},
			CornerRadius: &core.CornerRadius{Corners: &core.Corners{TopLeft: 1, BottomRight: 4}},
			Fill:         core.NewRGBA(10, 20, 30, 0.5),
			Stroke:       &core.Stroke{Color: core.NewRGBA(0, 0, 0, 1), Width: 2, DashArray: []float64{4, 2}},
		},
		"t": &core.TextLayer{
			BaseLayer:  core.BaseLayer{ID: "t", Type: core.LayerText, Visible: true, Name: "t"},
			Value:      "hello",
			FontSize:   core.Float(12),
			FontFamily: "Inter",
			FontWeight: 700,
			Fill:       core.NewRGBA(0, 0, 0, 1),
			Effects:    []core.Effect{{Blur: &core.BlurEffect{Radius: 3, Type: "layer"}}},
		},
		"p": &core.PathLayer{
			BaseLayer: core.BaseLayer{ID: "p", Type: core.LayerPath, Visible: true, Name: "p"},
			Points:    [][]float64{{0, 0}, {5, 5, 0.5}},
		},
		"g": &core.GroupLayer{
			BaseLayer: core.BaseLayer{ID: "g", Type: core.LayerGroup, Visible: true, Name: "g"},
			Children:  []string{"t", "p"},
		},
	}
	doc.RootLayerIDs = []string{"r", "g"}
	return doc
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	opts := cmp.Options{cmpopts.EquateEmpty()}

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, "Poster", 800, 600)
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		if len(created.ID) != 26 {
			t.Errorf("Create() returned invalid ID length: got %d, want 26", len(created.ID))
		}
		got, err := s.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if diff := cmp.Diff(created, got, opts); diff != "" {
			t.Errorf("Get() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PutRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		doc := Sample()

		if err := s.Put(ctx, doc); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		got, err := s.Get(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if diff := cmp.Diff(doc, got, opts); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}

		doc.Name = "renamed"
		doc.Version++
		if err := s.Put(ctx, doc); err != nil {
			t.Fatalf("Put() overwrite failed: %v", err)
		}
		got, _ = s.Get(ctx, doc.ID)
		if got.Name != "renamed" || got.Version != 8 {
			t.Errorf("overwrite not visible: name %q version %d", got.Name, got.Version)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "01HQZX3W5N8K2M4P6R8T0V2X4Z")
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get() error = %v, want core.ErrNotFound", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		for i, name := range []string{"old", "newest", "middle"} {
			doc := core.NewDocument(name, 0, 0)
			doc.UpdatedAt = base.Add(time.Duration([]int{1, 3, 2}[i]) * time.Hour)
			if err := s.Put(ctx, doc); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
		}
		docs, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		var names []string
		for _, d := range docs {
			names = append(names, d.Name)
		}
		if diff := cmp.Diff([]string{"newest", "middle", "old"}, names); diff != "" {
			t.Errorf("List() order (-want +got):\n%s", diff)
		}
	})

	t.Run("History", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		doc, err := s.Create(ctx, "history", 0, 0)
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}

		stamp := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		var want []core.HistoryEntry
		for _, v := range []int{2, 1, 3} {
			entry := core.HistoryEntry{
				DocumentID: doc.ID,
				Version:    v,
				Patches:    json.RawMessage(`[{"op":"replace","path":["name"],"value":"x","oldValue":"y"}]`),
				Timestamp:  stamp.Add(time.Duration(v) * time.Second),
			}
			if err := s.AppendHistory(ctx, entry); err != nil {
				t.Fatalf("AppendHistory(%d) failed: %v", v, err)
			}
		}
		for _, v := range []int{1, 2, 3} {
			want = append(want, core.HistoryEntry{
				DocumentID: doc.ID,
				Version:    v,
				Patches:    json.RawMessage(`[{"op":"replace","path":["name"],"value":"x","oldValue":"y"}]`),
				Timestamp:  stamp.Add(time.Duration(v) * time.Second),
			})
		}

		if err := s.AppendHistory(ctx, core.HistoryEntry{DocumentID: doc.ID, Version: 2, Patches: json.RawMessage(`[]`)}); err == nil {
			t.Error("AppendHistory() accepted a duplicate version")
		}

		got, err := s.ListHistory(ctx, doc.ID)
		if err != nil {
			t.Fatalf("ListHistory() failed: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ListHistory() mismatch (-want +got):\n%s", diff)
		}

		if empty, err := s.ListHistory(ctx, "unknown"); err != nil || len(empty) != 0 {
			t.Errorf("ListHistory(unknown) = %d entries, %v", len(empty), err)
		}
	})

	t.Run("DeleteRemovesHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		doc, _ := s.Create(ctx, "doomed", 0, 0)
		if err := s.AppendHistory(ctx, core.HistoryEntry{DocumentID: doc.ID, Version: 1, Patches: json.RawMessage(`[]`)}); err != nil {
			t.Fatalf("AppendHistory() failed: %v", err)
		}

		if err := s.Delete(ctx, doc.ID); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if _, err := s.Get(ctx, doc.ID); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get() after Delete: %v", err)
		}
		if entries, _ := s.ListHistory(ctx, doc.ID); len(entries) != 0 {
			t.Errorf("history survived Delete(): %d entries", len(entries))
		}
		if err := s.Delete(ctx, doc.ID); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("second Delete() = %v, want core.ErrNotFound", err)
		}
	})
}
