package patch

import (
	"design-editor/core"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var equateEmpty = cmpopts.EquateEmpty()

func rect(id string, x float64) *core.RectangleLayer {
	return &core.RectangleLayer{
		BaseLayer: core.BaseLayer{ID: id, Type: core.LayerRectangle, X: x, Width: 100, Height: 100, Visible: true, Name: id},
		Fill:      core.NewRGBA(229, 229, 229, 1),
	}
}

func fixture() *core.Document {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := core.NewDocument("fixture", 800, 600)
	doc.ID = "01HQZX3W5N8K2M4P6R8T0V2X4Z"
	doc.CreatedAt, doc.UpdatedAt = created, created
	doc.Layers["r1"] = rect("r1", 0)
	doc.Layers["e1"] = &core.EllipseLayer{
		BaseLayer: core.BaseLayer{ID: "e1", Type: core.LayerEllipse, Width: 10, Height: 10, Visible: true, Name: "e1"},
		Fill:      core.NewRGBA(1, 2, 3, 1),
	}
	doc.Layers["p1"] = &core.PathLayer{
		BaseLayer: core.BaseLayer{ID: "p1", Type: core.LayerPath, Visible: true, Name: "p1"},
		Points:    [][]float64{{0, 0}, {5, 5}},
	}
	doc.Layers["g1"] = &core.GroupLayer{
		BaseLayer: core.BaseLayer{ID: "g1", Type: core.LayerGroup, Visible: true, Name: "g1"},
		Children:  []string{"p1"},
	}
	doc.RootLayerIDs = []string{"r1", "e1", "g1"}
	return doc
}

func TestApply_AddLayer(t *testing.T) {
	doc := core.NewDocument("empty", 0, 0)
	batch := []Patch{
		must(NewAdd(Path{"layers", "r1"}, rect("r1", 0), End)),
		must(NewAdd(Path{"rootLayerIds"}, "r1", End)),
	}

	got, err := Apply(doc, batch)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if diff := cmp.Diff([]string{"r1"}, got.RootLayerIDs); diff != "" {
		t.Errorf("root order mismatch (-want +got):\n%s", diff)
	}
	if got.Layers["r1"].Base().Width != 100 {
		t.Errorf("layers[r1].width: got %v, want 100", got.Layers["r1"].Base().Width)
	}
	if len(doc.Layers) != 0 || len(doc.RootLayerIDs) != 0 {
		t.Error("Apply() mutated its input")
	}
}

func TestApply_SequenceSemantics(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		want  []string
	}{
		{"append", must(NewAdd(Path{"rootLayerIds"}, "x", End)), []string{"r1", "e1", "g1", "x"}},
		{"insert at index", must(NewAdd(Path{"rootLayerIds"}, "x", 1)), []string{"r1", "x", "e1", "g1"}},
		{"insert through element key", must(NewAdd(Path{"rootLayerIds", "0"}, "x", End)), []string{"x", "r1", "e1", "g1"}},
		{"remove at index", must(NewRemove(Path{"rootLayerIds"}, "e1", 1)), []string{"r1", "g1"}},
		{"remove element key", must(NewRemove(Path{"rootLayerIds", "2"}, "g1", NoIndex)), []string{"r1", "e1"}},
		{"remove by value", must(NewRemoveValue(Path{"rootLayerIds"}, "r1")), []string{"e1", "g1"}},
		{"replace element", must(NewReplace(Path{"rootLayerIds", "1"}, "x", "e1")), []string{"r1", "x", "g1"}},
		{"move forward", must(NewMove(Path{"rootLayerIds"}, 0, 2)), []string{"e1", "g1", "r1"}},
		{"move backward", must(NewMove(Path{"rootLayerIds"}, 2, 0)), []string{"g1", "r1", "e1"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Apply(fixture(), []Patch{tc.patch})
			if err != nil {
				t.Fatalf("Apply() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got.RootLayerIDs); diff != "" {
				t.Errorf("root order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name       string
		patch      Patch
		want       error
		resolution bool
	}{
		{"missing intermediate key", must(NewReplace(Path{"layers", "nope", "x"}, 1, 0)), ErrPathNotFound, true},
		{"non canonical index", must(NewReplace(Path{"layers", "p1", "points", "01", "0"}, 1, 0)), ErrInvalidIndex, true},
		{"negative looking index", must(NewReplace(Path{"rootLayerIds", "-1"}, "x", nil)), ErrInvalidIndex, true},
		{"through a leaf", must(NewReplace(Path{"name", "x"}, "y", nil)), ErrPathNotContainer, true},
		{"existing key", must(NewAdd(Path{"layers", "r1"}, rect("r1", 0), End)), ErrKeyAlreadyExists, false},
		{"replace absent key", must(NewReplace(Path{"layers", "r1", "rotation"}, 1, nil)), ErrKeyNotFound, false},
		{"remove absent key", must(NewRemove(Path{"layers", "zz"}, nil, NoIndex)), ErrKeyNotFound, false},
		{"insert out of range", must(NewAdd(Path{"rootLayerIds"}, "x", 4)), ErrIndexOutOfBounds, false},
		{"remove out of range", must(NewRemove(Path{"rootLayerIds"}, nil, 3)), ErrIndexOutOfBounds, false},
		{"remove missing value", must(NewRemoveValue(Path{"rootLayerIds"}, "zz")), ErrValueNotFound, false},
		{"move on mapping", must(NewMove(Path{"layers"}, 0, 1)), ErrNotSequence, false},
		{"move out of range", must(NewMove(Path{"rootLayerIds"}, 0, 3)), ErrIndexOutOfBounds, false},
		{"index into mapping value", must(NewRemove(Path{"layers", "r1", "fill"}, nil, 0)), ErrNotSequence, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := fixture()
			got, err := Apply(doc, []Patch{tc.patch})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tc.want)
			}
			if got != nil {
				t.Error("Apply() returned a document alongside an error")
			}
			if IsPathResolution(err) != tc.resolution {
				t.Errorf("IsPathResolution() = %v, want %v", IsPathResolution(err), tc.resolution)
			}
			if IsStructuralConflict(err) == tc.resolution {
				t.Errorf("IsStructuralConflict() = %v, want %v", IsStructuralConflict(err), !tc.resolution)
			}
			if diff := cmp.Diff(fixture(), doc, equateEmpty); diff != "" {
				t.Errorf("input mutated (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_AbortsWholeBatch(t *testing.T) {
	doc := fixture()
	batch := []Patch{
		must(NewReplace(Path{"layers", "r1", "x"}, 50, 0)),
		must(NewRemove(Path{"layers", "missing"}, nil, NoIndex)),
	}

	_, err := Apply(doc, batch)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("Apply() error = %v, want *Error", err)
	}
	if perr.Index != 1 {
		t.Errorf("failing patch index: got %d, want 1", perr.Index)
	}
	if doc.Layers["r1"].Base().X != 0 {
		t.Error("first patch leaked into the input document")
	}
}

func TestApply_InvalidDocument(t *testing.T) {
	_, err := Apply(fixture(), []Patch{must(NewRemove(Path{"layers", "r1", "x"}, 0, NoIndex))})
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("Apply() error = %v, want ErrInvalidDocument", err)
	}

	_, err = Apply(fixture(), []Patch{must(NewReplace(Path{"layers", "r1", "x"}, "left", 0))})
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("Apply() error = %v, want ErrInvalidDocument", err)
	}
}

func withText() *core.Document {
	doc := fixture()
	doc.Layers["t1"] = &core.TextLayer{
		BaseLayer:  core.BaseLayer{ID: "t1", Type: core.LayerText, Width: 50, Height: 20, Visible: true, Name: "t1"},
		Value:      "hello",
		FontFamily: "Arial",
		FontWeight: 400,
		Fill:       core.NewRGBA(0, 0, 0, 1),
	}
	doc.RootLayerIDs = append(doc.RootLayerIDs, "t1")
	return doc
}

func TestApply_RejectsUnrepresentableResult(t *testing.T) {
	tests := []struct {
		name   string
		patch  Patch
		wantAt string
	}{
		{"unknown layer field", must(NewAdd(Path{"layers", "r1", "opacity"}, 0.5, End)), "layers/r1/opacity"},
		{"unknown document field", must(NewAdd(Path{"owner"}, "someone", End)), "owner"},
		{"nil optional number", must(NewAdd(Path{"layers", "t1", "rotation"}, nil, End)), "layers/t1/rotation"},
		{"empty optional string", must(NewReplace(Path{"layers", "t1", "fontFamily"}, "", "Arial")), "layers/t1/fontFamily"},
		{"zero font weight", must(NewReplace(Path{"layers", "t1", "fontWeight"}, 0, 400)), "layers/t1/fontWeight"},
		{"fractional version", must(NewReplace(Path{"version"}, 1.5, 0)), "version"},
		{"unknown color channel", must(NewAdd(Path{"layers", "r1", "fill", "alpha"}, 1, End)), "layers/r1/fill/alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := withText()
			before := doc.Clone()
			_, inverse, err := ApplyWithInverse(doc, []Patch{tt.patch})
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("ApplyWithInverse() error = %v, want ErrInvalidDocument", err)
			}
			if inverse != nil {
				t.Errorf("inverse = %v, want none", inverse)
			}
			if !strings.Contains(err.Error(), tt.wantAt) {
				t.Errorf("error %q does not name %s", err, tt.wantAt)
			}
			if diff := cmp.Diff(before, doc, equateEmpty); diff != "" {
				t.Errorf("input document changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply_RepresentableOptionalFields(t *testing.T) {
	batch := []Patch{
		must(NewAdd(Path{"layers", "t1", "rotation"}, 45, End)),
		must(NewReplace(Path{"layers", "t1", "fontFamily"}, "Helvetica", "Arial")),
		must(NewRemove(Path{"layers", "t1", "fontWeight"}, 400, NoIndex)),
	}
	doc := withText()

	got, inverse, err := ApplyWithInverse(doc, batch)
	if err != nil {
		t.Fatalf("ApplyWithInverse() error = %v", err)
	}
	back, err := Apply(got, Reverse(inverse))
	if err != nil {
		t.Fatalf("applying inverse: %v", err)
	}
	if diff := cmp.Diff(doc, back, equateEmpty); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInverse_RoundTrip(t *testing.T) {
	batches := map[string][]Patch{
		"add layer": {
			must(NewAdd(Path{"layers", "n1"}, rect("n1", 3), End)),
			must(NewAdd(Path{"rootLayerIds"}, "n1", 1)),
		},
		"remove layer": {
			must(NewRemove(Path{"rootLayerIds"}, "r1", 0)),
			must(NewRemove(Path{"layers", "r1"}, rect("r1", 0), NoIndex)),
		},
		"remove by value then by key": {
			must(NewRemoveValue(Path{"rootLayerIds"}, "e1")),
			must(NewRemove(Path{"layers", "e1"}, nil, NoIndex)),
		},
		"update fields": {
			must(NewReplace(Path{"layers", "r1", "x"}, 50, 0)),
			must(NewReplace(Path{"layers", "r1", "x"}, 75, 50)),
			must(NewAdd(Path{"layers", "r1", "rotation"}, 90, End)),
		},
		"move block": {
			must(NewRemove(Path{"rootLayerIds"}, "r1", 0)),
			must(NewRemove(Path{"rootLayerIds"}, "e1", 0)),
			must(NewAdd(Path{"rootLayerIds"}, "e1", 1)),
			must(NewAdd(Path{"rootLayerIds"}, "r1", 1)),
		},
		"move element": {
			must(NewMove(Path{"rootLayerIds"}, 0, 2)),
			must(NewMove(Path{"layers", "p1", "points"}, 1, 0)),
		},
		"nested sequence": {
			must(NewAdd(Path{"layers", "p1", "points"}, []any{9, 9}, End)),
			must(NewReplace(Path{"layers", "p1", "points", "0", "1"}, 4, 0)),
			must(NewRemove(Path{"layers", "p1", "points", "1"}, nil, NoIndex)),
		},
		"replace root list": {
			must(NewReplace(Path{"rootLayerIds"}, []string{"g1", "r1", "e1"}, []string{"r1", "e1", "g1"})),
		},
	}

	for name, batch := range batches {
		t.Run(name, func(t *testing.T) {
			doc := fixture()
			after, inverse, err := ApplyWithInverse(doc, batch)
			if err != nil {
				t.Fatalf("ApplyWithInverse() failed: %v", err)
			}
			if len(inverse) != len(batch) {
				t.Fatalf("inverse length: got %d, want %d", len(inverse), len(batch))
			}

			calculated, err := CalculateInversePatches(doc, batch)
			if err != nil {
				t.Fatalf("CalculateInversePatches() failed: %v", err)
			}
			if diff := cmp.Diff(inverse, calculated); diff != "" {
				t.Errorf("inverse mismatch (-eager +calculated):\n%s", diff)
			}

			restored, err := Apply(after, Reverse(inverse))
			if err != nil {
				t.Fatalf("applying inverse failed: %v", err)
			}
			if diff := cmp.Diff(doc, restored, equateEmpty); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			redone, err := Apply(restored, batch)
			if err != nil {
				t.Fatalf("re-applying batch failed: %v", err)
			}
			if diff := cmp.Diff(after, redone, equateEmpty); diff != "" {
				t.Errorf("redo mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInverse_ReplaceCarriesPreImage(t *testing.T) {
	forward := must(NewReplace(Path{"layers", "r1", "x"}, 50, 0))

	inverse, err := CalculateInversePatches(fixture(), []Patch{forward})
	if err != nil {
		t.Fatalf("CalculateInversePatches() failed: %v", err)
	}

	want := must(NewReplace(Path{"layers", "r1", "x"}, 0, 50))
	if diff := cmp.Diff([]Patch{want}, inverse); diff != "" {
		t.Errorf("inverse mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(fixture(), must(NewReplace(Path{"name"}, "renamed", "fixture"))); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if err := Validate(fixture(), must(NewAdd(Path{"layers", "r1"}, rect("r1", 0), End))); !errors.Is(err, ErrKeyAlreadyExists) {
		t.Errorf("Validate() = %v, want ErrKeyAlreadyExists", err)
	}
}

func TestToJSONPatch_MatchesApply(t *testing.T) {
	doc := fixture()
	batch := []Patch{
		must(NewAdd(Path{"layers", "n1"}, rect("n1", 3), End)),
		must(NewAdd(Path{"rootLayerIds"}, "n1", End)),
		must(NewReplace(Path{"layers", "r1", "x"}, 50, 0)),
		must(NewMove(Path{"rootLayerIds"}, 0, 2)),
		must(NewRemoveValue(Path{"rootLayerIds"}, "e1")),
		must(NewRemove(Path{"layers", "e1"}, nil, NoIndex)),
		must(NewAdd(Path{"layers", "g1", "children", "0"}, "x", End)),
		must(NewRemove(Path{"layers", "g1", "children"}, "x", 0)),
	}

	want, err := Apply(doc, batch)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	patched, err := ApplyJSON(docJSON, batch)
	if err != nil {
		t.Fatalf("ApplyJSON() failed: %v", err)
	}

	var got core.Document
	if err := json.Unmarshal(patched, &got); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if diff := cmp.Diff(want, &got, equateEmpty); diff != "" {
		t.Errorf("RFC 6902 result differs from Apply (-want +got):\n%s", diff)
	}
}

func TestPointerEscaping(t *testing.T) {
	if got, want := pointer(Path{"layers", "a/b", "c~d"}), "/layers/a~1b/c~0d"; got != want {
		t.Errorf("pointer() = %q, want %q", got, want)
	}
}
