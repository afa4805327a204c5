// Package patch implements structured, invertible edits on design documents.
//
// A Patch addresses a location in the node form of a core.Document by Path.
// Apply runs a batch against a copy of a document and either returns the
// fully mutated copy or fails without side effects. Every applied patch
// yields an inverse that restores the state it was applied to.
package patch

import (
	"design-editor/core"
	"encoding/json"
	"fmt"
	"strings"
)

type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpReplace Op = "replace"
	OpMove    Op = "move"
)

const (
	// End appends when used as the index of an Add.
	End = -1
	// NoIndex marks a Remove that addresses its target by key.
	NoIndex = -1
)

// Path is a sequence of keys from the document root. Keys that address a
// sequence element are canonical non-negative integers.
type Path []string

// ParsePath splits a slash separated path such as "layers/r1/x".
func ParsePath(s string) Path {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}
	}
	return strings.Split(s, "/")
}

func (p Path) String() string { return strings.Join(p, "/") }

// Append returns a new path with keys added.
func (p Path) Append(keys ...string) Path {
	out := make(Path, 0, len(p)+len(keys))
	return append(append(out, p...), keys...)
}

// HasPrefix reports whether prefix addresses p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (p Path) equal(o Path) bool {
	return len(p) == len(o) && p.HasPrefix(o)
}

func (p Path) clone() Path {
	return append(Path(nil), p...)
}

// Patch is an immutable edit. Construct one with NewAdd, NewRemove,
// NewRemoveValue, NewReplace or NewMove.
type Patch struct {
	op       Op
	path     Path
	value    any
	oldValue any
	index    int
	byValue  bool
}

// NewAdd inserts value into the sequence at path at index (End appends),
// or sets the mapping key at path, which must not exist yet.
func NewAdd(path Path, value any, index int) (Patch, error) {
	if index < End {
		return Patch{}, fmt.Errorf("%w: add index %d", ErrInvalidPatch, index)
	}
	v, err := nodeOf(value)
	if err != nil {
		return Patch{}, err
	}
	return build(OpAdd, path, v, nil, index, false)
}

// NewRemove deletes the mapping key at path when index is NoIndex, or the
// element at index of the sequence at path. oldValue records what is
// expected to be removed.
func NewRemove(path Path, oldValue any, index int) (Patch, error) {
	if index < NoIndex {
		return Patch{}, fmt.Errorf("%w: remove index %d", ErrInvalidPatch, index)
	}
	old, err := nodeOf(oldValue)
	if err != nil {
		return Patch{}, err
	}
	return build(OpRemove, path, nil, old, index, false)
}

// NewRemoveValue removes the first element of the sequence at path that is
// structurally equal to value.
func NewRemoveValue(path Path, value any) (Patch, error) {
	v, err := nodeOf(value)
	if err != nil {
		return Patch{}, err
	}
	return build(OpRemove, path, v, nil, NoIndex, true)
}

// NewReplace overwrites the existing key or element at path.
func NewReplace(path Path, value, oldValue any) (Patch, error) {
	if value == nil {
		return Patch{}, fmt.Errorf("%w: replace requires a value", ErrInvalidPatch)
	}
	v, err := nodeOf(value)
	if err != nil {
		return Patch{}, err
	}
	old, err := nodeOf(oldValue)
	if err != nil {
		return Patch{}, err
	}
	return build(OpReplace, path, v, old, NoIndex, false)
}

// NewMove moves the element at from to to within the sequence at path.
func NewMove(path Path, from, to int) (Patch, error) {
	if from < 0 || to < 0 {
		return Patch{}, fmt.Errorf("%w: move from %d to %d", ErrInvalidPatch, from, to)
	}
	return build(OpMove, path, float64(from), nil, to, false)
}

func build(op Op, path Path, value, oldValue any, index int, byValue bool) (Patch, error) {
	if len(path) == 0 {
		return Patch{}, ErrEmptyPath
	}
	for _, key := range path {
		if key == "" {
			return Patch{}, fmt.Errorf("%w: empty key in %q", ErrInvalidPatch, path.String())
		}
	}
	return Patch{op: op, path: path.clone(), value: value, oldValue: oldValue, index: index, byValue: byValue}, nil
}

func nodeOf(v any) (any, error) {
	n, err := core.NodeOf(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return n, nil
}

// must builds patches whose shape is known to be valid.
func must(p Patch, err error) Patch {
	if err != nil {
		panic(err)
	}
	return p
}

func (p Patch) Op() Op        { return p.op }
func (p Patch) Path() Path    { return p.path.clone() }
func (p Patch) Value() any    { return core.CloneNode(p.value) }
func (p Patch) OldValue() any { return core.CloneNode(p.oldValue) }

// Index is the insertion point of an Add, the removal point of a Remove or
// the destination of a Move.
func (p Patch) Index() int { return p.index }

// ByValue reports whether a Remove matches its element by value.
func (p Patch) ByValue() bool { return p.byValue }

// From is the source index of a Move.
func (p Patch) From() int {
	if p.op != OpMove {
		return NoIndex
	}
	return int(p.value.(float64))
}

func (p Patch) IsZero() bool { return p.op == "" }

func (p Patch) Equal(o Patch) bool {
	return p.op == o.op &&
		p.path.equal(o.path) &&
		p.index == o.index &&
		p.byValue == o.byValue &&
		core.EqualNode(p.value, o.value) &&
		core.EqualNode(p.oldValue, o.oldValue)
}

func (p Patch) String() string {
	switch p.op {
	case OpMove:
		return fmt.Sprintf("move %s %d->%d", p.path, p.From(), p.index)
	case OpAdd, OpRemove:
		if p.index != NoIndex {
			return fmt.Sprintf("%s %s @%d", p.op, p.path, p.index)
		}
	}
	return fmt.Sprintf("%s %s", p.op, p.path)
}

type wirePatch struct {
	Op       Op              `json:"op"`
	Path     []string        `json:"path"`
	Value    json.RawMessage `json:"value,omitempty"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	Index    *int            `json:"index,omitempty"`
}

func (p Patch) MarshalJSON() ([]byte, error) {
	w := wirePatch{Op: p.op, Path: p.path}
	var err error
	switch p.op {
	case OpAdd:
		w.Value, err = json.Marshal(p.value)
		if p.index != End {
			w.Index = &p.index
		}
	case OpRemove:
		if p.byValue {
			w.Value, err = json.Marshal(p.value)
			break
		}
		if p.oldValue != nil {
			w.OldValue, err = json.Marshal(p.oldValue)
		}
		if p.index != NoIndex {
			w.Index = &p.index
		}
	case OpReplace:
		if w.Value, err = json.Marshal(p.value); err == nil && p.oldValue != nil {
			w.OldValue, err = json.Marshal(p.oldValue)
		}
	case OpMove:
		w.Value, err = json.Marshal(p.value)
		w.Index = &p.index
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (p *Patch) UnmarshalJSON(b []byte) error {
	var w wirePatch
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	value, err := rawNode(w.Value)
	if err != nil {
		return err
	}
	oldValue, err := rawNode(w.OldValue)
	if err != nil {
		return err
	}
	index := NoIndex
	if w.Index != nil {
		index = *w.Index
	}

	var decoded Patch
	switch w.Op {
	case OpAdd:
		decoded, err = NewAdd(w.Path, value, index)
	case OpRemove:
		if w.Value != nil {
			decoded, err = NewRemoveValue(w.Path, value)
		} else {
			decoded, err = NewRemove(w.Path, oldValue, index)
		}
	case OpReplace:
		decoded, err = NewReplace(w.Path, value, oldValue)
	case OpMove:
		from, ok := value.(float64)
		if !ok || w.Index == nil || from != float64(int(from)) {
			return fmt.Errorf("%w: move requires integer value and index", ErrInvalidPatch)
		}
		decoded, err = NewMove(w.Path, int(from), index)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, w.Op)
	}
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func rawNode(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return v, nil
}

// EncodeBatch renders a batch in the form kept by history stores.
func EncodeBatch(patches []Patch) (json.RawMessage, error) {
	if patches == nil {
		patches = []Patch{}
	}
	return json.Marshal(patches)
}

func DecodeBatch(raw json.RawMessage) ([]Patch, error) {
	var patches []Patch
	if err := json.Unmarshal(raw, &patches); err != nil {
		return nil, err
	}
	return patches, nil
}
