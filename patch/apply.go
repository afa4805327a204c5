package patch

import (
	"design-editor/core"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Apply applies patches in order to a copy of doc. On any failure it returns
// an error and no document; doc itself is never modified.
func Apply(doc *core.Document, patches []Patch) (*core.Document, error) {
	out, _, err := run(doc, patches)
	return out, err
}

// ApplyWithInverse applies patches like Apply and also returns, for each
// patch, the patch that undoes it. Inverse i is resolved against the state
// immediately before patch i, so the list is in forward order; undo applies
// Reverse(inverse).
func ApplyWithInverse(doc *core.Document, patches []Patch) (*core.Document, []Patch, error) {
	return run(doc, patches)
}

// Validate reports whether p applies cleanly to doc.
func Validate(doc *core.Document, p Patch) error {
	_, _, err := run(doc, []Patch{p})
	return err
}

func run(doc *core.Document, patches []Patch) (*core.Document, []Patch, error) {
	if doc == nil {
		return nil, nil, errors.New("patch: nil document")
	}
	root := doc.Node()
	inverse := make([]Patch, 0, len(patches))
	for i, p := range patches {
		res, err := step(root, p)
		if err != nil {
			return nil, nil, &Error{Index: i, Patch: p, Err: err}
		}
		inverse = append(inverse, res.inverse)
	}
	out, err := core.DocumentFromNode(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	// Every patched key must survive decoding, or the recorded inverses
	// would address state the document no longer has.
	if at, ok := mismatch(out.Node(), root, nil); ok {
		return nil, nil, fmt.Errorf("%w: %s is not representable", ErrInvalidDocument, at)
	}
	return out, inverse, nil
}

// mismatch returns the first path at which the decoded tree want differs
// from the patched tree got.
func mismatch(want, got any, at Path) (Path, bool) {
	wm, wok := want.(map[string]any)
	gm, gok := got.(map[string]any)
	if wok && gok {
		keys := make([]string, 0, len(gm))
		for k := range gm {
			keys = append(keys, k)
		}
		for k := range wm {
			if _, ok := gm[k]; !ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			wv, inWant := wm[k]
			gv, inGot := gm[k]
			if inWant != inGot {
				return at.Append(k), true
			}
			if p, ok := mismatch(wv, gv, at.Append(k)); ok {
				return p, true
			}
		}
		return nil, false
	}
	ws, wok := want.([]any)
	gs, gok := got.([]any)
	if wok && gok && len(ws) == len(gs) {
		for i := range ws {
			if p, ok := mismatch(ws[i], gs[i], at.Append(strconv.Itoa(i))); ok {
				return p, true
			}
		}
		return nil, false
	}
	if core.EqualNode(want, got) {
		return nil, false
	}
	return at, true
}

// result is what applying one patch produced: its inverse and the
// equivalent RFC 6902 operation with every index resolved.
type result struct {
	inverse Patch
	op      jsonOp
}

// locate walks every key of path but the last and returns the container
// holding the final key along with a setter that stores a replacement for
// that container in its own parent.
func locate(root map[string]any, path Path) (any, func(any), error) {
	var cur any = root
	set := func(any) { panic("patch: document root cannot be replaced") }
	for i, key := range path[:len(path)-1] {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[key]
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s", ErrPathNotFound, path[:i+1])
			}
			set = func(v any) { c[key] = v }
			cur = next
		case []any:
			idx, err := parseIndex(key)
			if err != nil {
				return nil, nil, err
			}
			if idx >= len(c) {
				return nil, nil, fmt.Errorf("%w: %s", ErrPathNotFound, path[:i+1])
			}
			set = func(v any) { c[idx] = v }
			cur = c[idx]
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrPathNotContainer, path[:i])
		}
	}
	switch cur.(type) {
	case map[string]any, []any:
		return cur, set, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrPathNotContainer, path[:len(path)-1])
	}
}

func parseIndex(key string) (int, error) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIndex, key)
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidIndex, key)
		}
	}
	idx, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIndex, key)
	}
	return idx, nil
}

// step applies p to the tree in place.
func step(root map[string]any, p Patch) (result, error) {
	if p.IsZero() {
		return result{}, ErrInvalidPatch
	}
	container, set, err := locate(root, p.path)
	if err != nil {
		return result{}, err
	}
	key := p.path[len(p.path)-1]
	switch c := container.(type) {
	case []any:
		return stepElement(c, set, key, p)
	case map[string]any:
		return stepKey(c, key, p)
	}
	panic("unreachable")
}

// stepElement handles a path whose last key indexes a sequence.
func stepElement(seq []any, set func(any), key string, p Patch) (result, error) {
	idx, err := parseIndex(key)
	if err != nil {
		return result{}, err
	}
	ptr := pointer(p.path)
	switch p.op {
	case OpAdd:
		if idx > len(seq) {
			return result{}, fmt.Errorf("%w: insert at %d, length %d", ErrIndexOutOfBounds, idx, len(seq))
		}
		set(insert(seq, idx, core.CloneNode(p.value)))
		return result{
			inverse: must(build(OpRemove, p.path, nil, core.CloneNode(p.value), NoIndex, false)),
			op:      jsonOp{Op: "add", Path: ptr, Value: p.value},
		}, nil
	case OpRemove:
		if idx >= len(seq) {
			return result{}, fmt.Errorf("%w: remove at %d, length %d", ErrIndexOutOfBounds, idx, len(seq))
		}
		removed := seq[idx]
		set(removeAt(seq, idx))
		return result{
			inverse: must(build(OpAdd, p.path, removed, nil, End, false)),
			op:      jsonOp{Op: "remove", Path: ptr},
		}, nil
	case OpReplace:
		if idx >= len(seq) {
			return result{}, fmt.Errorf("%w: replace at %d, length %d", ErrIndexOutOfBounds, idx, len(seq))
		}
		old := seq[idx]
		seq[idx] = core.CloneNode(p.value)
		return result{
			inverse: must(build(OpReplace, p.path, old, core.CloneNode(p.value), NoIndex, false)),
			op:      jsonOp{Op: "replace", Path: ptr, Value: p.value},
		}, nil
	case OpMove:
		if idx >= len(seq) {
			return result{}, fmt.Errorf("%w: %s", ErrPathNotFound, p.path)
		}
		return stepMove(seq[idx], func(v any) { seq[idx] = v }, p)
	}
	return result{}, fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, p.op)
}

// stepKey handles a path whose last key names a mapping entry.
func stepKey(m map[string]any, key string, p Patch) (result, error) {
	target, exists := m[key]
	ptr := pointer(p.path)
	setKey := func(v any) { m[key] = v }

	switch p.op {
	case OpAdd:
		if seq, ok := target.([]any); exists && ok {
			idx := p.index
			if idx == End {
				idx = len(seq)
			}
			if idx < 0 || idx > len(seq) {
				return result{}, fmt.Errorf("%w: insert at %d, length %d", ErrIndexOutOfBounds, idx, len(seq))
			}
			setKey(insert(seq, idx, core.CloneNode(p.value)))
			return result{
				inverse: must(build(OpRemove, p.path, nil, core.CloneNode(p.value), idx, false)),
				op:      jsonOp{Op: "add", Path: ptr + "/" + strconv.Itoa(idx), Value: p.value},
			}, nil
		}
		if exists {
			return result{}, fmt.Errorf("%w: %s", ErrKeyAlreadyExists, p.path)
		}
		setKey(core.CloneNode(p.value))
		return result{
			inverse: must(build(OpRemove, p.path, nil, core.CloneNode(p.value), NoIndex, false)),
			op:      jsonOp{Op: "add", Path: ptr, Value: p.value},
		}, nil

	case OpRemove:
		if p.index == NoIndex && !p.byValue {
			if !exists {
				return result{}, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
			}
			delete(m, key)
			return result{
				inverse: must(build(OpAdd, p.path, target, nil, End, false)),
				op:      jsonOp{Op: "remove", Path: ptr},
			}, nil
		}
		if !exists {
			return result{}, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
		}
		seq, ok := target.([]any)
		if !ok {
			return result{}, fmt.Errorf("%w: %s", ErrNotSequence, p.path)
		}
		idx := p.index
		if p.byValue {
			idx = -1
			for i, e := range seq {
				if core.EqualNode(e, p.value) {
					idx = i
					break
				}
			}
			if idx < 0 {
				return result{}, fmt.Errorf("%w: %s", ErrValueNotFound, p.path)
			}
		} else if idx >= len(seq) {
			return result{}, fmt.Errorf("%w: remove at %d, length %d", ErrIndexOutOfBounds, idx, len(seq))
		}
		removed := seq[idx]
		setKey(removeAt(seq, idx))
		return result{
			inverse: must(build(OpAdd, p.path, removed, nil, idx, false)),
			op:      jsonOp{Op: "remove", Path: ptr + "/" + strconv.Itoa(idx)},
		}, nil

	case OpReplace:
		if !exists {
			return result{}, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
		}
		setKey(core.CloneNode(p.value))
		return result{
			inverse: must(build(OpReplace, p.path, target, core.CloneNode(p.value), NoIndex, false)),
			op:      jsonOp{Op: "replace", Path: ptr, Value: p.value},
		}, nil

	case OpMove:
		if !exists {
			return result{}, fmt.Errorf("%w: %s", ErrKeyNotFound, p.path)
		}
		return stepMove(target, setKey, p)
	}
	return result{}, fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, p.op)
}

func stepMove(target any, set func(any), p Patch) (result, error) {
	seq, ok := target.([]any)
	if !ok {
		return result{}, fmt.Errorf("%w: %s", ErrNotSequence, p.path)
	}
	from, to := p.From(), p.index
	if from >= len(seq) || to >= len(seq) {
		return result{}, fmt.Errorf("%w: move %d->%d, length %d", ErrIndexOutOfBounds, from, to, len(seq))
	}
	e := seq[from]
	set(insert(removeAt(seq, from), to, e))
	ptr := pointer(p.path)
	return result{
		inverse: must(build(OpMove, p.path, float64(to), nil, from, false)),
		op:      jsonOp{Op: "move", From: ptr + "/" + strconv.Itoa(from), Path: ptr + "/" + strconv.Itoa(to)},
	}, nil
}

// insert and removeAt always allocate, so sequences shared with an earlier
// snapshot are never written through.
func insert(seq []any, idx int, v any) []any {
	out := make([]any, 0, len(seq)+1)
	out = append(out, seq[:idx]...)
	out = append(out, v)
	return append(out, seq[idx:]...)
}

func removeAt(seq []any, idx int) []any {
	out := make([]any, 0, len(seq)-1)
	out = append(out, seq[:idx]...)
	return append(out, seq[idx+1:]...)
}
