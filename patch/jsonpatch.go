package patch

import (
	"design-editor/core"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// jsonOp is one RFC 6902 operation.
type jsonOp struct {
	Op    string `json:"op"`
	From  string `json:"from,omitempty"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON keeps "value" on add and replace even when it is null.
func (o jsonOp) MarshalJSON() ([]byte, error) {
	type plain jsonOp
	if o.Op != "add" && o.Op != "replace" {
		return json.Marshal(plain(o))
	}
	return json.Marshal(struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{o.Op, o.Path, o.Value})
}

var (
	pointerEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

func pointer(p Path) string {
	var b strings.Builder
	for _, key := range p {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(key))
	}
	return b.String()
}

// ToJSONPatch renders patches as an RFC 6902 document. Appends and
// remove-by-value are resolved to concrete indices against doc as the batch
// progresses, so the result applies to the JSON form of doc.
func ToJSONPatch(doc *core.Document, patches []Patch) ([]byte, error) {
	root := doc.Node()
	ops := make([]jsonOp, 0, len(patches))
	for i, p := range patches {
		res, err := step(root, p)
		if err != nil {
			return nil, &Error{Index: i, Patch: p, Err: err}
		}
		ops = append(ops, res.op)
	}
	return json.Marshal(ops)
}

// ApplyJSON applies patches to a JSON encoded document through an RFC 6902
// implementation and returns the patched JSON.
func ApplyJSON(docJSON []byte, patches []Patch) ([]byte, error) {
	var doc core.Document
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	ops, err := ToJSONPatch(&doc, patches)
	if err != nil {
		return nil, err
	}
	decoded, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return decoded.Apply(docJSON)
}

// FromJSONPatch converts an RFC 6902 document into patches against doc.
// Operations are resolved in order against the progressively patched
// document, so each patch records the state it replaces. "test" is checked
// and produces nothing, "copy" becomes an add, and a "move" that leaves its
// sequence becomes a remove followed by an add. An add onto an existing
// mapping key becomes a replace, as RFC 6902 prescribes.
func FromJSONPatch(doc *core.Document, ops []byte) ([]Patch, error) {
	decoded, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	c := &converter{root: doc.Node()}
	for i, op := range decoded {
		if err := c.convert(op); err != nil {
			return nil, fmt.Errorf("json patch operation %d (%s): %w", i, op.Kind(), err)
		}
	}
	return c.out, nil
}

type converter struct {
	root map[string]any
	out  []Patch
}

func (c *converter) emit(p Patch, err error) error {
	if err != nil {
		return err
	}
	if _, err := step(c.root, p); err != nil {
		return err
	}
	c.out = append(c.out, p)
	return nil
}

func (c *converter) convert(op jsonpatch.Operation) error {
	path, err := operationPointer(op.Path)
	if err != nil {
		return err
	}
	switch op.Kind() {
	case "add":
		v, err := op.ValueInterface()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		return c.add(path, v)
	case "remove":
		old, err := c.valueAt(path)
		if err != nil {
			return err
		}
		return c.emit(NewRemove(path, old, NoIndex))
	case "replace":
		v, err := op.ValueInterface()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		old, err := c.valueAt(path)
		if err != nil {
			return err
		}
		return c.emit(NewReplace(path, v, old))
	case "move":
		from, err := operationPointer(op.From)
		if err != nil {
			return err
		}
		return c.move(from, path)
	case "copy":
		from, err := operationPointer(op.From)
		if err != nil {
			return err
		}
		v, err := c.valueAt(from)
		if err != nil {
			return err
		}
		return c.add(path, core.CloneNode(v))
	case "test":
		v, err := op.ValueInterface()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		cur, err := c.valueAt(path)
		if err != nil {
			return err
		}
		if !core.EqualNode(cur, v) {
			return fmt.Errorf("%w: %s", ErrTestFailed, path)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, op.Kind())
}

func (c *converter) add(path Path, v any) error {
	container, _, err := locate(c.root, path)
	if err != nil {
		return err
	}
	key := path[len(path)-1]
	switch t := container.(type) {
	case []any:
		if key == "-" {
			path = path[:len(path)-1].Append(strconv.Itoa(len(t)))
		}
		return c.emit(NewAdd(path, v, End))
	case map[string]any:
		if old, ok := t[key]; ok {
			return c.emit(NewReplace(path, v, old))
		}
	}
	return c.emit(NewAdd(path, v, End))
}

func (c *converter) move(from, to Path) error {
	if len(from) == len(to) && from[:len(from)-1].equal(to[:len(to)-1]) {
		container, _, err := locate(c.root, from)
		if err != nil {
			return err
		}
		if _, ok := container.([]any); ok {
			src, err := parseIndex(from[len(from)-1])
			if err != nil {
				return err
			}
			dst, err := parseIndex(to[len(to)-1])
			if err != nil {
				return err
			}
			return c.emit(NewMove(from[:len(from)-1], src, dst))
		}
	}
	v, err := c.valueAt(from)
	if err != nil {
		return err
	}
	if err := c.emit(NewRemove(from, v, NoIndex)); err != nil {
		return err
	}
	return c.add(to, v)
}

// valueAt returns the value the tree holds at path.
func (c *converter) valueAt(path Path) (any, error) {
	container, _, err := locate(c.root, path)
	if err != nil {
		return nil, err
	}
	key := path[len(path)-1]
	switch t := container.(type) {
	case []any:
		idx, err := parseIndex(key)
		if err != nil {
			return nil, err
		}
		if idx >= len(t) {
			return nil, fmt.Errorf("%w: %s", ErrIndexOutOfBounds, path)
		}
		return t[idx], nil
	case map[string]any:
		v, ok := t[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPathNotContainer, path)
}

func operationPointer(read func() (string, error)) (Path, error) {
	ptr, err := read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if ptr == "" || ptr[0] != '/' {
		return nil, fmt.Errorf("%w: pointer %q does not address a document member", ErrInvalidPatch, ptr)
	}
	keys := strings.Split(ptr[1:], "/")
	path := make(Path, len(keys))
	for i, key := range keys {
		path[i] = pointerUnescaper.Replace(key)
	}
	return path, nil
}
