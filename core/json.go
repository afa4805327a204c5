package core

import (
	"encoding/json"
	"fmt"
)

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Node())
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var n any
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	decoded, err := DocumentFromNode(n)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	*d = *decoded
	return nil
}

func (l *RectangleLayer) MarshalJSON() ([]byte, error) { return json.Marshal(l.node()) }
func (l *EllipseLayer) MarshalJSON() ([]byte, error)   { return json.Marshal(l.node()) }
func (l *PathLayer) MarshalJSON() ([]byte, error)      { return json.Marshal(l.node()) }
func (l *TextLayer) MarshalJSON() ([]byte, error)      { return json.Marshal(l.node()) }
func (l *GroupLayer) MarshalJSON() ([]byte, error)     { return json.Marshal(l.node()) }

// UnmarshalLayer decodes any layer variant from its JSON form.
func UnmarshalLayer(b []byte) (Layer, error) {
	var n any
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return LayerFromNode(n)
}
