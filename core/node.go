package core

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// A node is the generic form of a document that patches address by path:
// map[string]any for mappings, []any for sequences and float64, string,
// bool, time.Time or nil for leaves.

var (
	ErrUnsupportedValue = errors.New("unsupported value type")
	ErrInvalidNode      = errors.New("invalid node")
)

// Node returns the document as a freshly allocated node tree.
func (d *Document) Node() map[string]any {
	layers := make(map[string]any, len(d.Layers))
	for id, layer := range d.Layers {
		layers[id] = layer.node()
	}
	return map[string]any{
		"id":           d.ID,
		"name":         d.Name,
		"width":        d.Width,
		"height":       d.Height,
		"layers":       layers,
		"rootLayerIds": stringsNode(d.RootLayerIDs),
		"bgColor":      d.BgColor.node(),
		"settings":     d.Settings.node(),
		"version":      float64(d.Version),
		"createdAt":    d.CreatedAt,
		"updatedAt":    d.UpdatedAt,
	}
}

// DocumentFromNode decodes a node tree produced by Node, JSON decoding or
// patch application back into a Document.
func DocumentFromNode(n any) (*Document, error) {
	r, err := newReader(n, "document")
	if err != nil {
		return nil, err
	}
	d := &Document{
		ID:           r.str("id"),
		Name:         r.str("name"),
		Width:        r.num("width"),
		Height:       r.num("height"),
		RootLayerIDs: r.strs("rootLayerIds"),
		BgColor:      r.color("bgColor"),
		Version:      int(r.num("version")),
		CreatedAt:    r.time("createdAt"),
		UpdatedAt:    r.time("updatedAt"),
	}
	if s := r.child("settings"); s != nil {
		d.Settings = settingsFrom(s)
		r.adopt(s)
	}
	d.Layers = make(map[string]Layer)
	if layers := r.child("layers"); layers != nil {
		for _, id := range layers.keys() {
			raw := layers.m[id]
			layer, err := LayerFromNode(raw)
			if err != nil {
				return nil, fmt.Errorf("layers/%s: %w", id, err)
			}
			d.Layers[id] = layer
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

// LayerNode returns the node form of a layer.
func LayerNode(l Layer) map[string]any {
	return l.node()
}

// LayerFromNode decodes a layer, dispatching on its "type" field.
func LayerFromNode(n any) (Layer, error) {
	r, err := newReader(n, "layer")
	if err != nil {
		return nil, err
	}
	base := baseFrom(r)
	var layer Layer
	switch base.Type {
	case LayerRectangle:
		l := &RectangleLayer{BaseLayer: base, Fill: r.color("fill"), Stroke: r.stroke("stroke"), Effects: r.effects("effects")}
		if raw, ok := r.m["cornerRadius"]; ok && raw != nil {
			l.CornerRadius = cornerRadiusFrom(r, raw)
		}
		layer = l
	case LayerEllipse:
		layer = &EllipseLayer{BaseLayer: base, Fill: r.color("fill"), Stroke: r.stroke("stroke"), Effects: r.effects("effects")}
	case LayerPath:
		layer = &PathLayer{BaseLayer: base, Fill: r.color("fill"), Stroke: r.stroke("stroke"), Points: r.points("points"), Effects: r.effects("effects")}
	case LayerText:
		layer = &TextLayer{
			BaseLayer:     base,
			Value:         r.str("value"),
			FontSize:      r.optNum("fontSize"),
			FontFamily:    r.optStr("fontFamily"),
			FontWeight:    int(r.optNumOr("fontWeight", 0)),
			FontStyle:     r.optStr("fontStyle"),
			TextAlign:     r.optStr("textAlign"),
			LineHeight:    r.optNum("lineHeight"),
			LetterSpacing: r.optNum("letterSpacing"),
			Fill:          r.color("fill"),
			Stroke:        r.stroke("stroke"),
			Effects:       r.effects("effects"),
		}
	case LayerGroup:
		layer = &GroupLayer{BaseLayer: base, Children: r.strs("children")}
	default:
		r.fail("type", fmt.Errorf("unknown layer type %q", base.Type))
	}
	if r.err != nil {
		return nil, r.err
	}
	return layer, nil
}

// NodeOf converts a Go value into node form. Entities are converted through
// their explicit encoders, integers become float64 and node values are
// deep-copied.
func NodeOf(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64:
		return v, nil
	case time.Time:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case *float64:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case LayerType:
		return string(v), nil
	case Units:
		return string(v), nil
	case ExportFormat:
		return string(v), nil
	case ExportBackground:
		return string(v), nil
	case Layer:
		return v.node(), nil
	case *Document:
		return v.Node(), nil
	case RGBA:
		return v.node(), nil
	case *RGBA:
		if v == nil {
			return nil, nil
		}
		return v.node(), nil
	case Stroke:
		return v.node(), nil
	case *Stroke:
		if v == nil {
			return nil, nil
		}
		return v.node(), nil
	case Point:
		return v.node(), nil
	case Effect:
		return v.node(), nil
	case []Effect:
		return effectsNode(v), nil
	case CornerRadius:
		return v.node(), nil
	case *CornerRadius:
		if v == nil {
			return nil, nil
		}
		return v.node(), nil
	case Settings:
		return v.node(), nil
	case ExportSettings:
		return v.node(), nil
	case []string:
		return stringsNode(v), nil
	case []float64:
		return floatsNode(v), nil
	case [][]float64:
		return pointsNode(v), nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := NodeOf(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			n, err := NodeOf(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// CloneNode deep-copies a node tree.
func CloneNode(n any) any {
	switch n := n.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = CloneNode(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = CloneNode(v)
		}
		return out
	default:
		return n
	}
}

// EqualNode reports whether two node trees are structurally equal.
func EqualNode(a, b any) bool {
	switch a := a.(type) {
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(a) != len(bm) {
			return false
		}
		for k, v := range a {
			w, ok := bm[k]
			if !ok || !EqualNode(v, w) {
				return false
			}
		}
		return true
	case []any:
		bs, ok := b.([]any)
		if !ok || len(a) != len(bs) {
			return false
		}
		for i := range a {
			if !EqualNode(a[i], bs[i]) {
				return false
			}
		}
		return true
	case time.Time:
		switch bt := b.(type) {
		case time.Time:
			return a.Equal(bt)
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, bt)
			return err == nil && a.Equal(parsed)
		}
		return false
	default:
		return a == b
	}
}

func (b *BaseLayer) node() map[string]any {
	n := map[string]any{
		"id":      b.ID,
		"type":    string(b.Type),
		"x":       b.X,
		"y":       b.Y,
		"width":   b.Width,
		"height":  b.Height,
		"visible": b.Visible,
		"locked":  b.Locked,
		"name":    b.Name,
	}
	if b.Rotation != nil {
		n["rotation"] = *b.Rotation
	}
	return n
}

func (l *RectangleLayer) node() map[string]any {
	n := l.BaseLayer.node()
	n["fill"] = l.Fill.node()
	if l.CornerRadius != nil {
		n["cornerRadius"] = l.CornerRadius.node()
	}
	paintNode(n, l.Stroke, l.Effects)
	return n
}

func (l *EllipseLayer) node() map[string]any {
	n := l.BaseLayer.node()
	n["fill"] = l.Fill.node()
	paintNode(n, l.Stroke, l.Effects)
	return n
}

func (l *PathLayer) node() map[string]any {
	n := l.BaseLayer.node()
	n["fill"] = l.Fill.node()
	n["points"] = pointsNode(l.Points)
	paintNode(n, l.Stroke, l.Effects)
	return n
}

func (l *TextLayer) node() map[string]any {
	n := l.BaseLayer.node()
	n["value"] = l.Value
	n["fill"] = l.Fill.node()
	putFloat(n, "fontSize", l.FontSize)
	putFloat(n, "lineHeight", l.LineHeight)
	putFloat(n, "letterSpacing", l.LetterSpacing)
	putString(n, "fontFamily", l.FontFamily)
	putString(n, "fontStyle", l.FontStyle)
	putString(n, "textAlign", l.TextAlign)
	if l.FontWeight != 0 {
		n["fontWeight"] = float64(l.FontWeight)
	}
	paintNode(n, l.Stroke, l.Effects)
	return n
}

func (l *GroupLayer) node() map[string]any {
	n := l.BaseLayer.node()
	n["children"] = stringsNode(l.Children)
	return n
}

func paintNode(n map[string]any, stroke *Stroke, effects []Effect) {
	if stroke != nil {
		n["stroke"] = stroke.node()
	}
	if effects != nil {
		n["effects"] = effectsNode(effects)
	}
}

func (c RGBA) node() map[string]any {
	n := map[string]any{"r": c.R, "g": c.G, "b": c.B}
	if c.A != nil {
		n["a"] = *c.A
	}
	return n
}

func (s Stroke) node() map[string]any {
	n := map[string]any{"color": s.Color.node(), "width": s.Width}
	if s.DashArray != nil {
		n["dashArray"] = floatsNode(s.DashArray)
	}
	return n
}

func (p Point) node() map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

func (e Effect) node() map[string]any {
	switch {
	case e.Shadow != nil:
		n := map[string]any{
			"color":  e.Shadow.Color.node(),
			"offset": e.Shadow.Offset.node(),
			"blur":   e.Shadow.Blur,
		}
		putFloat(n, "spread", e.Shadow.Spread)
		return n
	case e.Blur != nil:
		return map[string]any{"radius": e.Blur.Radius, "type": e.Blur.Type}
	default:
		return map[string]any{}
	}
}

func (r CornerRadius) node() any {
	if r.Corners == nil {
		return r.Uniform
	}
	return map[string]any{
		"topLeft":     r.Corners.TopLeft,
		"topRight":    r.Corners.TopRight,
		"bottomLeft":  r.Corners.BottomLeft,
		"bottomRight": r.Corners.BottomRight,
	}
}

func (s Settings) node() map[string]any {
	return map[string]any{
		"units":          string(s.Units),
		"gridVisible":    s.GridVisible,
		"gridSize":       s.GridSize,
		"gridColor":      s.GridColor.node(),
		"snapToGrid":     s.SnapToGrid,
		"exportSettings": s.ExportSettings.node(),
	}
}

func (e ExportSettings) node() map[string]any {
	return map[string]any{
		"defaultFormat":     string(e.DefaultFormat),
		"defaultScale":      e.DefaultScale,
		"defaultBackground": string(e.DefaultBackground),
	}
}

func stringsNode(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func floatsNode(f []float64) []any {
	out := make([]any, len(f))
	for i, v := range f {
		out[i] = v
	}
	return out
}

func pointsNode(points [][]float64) []any {
	out := make([]any, len(points))
	for i, p := range points {
		out[i] = floatsNode(p)
	}
	return out
}

func effectsNode(effects []Effect) []any {
	out := make([]any, len(effects))
	for i, e := range effects {
		out[i] = e.node()
	}
	return out
}

func putFloat(n map[string]any, key string, v *float64) {
	if v != nil {
		n[key] = *v
	}
}

func putString(n map[string]any, key, v string) {
	if v != "" {
		n[key] = v
	}
}

func baseFrom(r *reader) BaseLayer {
	return BaseLayer{
		ID:       r.str("id"),
		Type:     LayerType(r.str("type")),
		X:        r.num("x"),
		Y:        r.num("y"),
		Width:    r.num("width"),
		Height:   r.num("height"),
		Rotation: r.optNum("rotation"),
		Visible:  r.boolean("visible"),
		Locked:   r.boolean("locked"),
		Name:     r.str("name"),
	}
}

func settingsFrom(r *reader) Settings {
	s := Settings{
		Units:       Units(r.str("units")),
		GridVisible: r.boolean("gridVisible"),
		GridSize:    r.num("gridSize"),
		GridColor:   r.color("gridColor"),
		SnapToGrid:  r.boolean("snapToGrid"),
	}
	if e := r.child("exportSettings"); e != nil {
		s.ExportSettings = ExportSettings{
			DefaultFormat:     ExportFormat(e.str("defaultFormat")),
			DefaultScale:      e.num("defaultScale"),
			DefaultBackground: ExportBackground(e.str("defaultBackground")),
		}
		r.adopt(e)
	}
	return s
}

func cornerRadiusFrom(r *reader, raw any) *CornerRadius {
	if f, ok := raw.(float64); ok {
		return &CornerRadius{Uniform: f}
	}
	c := r.child("cornerRadius")
	if c == nil {
		return nil
	}
	cr := &CornerRadius{Corners: &Corners{
		TopLeft:     c.num("topLeft"),
		TopRight:    c.num("topRight"),
		BottomLeft:  c.num("bottomLeft"),
		BottomRight: c.num("bottomRight"),
	}}
	r.adopt(c)
	return cr
}

// reader decodes fields from a mapping node and keeps the first error, so
// decoders can be written as straight-line field lists.
type reader struct {
	m    map[string]any
	path string
	err  *decodeError
}

type decodeError struct {
	path string
	err  error
}

func (e *decodeError) Error() string { return fmt.Sprintf("%s: %v", e.path, e.err) }
func (e *decodeError) Unwrap() error { return e.err }

func newReader(n any, path string) (*reader, error) {
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want mapping", ErrInvalidNode, path, n)
	}
	return &reader{m: m, path: path}, nil
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = &decodeError{path: r.path + "/" + key, err: err}
	}
}

func (r *reader) keys() []string {
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *reader) required(key string) (any, bool) {
	v, ok := r.m[key]
	if !ok {
		r.fail(key, fmt.Errorf("%w: missing required field", ErrInvalidNode))
	}
	return v, ok
}

func (r *reader) num(key string) float64 {
	v, ok := r.required(key)
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want number", ErrInvalidNode, v))
	}
	return f
}

func (r *reader) optNum(key string) *float64 {
	v, ok := r.m[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want number", ErrInvalidNode, v))
		return nil
	}
	return &f
}

func (r *reader) optNumOr(key string, def float64) float64 {
	if f := r.optNum(key); f != nil {
		return *f
	}
	return def
}

func (r *reader) str(key string) string {
	v, ok := r.required(key)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want string", ErrInvalidNode, v))
	}
	return s
}

func (r *reader) optStr(key string) string {
	v, ok := r.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want string", ErrInvalidNode, v))
	}
	return s
}

func (r *reader) boolean(key string) bool {
	v, ok := r.required(key)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want bool", ErrInvalidNode, v))
	}
	return b
}

func (r *reader) time(key string) time.Time {
	v, ok := r.m[key]
	if !ok || v == nil {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			r.fail(key, fmt.Errorf("%w: %v", ErrInvalidNode, err))
		}
		return parsed
	default:
		r.fail(key, fmt.Errorf("%w: got %T, want time", ErrInvalidNode, v))
		return time.Time{}
	}
}

func (r *reader) child(key string) *reader {
	v, ok := r.required(key)
	if !ok {
		return nil
	}
	c, err := newReader(v, r.path+"/"+key)
	if err != nil {
		r.fail(key, err)
		return nil
	}
	return c
}

func (r *reader) optChild(key string) *reader {
	if v, ok := r.m[key]; !ok || v == nil {
		return nil
	}
	return r.child(key)
}

func (r *reader) seq(key string, required bool) ([]any, bool) {
	v, ok := r.m[key]
	if !ok || v == nil {
		if required {
			r.fail(key, fmt.Errorf("%w: missing required field", ErrInvalidNode))
		}
		return nil, false
	}
	s, ok := v.([]any)
	if !ok {
		r.fail(key, fmt.Errorf("%w: got %T, want sequence", ErrInvalidNode, v))
		return nil, false
	}
	return s, true
}

func (r *reader) strs(key string) []string {
	s, ok := r.seq(key, true)
	if !ok {
		return nil
	}
	out := make([]string, len(s))
	for i, v := range s {
		str, ok := v.(string)
		if !ok {
			r.fail(fmt.Sprintf("%s/%d", key, i), fmt.Errorf("%w: got %T, want string", ErrInvalidNode, v))
			return nil
		}
		out[i] = str
	}
	return out
}

func (r *reader) floats(key string, s []any) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		f, ok := v.(float64)
		if !ok {
			r.fail(fmt.Sprintf("%s/%d", key, i), fmt.Errorf("%w: got %T, want number", ErrInvalidNode, v))
			return nil
		}
		out[i] = f
	}
	return out
}

func (r *reader) points(key string) [][]float64 {
	s, ok := r.seq(key, true)
	if !ok {
		return nil
	}
	out := make([][]float64, len(s))
	for i, v := range s {
		p, ok := v.([]any)
		if !ok {
			r.fail(fmt.Sprintf("%s/%d", key, i), fmt.Errorf("%w: got %T, want sequence", ErrInvalidNode, v))
			return nil
		}
		out[i] = r.floats(fmt.Sprintf("%s/%d", key, i), p)
	}
	return out
}

func (r *reader) color(key string) RGBA {
	c := r.child(key)
	if c == nil {
		return RGBA{}
	}
	rgba := RGBA{R: c.num("r"), G: c.num("g"), B: c.num("b"), A: c.optNum("a")}
	r.adopt(c)
	return rgba
}

func (r *reader) stroke(key string) *Stroke {
	c := r.optChild(key)
	if c == nil {
		return nil
	}
	s := &Stroke{Color: c.color("color"), Width: c.num("width")}
	if dash, ok := c.seq("dashArray", false); ok {
		s.DashArray = c.floats("dashArray", dash)
	}
	r.adopt(c)
	return s
}

func (r *reader) effects(key string) []Effect {
	s, ok := r.seq(key, false)
	if !ok {
		return nil
	}
	out := make([]Effect, len(s))
	for i, v := range s {
		c, err := newReader(v, fmt.Sprintf("%s/%s/%d", r.path, key, i))
		if err != nil {
			r.fail(key, err)
			return nil
		}
		if _, shadow := c.m["offset"]; shadow {
			out[i].Shadow = &ShadowEffect{Blur: c.num("blur"), Spread: c.optNum("spread")}
			out[i].Shadow.Color = c.color("color")
			if o := c.child("offset"); o != nil {
				out[i].Shadow.Offset = Point{X: o.num("x"), Y: o.num("y")}
				c.adopt(o)
			}
		} else {
			out[i].Blur = &BlurEffect{Radius: c.num("radius"), Type: c.str("type")}
		}
		r.adopt(c)
	}
	return out
}

// adopt carries a child reader's first error into r.
func (r *reader) adopt(c *reader) {
	if r.err == nil && c.err != nil {
		r.err = c.err
	}
}
