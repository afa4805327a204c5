package core

type LayerType string

const (
	LayerRectangle LayerType = "rectangle"
	LayerEllipse   LayerType = "ellipse"
	LayerPath      LayerType = "path"
	LayerText      LayerType = "text"
	LayerGroup     LayerType = "group"
)

type (
	// Layer is one of RectangleLayer, EllipseLayer, PathLayer, TextLayer or
	// GroupLayer. The set is closed.
	Layer interface {
		Base() *BaseLayer
		Clone() Layer
		node() map[string]any
	}

	BaseLayer struct {
		ID       string
		Type     LayerType
		X        float64
		Y        float64
		Width    float64
		Height   float64
		Rotation *float64
		Visible  bool
		Locked   bool
		Name     string
	}

	RGBA struct {
		R, G, B float64
		A       *float64
	}

	Stroke struct {
		Color     RGBA
		Width     float64
		DashArray []float64
	}

	Point struct {
		X, Y float64
	}

	ShadowEffect struct {
		Color  RGBA
		Offset Point
		Blur   float64
		Spread *float64
	}

	BlurEffect struct {
		Radius float64
		Type   string // "background" or "layer"
	}

	// Effect holds exactly one of Shadow or Blur.
	Effect struct {
		Shadow *ShadowEffect
		Blur   *BlurEffect
	}

	Corners struct {
		TopLeft, TopRight, BottomLeft, BottomRight float64
	}

	// CornerRadius is either a uniform radius or, when Corners is set, one
	// radius per corner.
	CornerRadius struct {
		Uniform float64
		Corners *Corners
	}

	RectangleLayer struct {
		BaseLayer
		CornerRadius *CornerRadius
		Fill         RGBA
		Stroke       *Stroke
		Effects      []Effect
	}

	EllipseLayer struct {
		BaseLayer
		Fill    RGBA
		Stroke  *Stroke
		Effects []Effect
	}

	PathLayer struct {
		BaseLayer
		Fill    RGBA
		Stroke  *Stroke
		Points  [][]float64
		Effects []Effect
	}

	TextLayer struct {
		BaseLayer
		Value         string
		FontSize      *float64
		FontFamily    string
		FontWeight    int
		FontStyle     string
		TextAlign     string
		LineHeight    *float64
		LetterSpacing *float64
		Fill          RGBA
		Stroke        *Stroke
		Effects       []Effect
	}

	GroupLayer struct {
		BaseLayer
		Children []string
	}
)

func (b *BaseLayer) Base() *BaseLayer { return b }

func NewRGBA(r, g, b, a float64) RGBA {
	return RGBA{R: r, G: g, B: b, A: &a}
}

func (c RGBA) Clone() RGBA {
	c.A = cloneFloat(c.A)
	return c
}

func (s *Stroke) Clone() *Stroke {
	if s == nil {
		return nil
	}
	c := *s
	c.Color = s.Color.Clone()
	if s.DashArray != nil {
		c.DashArray = append([]float64(nil), s.DashArray...)
	}
	return &c
}

func (e Effect) Clone() Effect {
	var c Effect
	if e.Shadow != nil {
		shadow := *e.Shadow
		shadow.Color = e.Shadow.Color.Clone()
		shadow.Spread = cloneFloat(e.Shadow.Spread)
		c.Shadow = &shadow
	}
	if e.Blur != nil {
		blur := *e.Blur
		c.Blur = &blur
	}
	return c
}

func (r *CornerRadius) Clone() *CornerRadius {
	if r == nil {
		return nil
	}
	c := *r
	if r.Corners != nil {
		corners := *r.Corners
		c.Corners = &corners
	}
	return &c
}

func (b BaseLayer) clone() BaseLayer {
	b.Rotation = cloneFloat(b.Rotation)
	return b
}

func (l *RectangleLayer) Clone() Layer {
	c := *l
	c.BaseLayer = l.BaseLayer.clone()
	c.CornerRadius = l.CornerRadius.Clone()
	c.Fill = l.Fill.Clone()
	c.Stroke = l.Stroke.Clone()
	c.Effects = cloneEffects(l.Effects)
	return &c
}

func (l *EllipseLayer) Clone() Layer {
	c := *l
	c.BaseLayer = l.BaseLayer.clone()
	c.Fill = l.Fill.Clone()
	c.Stroke = l.Stroke.Clone()
	c.Effects = cloneEffects(l.Effects)
	return &c
}

func (l *PathLayer) Clone() Layer {
	c := *l
	c.BaseLayer = l.BaseLayer.clone()
	c.Fill = l.Fill.Clone()
	c.Stroke = l.Stroke.Clone()
	if l.Points != nil {
		c.Points = make([][]float64, len(l.Points))
		for i, p := range l.Points {
			c.Points[i] = append([]float64(nil), p...)
		}
	}
	c.Effects = cloneEffects(l.Effects)
	return &c
}

func (l *TextLayer) Clone() Layer {
	c := *l
	c.BaseLayer = l.BaseLayer.clone()
	c.FontSize = cloneFloat(l.FontSize)
	c.LineHeight = cloneFloat(l.LineHeight)
	c.LetterSpacing = cloneFloat(l.LetterSpacing)
	c.Fill = l.Fill.Clone()
	c.Stroke = l.Stroke.Clone()
	c.Effects = cloneEffects(l.Effects)
	return &c
}

func (l *GroupLayer) Clone() Layer {
	c := *l
	c.BaseLayer = l.BaseLayer.clone()
	c.Children = cloneStrings(l.Children)
	return &c
}

func cloneEffects(effects []Effect) []Effect {
	if effects == nil {
		return nil
	}
	out := make([]Effect, len(effects))
	for i, e := range effects {
		out[i] = e.Clone()
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
