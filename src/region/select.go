package region

import "math"

// Options tunes the selector. Zero fields fall back to DefaultOptions.
type Options struct {
	Weights         Weights
	ProximityRadius float64 // pointer-to-center distance that wins outright
	RelatedRadius   float64 // center-to-center distance for options and media
	Padding         float64
	MinMediaSize    float64 // media must exceed this in both dimensions
	PointerSize     float64 // side of the pointer-centered region
}

// DefaultOptions returns the tuned selector values.
func DefaultOptions() Options {
	return Options{
		Weights:         DefaultWeights(),
		ProximityRadius: 200,
		RelatedRadius:   300,
		Padding:         20,
		MinMediaSize:    50,
		PointerSize:     400,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	if o.ProximityRadius <= 0 {
		o.ProximityRadius = d.ProximityRadius
	}
	if o.RelatedRadius <= 0 {
		o.RelatedRadius = d.RelatedRadius
	}
	if o.Padding <= 0 {
		o.Padding = d.Padding
	}
	if o.MinMediaSize <= 0 {
		o.MinMediaSize = d.MinMediaSize
	}
	if o.PointerSize <= 0 {
		o.PointerSize = d.PointerSize
	}
	return o
}

// Selector finds and sizes the question region of a page.
type Selector struct {
	opts Options
}

// NewSelector returns a Selector using opts.
func NewSelector(opts Options) *Selector {
	return &Selector{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (s *Selector) Options() Options { return s.opts }

// Select returns the element believed to contain the question, or nil when no
// selector matches anything. An element near the pointer beats any content score.
func (s *Selector) Select(pointer Point, doc Document) Element {
	if doc == nil {
		return nil
	}

	var firstMatches []Element
	var nearest Element
	minDist := math.Inf(1)
	for _, sel := range QuestionSelectors {
		matches := doc.Query(sel)
		if len(matches) > 0 && firstMatches == nil {
			firstMatches = matches
		}
		for _, el := range matches {
			d := distance(pointer, el.Rect().Center())
			if d < s.opts.ProximityRadius && d < minDist {
				minDist = d
				nearest = el
			}
		}
	}

	if nearest != nil {
		return nearest
	}
	if firstMatches == nil {
		return nil
	}
	return Best(firstMatches, s.opts.Weights)
}

// Expand grows base (the rectangle of el) to take in the answer options and
// figures around it, then clamps the result to the viewport.
func (s *Selector) Expand(doc Document, el Element, base Rect, vp Viewport) Rect {
	out := base.Pad(s.opts.Padding)
	for _, rel := range s.related(doc, el) {
		out = out.Union(rel.Rect().Pad(s.opts.Padding))
	}
	return Clamp(out, vp)
}

func (s *Selector) related(doc Document, el Element) []Element {
	if doc == nil || el == nil {
		return nil
	}
	center := el.Rect().Center()
	var out []Element
	for _, sel := range OptionSelectors {
		for _, opt := range doc.Query(sel) {
			if distance(center, opt.Rect().Center()) < s.opts.RelatedRadius {
				out = append(out, opt)
			}
		}
	}
	for _, sel := range MediaSelectors {
		for _, m := range doc.Query(sel) {
			r := m.Rect()
			if distance(center, r.Center()) < s.opts.RelatedRadius &&
				r.Width > s.opts.MinMediaSize && r.Height > s.opts.MinMediaSize {
				out = append(out, m)
			}
		}
	}
	return out
}

// Region runs Select and Expand. ok is false when no element was found.
func (s *Selector) Region(pointer Point, doc Document, vp Viewport) (Rect, bool) {
	el := s.Select(pointer, doc)
	if el == nil {
		return Rect{}, false
	}
	return s.Expand(doc, el, el.Rect(), vp), true
}

// PointerRegion is a fixed-size square centered on the pointer.
func (s *Selector) PointerRegion(pointer Point, vp Viewport) Rect {
	half := s.opts.PointerSize / 2
	return Clamp(Rect{
		X:      pointer.X - half,
		Y:      pointer.Y - half,
		Width:  s.opts.PointerSize,
		Height: s.opts.PointerSize,
	}, vp)
}

// FullViewport covers the whole visible area.
func FullViewport(vp Viewport) Rect {
	return Rect{Width: float64(vp.Width), Height: float64(vp.Height)}
}

// Clamp keeps r inside the viewport: x,y >= 0, x+width <= viewport width and
// y+height <= viewport height.
func Clamp(r Rect, vp Viewport) Rect {
	w, h := float64(vp.Width), float64(vp.Height)
	x := math.Min(math.Max(0, r.X), w)
	y := math.Min(math.Max(0, r.Y), h)
	right := math.Min(r.Right(), w)
	bottom := math.Min(r.Bottom(), h)
	return Rect{
		X:      x,
		Y:      y,
		Width:  math.Max(0, right-x),
		Height: math.Max(0, bottom-y),
	}
}
