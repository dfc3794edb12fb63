// Package dom loads static HTML page snapshots for offline region selection.
//
// A snapshot is plain HTML in which every element that should take part in
// selection carries its layout box as data-rect="left,top,width,height"
// (viewport pixels). The viewport and pointer may be recorded in
// <meta name="viewport-size" content="1280x800"> and
// <meta name="pointer" content="500,500">.
package dom

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"screen-quiz-llm/src/region"
)

// Snapshot is a parsed page. It implements region.Document.
type Snapshot struct {
	root     *html.Node
	Viewport region.Viewport
	Pointer  region.Point
	// HasPointer is set when the snapshot recorded a pointer position.
	HasPointer bool

	mu    sync.Mutex
	cache map[string][]region.Element
}

// Parse reads an HTML snapshot.
func Parse(r io.Reader) (*Snapshot, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	s := &Snapshot{root: root, cache: map[string][]region.Element{}}
	s.readMeta()
	return s, nil
}

func (s *Snapshot) readMeta() {
	metas := cascadia.MustCompile("meta[name][content]").MatchAll(s.root)
	for _, m := range metas {
		content := attr(m, "content")
		switch attr(m, "name") {
		case "viewport-size":
			if vp, err := ParseViewport(content); err == nil {
				s.Viewport = vp
			} else {
				log.Printf("dom: ignoring viewport-size %q: %v", content, err)
			}
		case "pointer":
			if p, err := ParsePoint(content); err == nil {
				s.Pointer = p
				s.HasPointer = true
			} else {
				log.Printf("dom: ignoring pointer %q: %v", content, err)
			}
		}
	}
}

// Query returns the elements matching selector. Invalid selectors match nothing.
func (s *Snapshot) Query(selector string) []region.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if els, ok := s.cache[selector]; ok {
		return els
	}

	sel, err := cascadia.Compile(selector)
	if err != nil {
		log.Printf("dom: bad selector %q: %v", selector, err)
		s.cache[selector] = nil
		return nil
	}
	var els []region.Element
	for _, n := range sel.MatchAll(s.root) {
		els = append(els, newElement(n))
	}
	s.cache[selector] = els
	return els
}

type element struct {
	node *html.Node
	rect region.Rect
	text string
}

func newElement(n *html.Node) *element {
	e := &element{node: n, text: textContent(n)}
	if raw := attr(n, "data-rect"); raw != "" {
		if r, err := ParseRect(raw); err == nil {
			e.rect = r
		}
	}
	return e
}

func (e *element) Rect() region.Rect { return e.rect }
func (e *element) Text() string      { return e.text }
func (e *element) Tag() string       { return e.node.Data }
func (e *element) Class() string     { return attr(e.node, "class") }
func (e *element) ID() string        { return attr(e.node, "id") }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// ParseRect parses "left,top,width,height".
func ParseRect(s string) (region.Rect, error) {
	v, err := parseFloats(s, ",", 4)
	if err != nil {
		return region.Rect{}, err
	}
	return region.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// ParsePoint parses "x,y".
func ParsePoint(s string) (region.Point, error) {
	v, err := parseFloats(s, ",", 2)
	if err != nil {
		return region.Point{}, err
	}
	return region.Point{X: v[0], Y: v[1]}, nil
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(s string) (region.Viewport, error) {
	v, err := parseFloats(strings.ToLower(s), "x", 2)
	if err != nil {
		return region.Viewport{}, err
	}
	if v[0] <= 0 || v[1] <= 0 {
		return region.Viewport{}, fmt.Errorf("viewport must be positive, got %q", s)
	}
	return region.Viewport{Width: int(v[0]), Height: int(v[1]), Scale: 1}, nil
}

func parseFloats(s, sep string, n int) ([]float64, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values in %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p, err)
		}
		out[i] = f
	}
	return out, nil
}
