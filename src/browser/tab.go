package browser

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"screen-quiz-llm/src/region"
)

const pointerTracker = `(() => {
	if (window.__quizPointerInstalled) return;
	window.__quizPointerInstalled = true;
	window.__quizPointer = window.__quizPointer || {x: -1, y: -1};
	document.addEventListener('mousemove', (e) => {
		window.__quizPointer = {x: e.clientX, y: e.clientY};
	}, {passive: true, capture: true});
})()`

const queryScript = `(sel) => {
	let nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return []; }
	return Array.from(nodes).map((e) => {
		const r = e.getBoundingClientRect();
		return {
			x: r.left, y: r.top, w: r.width, h: r.height,
			text: e.textContent || '',
			tag: e.tagName.toLowerCase(),
			cls: typeof e.className === 'string' ? e.className : (e.getAttribute('class') || ''),
			id: e.id || '',
		};
	});
}`

// Tab is one browser page seen as a capture source.
type Tab struct {
	page *rod.Page
}

// NewTab wraps page and installs the pointer tracker on it, both for the
// current document and for future navigations.
func NewTab(ctx context.Context, page *rod.Page) (*Tab, error) {
	if _, err := page.EvalOnNewDocument(pointerTracker); err != nil {
		return nil, fmt.Errorf("browser: install pointer tracker: %w", err)
	}
	if _, err := page.Context(ctx).Eval(`() => ` + pointerTracker); err != nil {
		return nil, fmt.Errorf("browser: start pointer tracker: %w", err)
	}
	return &Tab{page: page}, nil
}

// Page exposes the underlying rod page.
func (t *Tab) Page() *rod.Page { return t.page }

// SetHTML replaces the tab's document.
func (t *Tab) SetHTML(ctx context.Context, html string) error {
	if err := t.page.Context(ctx).SetDocumentContent(html); err != nil {
		return fmt.Errorf("browser: set content: %w", err)
	}
	_, err := t.page.Context(ctx).Eval(`() => ` + pointerTracker)
	return err
}

type pointerState struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pointer returns the last mouse position seen in the page. Before the first
// mousemove it aims at the middle of the viewport.
func (t *Tab) Pointer(ctx context.Context) (region.Point, error) {
	res, err := t.page.Context(ctx).Eval(`() => window.__quizPointer || {x: -1, y: -1}`)
	if err != nil {
		return region.Point{}, fmt.Errorf("browser: read pointer: %w", err)
	}
	var p pointerState
	if err := res.Value.Unmarshal(&p); err != nil {
		return region.Point{}, fmt.Errorf("browser: decode pointer: %w", err)
	}
	if p.X >= 0 && p.Y >= 0 {
		return region.Point{X: p.X, Y: p.Y}, nil
	}
	vp, err := t.Viewport(ctx)
	if err != nil {
		return region.Point{}, err
	}
	return region.Point{X: float64(vp.Width) / 2, Y: float64(vp.Height) / 2}, nil
}

type viewportState struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

func (t *Tab) Viewport(ctx context.Context) (region.Viewport, error) {
	res, err := t.page.Context(ctx).Eval(`() => ({
		width: window.innerWidth,
		height: window.innerHeight,
		scale: window.devicePixelRatio || 1,
	})`)
	if err != nil {
		return region.Viewport{}, fmt.Errorf("browser: read viewport: %w", err)
	}
	var v viewportState
	if err := res.Value.Unmarshal(&v); err != nil {
		return region.Viewport{}, fmt.Errorf("browser: decode viewport: %w", err)
	}
	if v.Scale <= 0 {
		v.Scale = 1
	}
	return region.Viewport{Width: v.Width, Height: v.Height, Scale: v.Scale}, nil
}

// Document returns a snapshot view of the page. Each selector is evaluated at
// most once per snapshot.
func (t *Tab) Document(ctx context.Context) (region.Document, error) {
	return &document{ctx: ctx, page: t.page, cache: make(map[string][]region.Element)}, nil
}

type hidden struct {
	el      *rod.Element
	display string
}

// Hide sets display:none on every element matching selectors and returns a
// function that puts back the original inline display values.
func (t *Tab) Hide(ctx context.Context, selectors []string) (func(context.Context) error, error) {
	var list []hidden
	page := t.page.Context(ctx)
	var firstErr error
	for _, sel := range selectors {
		els, err := page.Elements(sel)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("browser: hide %q: %w", sel, err)
			}
			continue
		}
		for _, el := range els {
			res, err := el.Eval(`function () {
				const prev = this.style.display;
				this.style.display = 'none';
				return prev;
			}`)
			if err != nil {
				log.Printf("browser: hide element %q: %v", sel, err)
				continue
			}
			list = append(list, hidden{el: el, display: res.Value.Str()})
		}
	}

	restore := func(ctx context.Context) error {
		var restoreErr error
		for i := len(list) - 1; i >= 0; i-- {
			h := list[i]
			if _, err := h.el.Context(ctx).Eval(`function (d) { this.style.display = d; }`, h.display); err != nil && restoreErr == nil {
				restoreErr = fmt.Errorf("browser: restore element: %w", err)
			}
		}
		return restoreErr
	}
	return restore, firstErr
}

// Capture returns a PNG of the visible viewport.
func (t *Tab) Capture(ctx context.Context) ([]byte, error) {
	data, err := t.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

type document struct {
	ctx  context.Context
	page *rod.Page

	mu    sync.Mutex
	cache map[string][]region.Element
}

type elementState struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
	Text string  `json:"text"`
	Tag  string  `json:"tag"`
	Cls  string  `json:"cls"`
	ID   string  `json:"id"`
}

func (d *document) Query(selector string) []region.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if els, ok := d.cache[selector]; ok {
		return els
	}

	var els []region.Element
	res, err := d.page.Context(d.ctx).Eval(queryScript, selector)
	if err != nil {
		log.Printf("browser: query %q: %v", selector, err)
	} else {
		var states []elementState
		if err := res.Value.Unmarshal(&states); err != nil {
			log.Printf("browser: decode %q: %v", selector, err)
		}
		for _, s := range states {
			els = append(els, &element{
				rect: region.Rect{X: s.X, Y: s.Y, Width: s.W, Height: s.H},
				text: s.Text,
				tag:  s.Tag,
				cls:  s.Cls,
				id:   s.ID,
			})
		}
	}
	d.cache[selector] = els
	return els
}

type element struct {
	rect region.Rect
	text string
	tag  string
	cls  string
	id   string
}

func (e *element) Rect() region.Rect { return e.rect }
func (e *element) Text() string      { return e.text }
func (e *element) Tag() string       { return e.tag }
func (e *element) Class() string     { return e.cls }
func (e *element) ID() string        { return e.id }
