// Package capture turns a trigger into a PNG on the clipboard. It walks the
// fallback chain optimized region -> pointer region -> full viewport and races
// it against a deadline that forces a full-viewport capture.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"screen-quiz-llm/src/region"
	"screen-quiz-llm/src/screenshot"
)

// Command is the name of the keyboard command that triggers a capture.
const Command = "take-screenshot"

// DefaultDeadline bounds a capture before the full-viewport fallback fires.
const DefaultDeadline = 3 * time.Second

var (
	// ErrBusy is returned when a capture is already in flight.
	ErrBusy = errors.New("capture already in progress")

	errDiscarded = errors.New("capture result discarded after deadline")
)

// Source is the page (or screen) being captured.
type Source interface {
	Pointer(ctx context.Context) (region.Point, error)
	Viewport(ctx context.Context) (region.Viewport, error)
	// Document may fail when the source has no DOM; selection then starts at
	// the pointer stage.
	Document(ctx context.Context) (region.Document, error)
	// Hide hides the elements matching selectors and returns a function that
	// puts them back.
	Hide(ctx context.Context, selectors []string) (func(context.Context) error, error)
	// Capture returns a PNG of the whole visible viewport.
	Capture(ctx context.Context) ([]byte, error)
}

// SourceFunc resolves the source for one capture, e.g. the browser tab that
// is active when the hotkey fires.
type SourceFunc func(ctx context.Context) (Source, error)

// Sink receives the final image.
type Sink interface {
	WriteImage(png []byte) error
}

// Stage is a step of the fallback chain.
type Stage int

const (
	StageOptimized Stage = iota
	StagePointer
	StageFullViewport
)

func (s Stage) String() string {
	switch s {
	case StageOptimized:
		return "optimized"
	case StagePointer:
		return "pointer"
	case StageFullViewport:
		return "full-viewport"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Result describes what ended up on the sink.
type Result struct {
	Stage    Stage
	Region   region.Rect // zero for full-viewport captures
	Bytes    int
	TimedOut bool
}

type Options struct {
	Selector      *region.Selector
	Deadline      time.Duration
	HideSelectors []string
}

// Session runs captures for one source, one at a time.
type Session struct {
	resolve  SourceFunc
	sink     Sink
	sel      *region.Selector
	deadline time.Duration
	hide     []string
	busy     atomic.Bool
}

// New creates a session for a fixed source. A nil selector uses region
// defaults and a zero deadline uses DefaultDeadline.
func New(src Source, sink Sink, opts Options) *Session {
	return NewDynamic(func(context.Context) (Source, error) { return src, nil }, sink, opts)
}

// NewDynamic creates a session that resolves its source at the start of every
// capture.
func NewDynamic(resolve SourceFunc, sink Sink, opts Options) *Session {
	sel := opts.Selector
	if sel == nil {
		sel = region.NewSelector(region.Options{})
	}
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Session{
		resolve:  resolve,
		sink:     sink,
		sel:      sel,
		deadline: deadline,
		hide:     opts.HideSelectors,
	}
}

// Busy reports whether a capture is in flight.
func (s *Session) Busy() bool { return s.busy.Load() }

// Deadline returns the configured deadline.
func (s *Session) Deadline() time.Duration { return s.deadline }

// Run performs one capture. It returns ErrBusy without side effects when another
// capture is still running. The deadline counts from the call, so a slow source
// lookup or hide step is covered by it too.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer s.busy.Store(false)

	started := time.Now()
	timer := time.NewTimer(s.deadline)
	defer timer.Stop()

	a := &attempt{}
	defer a.end()

	g := &gate{sink: s.sink}
	primaryCtx, cancelPrimary := context.WithCancel(ctx)
	defer cancelPrimary()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("capture panicked: %v", r)}
			}
		}()
		src, err := s.setup(primaryCtx, a)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := s.chain(primaryCtx, src, g)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		log.Printf("capture: finished in %v (stage=%s, err=%v)", time.Since(started), o.res.Stage, o.err)
		return o.res, o.err
	case <-timer.C:
		if !g.takeOver() {
			// The primary path already delivered; let it finish.
			o := <-done
			return o.res, o.err
		}
		cancelPrimary()
		log.Printf("capture: no result after %v, forcing full-viewport capture", s.deadline)
		res, err := s.fullViewport(ctx, a)
		res.TimedOut = true
		a.waitHidden(restoreTimeout)
		return res, err
	case <-ctx.Done():
		g.takeOver()
		a.waitHidden(restoreTimeout)
		return Result{}, ctx.Err()
	}
}

const restoreTimeout = time.Second

type outcome struct {
	res Result
	err error
}

// setup resolves the source and hides the configured elements.
func (s *Session) setup(ctx context.Context, a *attempt) (Source, error) {
	src, err := s.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	if hiding := a.resolved(src, len(s.hide) > 0 && ctx.Err() == nil); hiding != nil {
		defer close(hiding)
		a.setRestore(s.hideElements(ctx, src))
	}
	return src, nil
}

func (s *Session) hideElements(ctx context.Context, src Source) func() {
	restore, err := src.Hide(ctx, s.hide)
	if err != nil {
		log.Printf("capture: hide failed: %v", err)
	}
	if restore == nil {
		return func() {}
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if err := restore(rctx); err != nil {
			log.Printf("capture: restore hidden elements failed: %v", err)
		}
	}
}

// attempt is the state one Run shares between the primary path, the deadline
// path and its own cleanup.
type attempt struct {
	mu      sync.Mutex
	src     Source
	hiding  chan struct{} // closed once Hide has returned
	restore func()
	ended   bool
}

// resolved records src. It returns a channel to close after hiding when hide
// is set and the attempt has not ended yet.
func (a *attempt) resolved(src Source, hide bool) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.src = src
	if !hide || a.ended {
		return nil
	}
	a.hiding = make(chan struct{})
	return a.hiding
}

func (a *attempt) source() Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.src
}

// setRestore registers fn. After end it runs fn right away.
func (a *attempt) setRestore(fn func()) {
	a.mu.Lock()
	if a.ended {
		a.mu.Unlock()
		log.Printf("capture: hide finished after the attempt ended, restoring now")
		fn()
		return
	}
	a.restore = fn
	a.mu.Unlock()
}

// waitHidden blocks until an in-progress hide step returns, at most d.
func (a *attempt) waitHidden(d time.Duration) {
	a.mu.Lock()
	ch := a.hiding
	a.mu.Unlock()
	if ch == nil {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
		log.Printf("capture: hide still running after %v", d)
	}
}

func (a *attempt) end() {
	a.mu.Lock()
	a.ended = true
	fn := a.restore
	a.restore = nil
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// chain walks the stages top-down until one delivers.
func (s *Session) chain(ctx context.Context, src Source, g *gate) (Result, error) {
	vp, vpErr := src.Viewport(ctx)
	if vpErr != nil {
		log.Printf("capture: viewport unavailable: %v", vpErr)
		return s.shoot(ctx, src, g, StageFullViewport, nil, region.Viewport{})
	}
	pointer, ptrErr := src.Pointer(ctx)
	if ptrErr != nil {
		log.Printf("capture: pointer unavailable: %v", ptrErr)
	}

	doc, docErr := src.Document(ctx)
	switch {
	case docErr != nil:
		log.Printf("capture: %s stage unavailable: %v", StageOptimized, docErr)
	default:
		if el := s.sel.Select(pointer, doc); el != nil {
			rect := s.sel.Expand(doc, el, el.Rect(), vp)
			log.Printf("capture: selected <%s class=%q> at %+v, region %+v", el.Tag(), el.Class(), el.Rect(), rect)
			res, err := s.shoot(ctx, src, g, StageOptimized, &rect, vp)
			if err == nil || stop(err) {
				return res, err
			}
			log.Printf("capture: %s stage failed: %v", StageOptimized, err)
		} else {
			log.Printf("capture: no question element found")
		}
	}

	if ptrErr == nil {
		rect := s.sel.PointerRegion(pointer, vp)
		res, err := s.shoot(ctx, src, g, StagePointer, &rect, vp)
		if err == nil || stop(err) {
			return res, err
		}
		log.Printf("capture: %s stage failed: %v", StagePointer, err)
	}

	return s.shoot(ctx, src, g, StageFullViewport, nil, vp)
}

func stop(err error) bool {
	return errors.Is(err, errDiscarded) || errors.Is(err, context.Canceled)
}

func (s *Session) shoot(ctx context.Context, src Source, g *gate, stage Stage, rect *region.Rect, vp region.Viewport) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	data, err := src.Capture(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%s capture: %w", stage, err)
	}
	res := Result{Stage: stage}
	if rect != nil {
		data, err = screenshot.CropPNG(data, *rect, vp.Scale)
		if err != nil {
			return Result{}, fmt.Errorf("%s crop: %w", stage, err)
		}
		res.Region = *rect
	}
	if err := g.write(data); err != nil {
		return Result{}, fmt.Errorf("%s write: %w", stage, err)
	}
	res.Bytes = len(data)
	log.Printf("capture: %s stage delivered %d bytes (region %+v)", stage, len(data), res.Region)
	return res, nil
}

// fullViewport is the deadline path. It writes directly: the gate is already
// closed to the primary path. When the primary path has not resolved the source
// yet, it resolves its own.
func (s *Session) fullViewport(ctx context.Context, a *attempt) (Result, error) {
	src := a.source()
	if src == nil {
		var err error
		if src, err = s.resolve(ctx); err != nil {
			return Result{Stage: StageFullViewport}, fmt.Errorf("resolve source: %w", err)
		}
	}
	data, err := src.Capture(ctx)
	if err != nil {
		return Result{Stage: StageFullViewport}, fmt.Errorf("%s capture: %w", StageFullViewport, err)
	}
	if err := s.sink.WriteImage(data); err != nil {
		return Result{Stage: StageFullViewport}, fmt.Errorf("%s write: %w", StageFullViewport, err)
	}
	return Result{Stage: StageFullViewport, Bytes: len(data)}, nil
}

// gate serializes sink writes between the primary path and the deadline path.
type gate struct {
	mu        sync.Mutex
	sink      Sink
	delivered bool
	closed    bool
}

func (g *gate) write(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errDiscarded
	}
	if err := g.sink.WriteImage(data); err != nil {
		return err
	}
	g.delivered = true
	return nil
}

// takeOver closes the gate to the primary path. It fails when the primary path
// has already delivered.
func (g *gate) takeOver() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.delivered {
		return false
	}
	g.closed = true
	return true
}
