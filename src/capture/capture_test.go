package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screen-quiz-llm/src/region"
)

type element struct{ rect region.Rect }

func (e element) Rect() region.Rect { return e.rect }
func (element) Text() string        { return "" }
func (element) Tag() string         { return "div" }
func (element) Class() string       { return "question" }
func (element) ID() string          { return "" }

type doc map[string][]region.Element

func (d doc) Query(sel string) []region.Element { return d[sel] }

type fakeSource struct {
	vp      region.Viewport
	pointer region.Point
	doc     region.Document
	docErr  error

	// capture returns the screenshot for the n-th call (0-based).
	capture func(ctx context.Context, n int) ([]byte, error)
	calls   atomic.Int32

	mu        sync.Mutex
	hidden    bool
	restored  int
	hideErr   error
	hideDelay time.Duration // ignores ctx, like a page that is slow to answer
}

func (f *fakeSource) Pointer(context.Context) (region.Point, error)     { return f.pointer, nil }
func (f *fakeSource) Viewport(context.Context) (region.Viewport, error) { return f.vp, nil }
func (f *fakeSource) Document(context.Context) (region.Document, error) { return f.doc, f.docErr }

func (f *fakeSource) Hide(ctx context.Context, selectors []string) (func(context.Context) error, error) {
	time.Sleep(f.hideDelay)
	f.mu.Lock()
	f.hidden = true
	f.mu.Unlock()
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hidden = false
		f.restored++
		return nil
	}, f.hideErr
}

func (f *fakeSource) Capture(ctx context.Context) ([]byte, error) {
	n := int(f.calls.Add(1)) - 1
	return f.capture(ctx, n)
}

func (f *fakeSource) isHidden() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hidden
}

func (f *fakeSource) restoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restored
}

type fakeSink struct {
	mu     sync.Mutex
	writes [][]byte
	fail   func(n int) error
	delay  time.Duration
}

func (s *fakeSink) WriteImage(data []byte) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(len(s.writes)); err != nil {
			s.writes = append(s.writes, nil)
			return err
		}
	}
	s.writes = append(s.writes, data)
	return nil
}

func (s *fakeSink) delivered() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, w := range s.writes {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

func screenPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func imageSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cfg.Width, cfg.Height
}

func staticCapture(data []byte) func(context.Context, int) ([]byte, error) {
	return func(context.Context, int) ([]byte, error) { return data, nil }
}

func questionDoc() doc {
	return doc{".question": {element{rect: region.Rect{X: 420, Y: 460, Width: 200, Height: 100}}}}
}

func TestRunOptimizedRegion(t *testing.T) {
	screen := screenPNG(t, 1280, 800)
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 500, Y: 500},
		doc:     questionDoc(),
		capture: staticCapture(screen),
	}
	sink := &fakeSink{}

	res, err := New(src, sink, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stage != StageOptimized {
		t.Fatalf("expected optimized stage, got %s", res.Stage)
	}
	want := region.Rect{X: 400, Y: 440, Width: 240, Height: 140}
	if res.Region != want {
		t.Fatalf("expected region %+v, got %+v", want, res.Region)
	}
	got := sink.delivered()
	if len(got) != 1 {
		t.Fatalf("expected 1 clipboard write, got %d", len(got))
	}
	if w, h := imageSize(t, got[0]); w != 240 || h != 140 {
		t.Fatalf("expected 240x140 image, got %dx%d", w, h)
	}
}

func TestRunWithoutDocumentUsesPointerRegion(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 640, Y: 400},
		docErr:  errors.New("no DOM"),
		capture: staticCapture(screenPNG(t, 1280, 800)),
	}
	sink := &fakeSink{}

	res, err := New(src, sink, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stage != StagePointer {
		t.Fatalf("expected pointer stage, got %s", res.Stage)
	}
	if w, h := imageSize(t, sink.delivered()[0]); w != 400 || h != 400 {
		t.Fatalf("expected 400x400 image, got %dx%d", w, h)
	}
}

func TestRunNoCandidateUsesPointerRegion(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 640, Y: 400},
		doc:     doc{},
		capture: staticCapture(screenPNG(t, 1280, 800)),
	}
	res, err := New(src, &fakeSink{}, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stage != StagePointer {
		t.Fatalf("expected pointer stage, got %s", res.Stage)
	}
}

func TestRunFallsThroughOnFailures(t *testing.T) {
	screen := screenPNG(t, 1280, 800)
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 500, Y: 500},
		doc:     questionDoc(),
		capture: func(_ context.Context, n int) ([]byte, error) {
			if n == 0 {
				return nil, errors.New("capture denied")
			}
			return screen, nil
		},
	}
	// The pointer-stage clipboard write fails too.
	sink := &fakeSink{fail: func(n int) error {
		if n == 0 {
			return errors.New("clipboard denied")
		}
		return nil
	}}

	res, err := New(src, sink, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stage != StageFullViewport {
		t.Fatalf("expected full-viewport stage, got %s", res.Stage)
	}
	if w, h := imageSize(t, sink.delivered()[0]); w != 1280 || h != 800 {
		t.Fatalf("expected full screenshot, got %dx%d", w, h)
	}
}

func TestRunFinalStageFailureEndsAttempt(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 100, Height: 100},
		capture: func(context.Context, int) ([]byte, error) { return nil, errors.New("denied") },
		doc:     doc{},
	}
	sink := &fakeSink{}

	_, err := New(src, sink, Options{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error when every stage fails")
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected pointer and full-viewport attempts, got %d captures", got)
	}
	if len(sink.delivered()) != 0 {
		t.Fatal("expected no clipboard writes")
	}
}

func TestRunDeadlineForcesFullViewportOnce(t *testing.T) {
	screen := screenPNG(t, 640, 480)
	release := make(chan struct{})
	primaryDone := make(chan struct{})
	src := &fakeSource{
		vp:      region.Viewport{Width: 640, Height: 480},
		pointer: region.Point{X: 100, Y: 100},
		docErr:  errors.New("no DOM"),
		capture: func(ctx context.Context, n int) ([]byte, error) {
			if n == 0 {
				// The primary path hangs past the deadline and then returns
				// a result anyway, ignoring cancellation.
				<-release
				defer close(primaryDone)
				return screen, nil
			}
			return screen, nil
		},
	}
	sink := &fakeSink{}
	s := New(src, sink, Options{Deadline: 30 * time.Millisecond})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.Stage != StageFullViewport {
		t.Fatalf("expected timed-out full-viewport result, got %+v", res)
	}
	if s.Busy() {
		t.Fatal("expected busy flag cleared after Run")
	}

	close(release)
	<-primaryDone
	time.Sleep(20 * time.Millisecond)

	got := sink.delivered()
	if len(got) != 1 {
		t.Fatalf("expected exactly one clipboard write, got %d", len(got))
	}
	if w, h := imageSize(t, got[0]); w != 640 || h != 480 {
		t.Fatalf("expected the full-viewport image, got %dx%d", w, h)
	}
}

func TestRunDeadlineCoversSlowHide(t *testing.T) {
	screen := screenPNG(t, 640, 480)
	src := &fakeSource{
		vp:        region.Viewport{Width: 640, Height: 480},
		pointer:   region.Point{X: 100, Y: 100},
		docErr:    errors.New("no DOM"),
		hideDelay: 150 * time.Millisecond,
		capture: func(context.Context, int) ([]byte, error) {
			time.Sleep(20 * time.Millisecond)
			return screen, nil
		},
	}
	sink := &fakeSink{}
	deadline := 100 * time.Millisecond
	s := New(src, sink, Options{Deadline: deadline, HideSelectors: []string{".toast"}})

	started := time.Now()
	res, err := s.Run(context.Background())
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.Stage != StageFullViewport {
		t.Fatalf("expected timed-out full-viewport result, got %+v", res)
	}
	if elapsed >= 2*deadline {
		t.Fatalf("expected Run to end near the deadline, took %v", elapsed)
	}
	if src.isHidden() || src.restoreCount() != 1 {
		t.Fatalf("expected elements restored before Run returned, hidden=%v restored=%d", src.isHidden(), src.restoreCount())
	}
	if s.Busy() {
		t.Fatal("expected busy flag cleared")
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(sink.delivered()); n != 1 {
		t.Fatalf("expected exactly one clipboard write, got %d", n)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected only the deadline capture, got %d captures", n)
	}
}

func TestRunDeadlineCoversSlowResolve(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 100, Height: 100},
		docErr:  errors.New("no DOM"),
		capture: staticCapture(screenPNG(t, 100, 100)),
	}
	var resolves atomic.Int32
	sink := &fakeSink{}
	deadline := 50 * time.Millisecond
	s := NewDynamic(func(ctx context.Context) (Source, error) {
		if resolves.Add(1) == 1 {
			// The first lookup hangs until it is abandoned.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return src, nil
	}, sink, Options{Deadline: deadline})

	started := time.Now()
	res, err := s.Run(context.Background())
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.Stage != StageFullViewport {
		t.Fatalf("expected timed-out full-viewport result, got %+v", res)
	}
	if elapsed >= 2*deadline {
		t.Fatalf("expected Run to end near the deadline, took %v", elapsed)
	}
	if n := resolves.Load(); n != 2 {
		t.Fatalf("expected the deadline path to resolve its own source, got %d lookups", n)
	}
	if n := len(sink.delivered()); n != 1 {
		t.Fatalf("expected exactly one clipboard write, got %d", n)
	}
}

func TestRunDeliveryInFlightAtDeadlineWins(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 500, Y: 500},
		doc:     questionDoc(),
		capture: staticCapture(screenPNG(t, 1280, 800)),
	}
	// The clipboard write is still running when the deadline fires.
	sink := &fakeSink{delay: 80 * time.Millisecond}
	s := New(src, sink, Options{Deadline: 30 * time.Millisecond})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TimedOut || res.Stage != StageOptimized {
		t.Fatalf("expected the primary result, got %+v", res)
	}
	if n := len(sink.delivered()); n != 1 {
		t.Fatalf("expected exactly one clipboard write, got %d", n)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected no deadline capture, got %d captures", n)
	}
}

func TestRunLogsSelectedElement(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 500, Y: 500},
		doc:     questionDoc(),
		capture: staticCapture(screenPNG(t, 1280, 800)),
	}
	if _, err := New(src, &fakeSink{}, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), `capture: selected <div class="question">`) {
		t.Fatalf("expected the selected element in the log, got:\n%s", buf.String())
	}
}

func TestRunTimerStoppedOnCompletion(t *testing.T) {
	src := &fakeSource{
		vp:      region.Viewport{Width: 1280, Height: 800},
		pointer: region.Point{X: 500, Y: 500},
		doc:     questionDoc(),
		capture: staticCapture(screenPNG(t, 1280, 800)),
	}
	sink := &fakeSink{}
	s := New(src, sink, Options{Deadline: 20 * time.Millisecond})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(sink.delivered()); n != 1 {
		t.Fatalf("expected 1 write after deadline passed, got %d", n)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected 1 capture, got %d", n)
	}
}

func TestRunBusyIsNoOp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	screen := screenPNG(t, 100, 100)
	src := &fakeSource{
		vp:     region.Viewport{Width: 100, Height: 100},
		docErr: errors.New("no DOM"),
		capture: func(ctx context.Context, n int) ([]byte, error) {
			if n == 0 {
				close(started)
				<-release
			}
			return screen, nil
		},
	}
	sink := &fakeSink{}
	s := New(src, sink, Options{Deadline: time.Minute})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		errCh <- err
	}()
	<-started

	if _, err := s.Run(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("busy trigger must not capture, got %d captures", n)
	}
}

func TestRunRestoresHiddenElements(t *testing.T) {
	screen := screenPNG(t, 100, 100)
	tests := []struct {
		name    string
		capture func() ([]byte, error)
		wantErr bool
	}{
		{"success", func() ([]byte, error) { return screen, nil }, false},
		{"failure", func() ([]byte, error) { return nil, errors.New("denied") }, true},
		{"panic", func() ([]byte, error) { panic("boom") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				vp:     region.Viewport{Width: 100, Height: 100},
				docErr: errors.New("no DOM"),
			}
			src.capture = func(context.Context, int) ([]byte, error) {
				if !src.isHidden() {
					t.Error("expected elements hidden during capture")
				}
				return tt.capture()
			}
			s := New(src, &fakeSink{}, Options{HideSelectors: []string{".toast"}})

			_, err := s.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run error = %v, wantErr %v", err, tt.wantErr)
			}
			if src.isHidden() || src.restored != 1 {
				t.Fatalf("expected elements restored once, hidden=%v restored=%d", src.isHidden(), src.restored)
			}
			if s.Busy() {
				t.Fatal("expected busy flag cleared")
			}
		})
	}
}

func TestRunContextCancelled(t *testing.T) {
	src := &fakeSource{
		vp:     region.Viewport{Width: 100, Height: 100},
		docErr: errors.New("no DOM"),
		capture: func(ctx context.Context, n int) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(src, &fakeSink{}, Options{Deadline: time.Minute})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStageString(t *testing.T) {
	if StageOptimized.String() != "optimized" || StagePointer.String() != "pointer" ||
		StageFullViewport.String() != "full-viewport" || Stage(9).String() != "stage(9)" {
		t.Fatal("unexpected stage names")
	}
}

func TestRunDynamicSource(t *testing.T) {
	sink := &fakeSink{}
	src := &fakeSource{
		vp:      region.Viewport{Width: 100, Height: 100},
		docErr:  errors.New("no DOM"),
		capture: staticCapture(screenPNG(t, 100, 100)),
	}
	resolved := 0
	s := NewDynamic(func(context.Context) (Source, error) {
		resolved++
		if resolved == 1 {
			return nil, errors.New("no open tabs")
		}
		return src, nil
	}, sink, Options{})

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected resolve error")
	}
	if s.Busy() {
		t.Fatal("expected busy cleared after resolve error")
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.delivered()) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sink.delivered()))
	}
}
