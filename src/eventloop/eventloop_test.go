package eventloop

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/singleinstance"
)

type fakeServer struct {
	conns chan singleinstance.Conn
}

func newFakeServer() *fakeServer { return &fakeServer{conns: make(chan singleinstance.Conn, 4)} }

func (s *fakeServer) Start(ctx context.Context) error { return nil }
func (s *fakeServer) Port() int                       { return 0 }
func (s *fakeServer) Close() error                    { return nil }
func (s *fakeServer) Next(ctx context.Context) (singleinstance.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-s.conns:
		if !ok {
			return nil, net.ErrClosed
		}
		return c, nil
	}
}

type fakeConn struct {
	cmd     string
	replies chan string
}

func newFakeConn(cmd string) *fakeConn {
	return &fakeConn{cmd: cmd, replies: make(chan string, 1)}
}

func (c *fakeConn) Request() singleinstance.Request { return singleinstance.Request{Command: c.cmd} }
func (c *fakeConn) RespondSuccess(text string) error {
	c.replies <- "SUCCESS " + text
	return nil
}
func (c *fakeConn) RespondError(msg string) error {
	c.replies <- "ERROR " + msg
	return nil
}
func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) reply(t *testing.T) string {
	t.Helper()
	select {
	case r := <-c.replies:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return ""
	}
}

type fakeCapturer struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	res     capture.Result
	err     error
}

func (f *fakeCapturer) Run(ctx context.Context) (capture.Result, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.res, f.err
}

func (f *fakeCapturer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func startLoop(t *testing.T, c Capturer, srv singleinstance.Server, onBusy func(bool)) *Loop {
	t.Helper()
	l := New(c, Options{Server: srv, OnBusy: onBusy})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestDelegatedCapture(t *testing.T) {
	srv := newFakeServer()
	c := &fakeCapturer{res: capture.Result{Stage: capture.StageOptimized, Bytes: 10}}
	startLoop(t, c, srv, nil)

	conn := newFakeConn(capture.Command)
	srv.conns <- conn
	assert.Equal(t, "SUCCESS optimized", conn.reply(t))
}

func TestDelegatedBusy(t *testing.T) {
	srv := newFakeServer()
	c := &fakeCapturer{release: make(chan struct{})}
	var mu sync.Mutex
	var states []bool
	startLoop(t, c, srv, func(b bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, b)
	})

	first := newFakeConn(capture.Command)
	srv.conns <- first
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	second := newFakeConn(capture.Command)
	srv.conns <- second
	assert.Equal(t, "ERROR Busy, please retry", second.reply(t))

	close(c.release)
	assert.Equal(t, "SUCCESS optimized", first.reply(t))
	assert.Equal(t, 1, c.count())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, states)
}

func TestDelegatedError(t *testing.T) {
	srv := newFakeServer()
	c := &fakeCapturer{err: errors.New("full-viewport capture: no display")}
	startLoop(t, c, srv, nil)

	conn := newFakeConn(capture.Command)
	srv.conns <- conn
	assert.Equal(t, "ERROR full-viewport capture: no display", conn.reply(t))
}

func TestUnknownCommand(t *testing.T) {
	srv := newFakeServer()
	c := &fakeCapturer{}
	startLoop(t, c, srv, nil)

	conn := newFakeConn("open-sesame")
	srv.conns <- conn
	assert.Contains(t, conn.reply(t), "ERROR unknown command")
	assert.Equal(t, 0, c.count())
}

func TestTriggerRunsCapture(t *testing.T) {
	c := &fakeCapturer{}
	l := startLoop(t, c, newFakeServer(), nil)

	l.Trigger(capture.Command)
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}
