package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/worker"
)

type fakeAnswerer struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	block chan struct{}
}

func (f *fakeAnswerer) Answer(ctx context.Context, png []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []answer.Message
}

func (f *fakeBroadcaster) Broadcast(m answer.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

func (f *fakeBroadcaster) snapshot() []answer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]answer.Message(nil), f.msgs...)
}

func newMonitor(t *testing.T, a Answerer, b Broadcaster) *Monitor {
	t.Helper()
	pool := worker.New(1)
	t.Cleanup(pool.Close)
	return New(Config{Answerer: a, Broadcaster: b, Pool: pool, Deadline: time.Second})
}

func TestHandleBroadcastsProcessingThenSuccess(t *testing.T) {
	a := &fakeAnswerer{text: "Answer: **C**"}
	b := &fakeBroadcaster{}
	m := newMonitor(t, a, b)

	require.True(t, m.Handle(context.Background(), []byte("png-1")))
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	msgs := b.snapshot()
	assert.Equal(t, answer.StatusProcessing, msgs[0].Status)
	assert.Equal(t, answer.StatusSuccess, msgs[1].Status)
	assert.Equal(t, "Answer: **C**", msgs[1].Content)
	assert.NotEmpty(t, msgs[1].HTML)
}

func TestHandleSkipsRepeatedImage(t *testing.T) {
	a := &fakeAnswerer{text: "ok"}
	b := &fakeBroadcaster{}
	m := newMonitor(t, a, b)

	require.True(t, m.Handle(context.Background(), []byte("same")))
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, m.Handle(context.Background(), []byte("same")))
	assert.False(t, m.Handle(context.Background(), nil))
	assert.True(t, m.Handle(context.Background(), []byte("different")))
}

func TestHandleReportsErrorsAsContent(t *testing.T) {
	a := &fakeAnswerer{err: errors.New("quota exceeded")}
	b := &fakeBroadcaster{}
	m := newMonitor(t, a, b)

	m.Handle(context.Background(), []byte("png"))
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, b.snapshot()[1].Content, "quota exceeded")
}

func TestHandleDropsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	a := &fakeAnswerer{text: "ok", block: release}
	b := &fakeBroadcaster{}
	m := newMonitor(t, a, b)
	defer close(release)

	require.True(t, m.Handle(context.Background(), []byte("one")))
	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, m.Handle(context.Background(), []byte("two")))
	assert.False(t, m.Handle(context.Background(), []byte("three")))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	a := &fakeAnswerer{text: "ok"}
	b := &fakeBroadcaster{}
	m := newMonitor(t, a, b)

	images := make(chan []byte, 1)
	images <- []byte("img")
	close(images)
	require.NoError(t, m.Run(context.Background(), images))
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}
