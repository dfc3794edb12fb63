package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolRunsTask(t *testing.T) {
	p := New(1)
	defer p.Close()

	done := make(chan string, 1)
	ok := p.Submit(context.Background(), "echo", func(ctx context.Context) (string, error) {
		return "answer", nil
	}, func(text string, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- text
	})
	if !ok {
		t.Fatal("Submit rejected on an idle pool")
	}

	select {
	case got := <-done:
		if got != "answer" {
			t.Fatalf("expected 'answer', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestPoolBackPressure(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(ctx context.Context) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return "", nil
	}

	if !p.Submit(context.Background(), "first", block, nil) {
		t.Fatal("first submit rejected")
	}
	<-started
	if !p.Submit(context.Background(), "queued", block, nil) {
		t.Fatal("queued submit rejected")
	}
	if p.Submit(context.Background(), "dropped", block, nil) {
		t.Fatal("expected third submit to be dropped")
	}
	close(release)
}

func TestPoolHonorsDeadline(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	p.Submit(ctx, "slow", func(ctx context.Context) (string, error) {
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	}, func(text string, err error) { errCh <- err })

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deadline not honored")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(1)
	defer p.Close()

	errCh := make(chan error, 1)
	p.Submit(context.Background(), "boom", func(ctx context.Context) (string, error) {
		panic("boom")
	}, func(text string, err error) { errCh <- err })

	if err := <-errCh; err == nil {
		t.Fatal("expected panic to surface as error")
	}
}
