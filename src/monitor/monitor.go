// Package monitor answers every new image that lands on the clipboard and
// pushes the result to the answer pages.
package monitor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"sync"
	"time"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/worker"
)

// Answerer produces a Markdown answer for a PNG screenshot.
type Answerer interface {
	Answer(ctx context.Context, png []byte) (string, error)
}

// Broadcaster delivers messages to connected pages.
type Broadcaster interface {
	Broadcast(msg answer.Message)
}

type Config struct {
	Answerer    Answerer
	Broadcaster Broadcaster
	Pool        *worker.Pool
	// Deadline bounds one answer; zero means 60s.
	Deadline time.Duration
}

type Monitor struct {
	cfg Config

	mu   sync.Mutex
	last [sha256.Size]byte
	seen bool
}

func New(cfg Config) *Monitor {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 60 * time.Second
	}
	return &Monitor{cfg: cfg}
}

// Run consumes images until the channel closes or ctx is done.
func (m *Monitor) Run(ctx context.Context, images <-chan []byte) error {
	log.Printf("monitor: watching clipboard images")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case png, ok := <-images:
			if !ok {
				return nil
			}
			m.Handle(ctx, png)
		}
	}
}

// Handle submits png for answering unless it repeats the previous image or the
// pool is busy. It reports whether the image was accepted.
func (m *Monitor) Handle(ctx context.Context, png []byte) bool {
	if len(png) == 0 {
		return false
	}
	sum := sha256.Sum256(png)

	m.mu.Lock()
	if m.seen && sum == m.last {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.Deadline)
	task := func(ctx context.Context) (string, error) {
		m.cfg.Broadcaster.Broadcast(answer.Processing())
		return m.cfg.Answerer.Answer(ctx, png)
	}
	done := func(text string, err error) {
		defer cancel()
		if err != nil {
			log.Printf("monitor: answer failed: %v", err)
			text = fmt.Sprintf("AI request failed: %v", err)
		}
		m.cfg.Broadcaster.Broadcast(answer.Success(text))
	}

	name := fmt.Sprintf("answer %x (%d bytes)", sum[:4], len(png))
	if !m.cfg.Pool.Submit(jobCtx, name, task, done) {
		cancel()
		log.Printf("monitor: busy, dropping %s", name)
		return false
	}

	m.mu.Lock()
	m.last, m.seen = sum, true
	m.mu.Unlock()
	return true
}
