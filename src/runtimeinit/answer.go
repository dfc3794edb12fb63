package runtimeinit

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/monitor"
	"screen-quiz-llm/src/worker"
)

type AnswerOptions struct {
	Answerer monitor.Answerer
	// Images are new clipboard images, usually clipboard.WatchImages.
	Images   <-chan []byte
	Deadline time.Duration
}

// CheckLLM pings the configured model so a bad key fails at startup.
func CheckLLM(ctx context.Context, rt *Runtime) error {
	if rt.LLM == nil {
		return fmt.Errorf("the answer server needs OPENROUTER_API_KEY and MODEL (set ENABLE_ANSWER_SERVER=false to run without it)")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := rt.LLM.Ping(pingCtx); err != nil {
		return fmt.Errorf("startup check failed: %w", err)
	}
	log.Printf("LLM ping succeeded")
	return nil
}

// ServeAnswers serves the answer page on ln and pushes an answer for every
// image until ctx is done.
func ServeAnswers(ctx context.Context, ln net.Listener, opts AnswerOptions) error {
	hub := answer.NewHub()
	pool := worker.New(1)
	defer pool.Close()

	mon := monitor.New(monitor.Config{
		Answerer:    opts.Answerer,
		Broadcaster: hub,
		Pool:        pool,
		Deadline:    opts.Deadline,
	})
	go func() {
		if err := mon.Run(ctx, opts.Images); err != nil && ctx.Err() == nil {
			log.Printf("monitor stopped: %v", err)
		}
	}()
	return answer.NewServer(hub).Serve(ctx, ln)
}
