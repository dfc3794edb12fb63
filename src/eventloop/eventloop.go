package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/singleinstance"
)

// Capturer runs one capture.
type Capturer interface {
	Run(ctx context.Context) (capture.Result, error)
}

type Options struct {
	// Server defaults to singleinstance.NewServer().
	Server singleinstance.Server
	// OnBusy is told when a capture starts and ends, e.g. to update the tray.
	OnBusy func(busy bool)
}

// Loop is the single-threaded coordinator for hotkey, tray and delegated
// commands.
type Loop struct {
	capturer Capturer
	srv      singleinstance.Server
	onBusy   func(bool)

	busy     bool
	commands chan string
	results  chan result
}

type result struct {
	res  capture.Result
	err  error
	conn singleinstance.Conn
}

func New(c Capturer, opts Options) *Loop {
	srv := opts.Server
	if srv == nil {
		srv = singleinstance.NewServer()
	}
	return &Loop{
		capturer: c,
		srv:      srv,
		onBusy:   opts.OnBusy,
		commands: make(chan string, 4),
		results:  make(chan result, 1),
	}
}

// Trigger posts a command from the hotkey or tray. Extra triggers beyond the
// queue are dropped.
func (l *Loop) Trigger(command string) {
	select {
	case l.commands <- command:
	default:
		log.Printf("eventloop: command queue full, dropping %q", command)
	}
}

// Run starts the singleinstance server and processes commands until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.srv.Start(ctx); err != nil {
		return err
	}
	defer l.srv.Close()
	if p := l.srv.Port(); p > 0 {
		log.Printf("Resident listening on 127.0.0.1:%d", p)
	}

	// Accept loop in background to avoid blocking result handling
	reqCh := make(chan singleinstance.Conn, 4)
	go func() {
		defer close(reqCh)
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil {
				return
			}
			select {
			case reqCh <- conn:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-l.commands:
			l.handleCommand(ctx, cmd, nil)
		case conn, ok := <-reqCh:
			if !ok {
				return nil
			}
			l.handleCommand(ctx, conn.Request().Command, conn)
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) handleCommand(ctx context.Context, cmd string, conn singleinstance.Conn) {
	if cmd != capture.Command {
		log.Printf("eventloop: unknown command %q", cmd)
		respond(conn, 0, fmt.Errorf("unknown command %q", cmd))
		return
	}
	if l.busy {
		log.Printf("eventloop: busy, skipping %s", cmd)
		respond(conn, 0, capture.ErrBusy)
		return
	}

	l.setBusy(true)
	go func() {
		res, err := l.capturer.Run(ctx)
		l.results <- result{res: res, err: err, conn: conn}
	}()
}

func (l *Loop) handleResult(r result) {
	l.setBusy(false)
	if r.err != nil {
		log.Printf("eventloop: capture failed: %v", r.err)
	} else {
		log.Printf("eventloop: captured %s region, %d bytes (timed out: %v)", r.res.Stage, r.res.Bytes, r.res.TimedOut)
	}
	respond(r.conn, r.res.Stage, r.err)
}

func (l *Loop) setBusy(b bool) {
	l.busy = b
	if l.onBusy != nil {
		l.onBusy(b)
	}
}

// respond answers a delegated client; hotkey and tray triggers have no conn.
func respond(conn singleinstance.Conn, stage capture.Stage, err error) {
	if conn == nil {
		return
	}
	defer conn.Close()
	switch {
	case errors.Is(err, capture.ErrBusy):
		_ = conn.RespondError("Busy, please retry")
	case err != nil:
		_ = conn.RespondError(err.Error())
	default:
		_ = conn.RespondSuccess(stage.String())
	}
}
