package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/eventloop"
	"screen-quiz-llm/src/hotkey"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/notification"
	"screen-quiz-llm/src/runtimeinit"
	"screen-quiz-llm/src/singleinstance"
	"screen-quiz-llm/src/tray"
)

type mainOptions struct {
	runOnce    bool
	apiKeyPath string
	browserURL string
	answerAddr string
}

func main() {
	enableDPIAwareness()
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		notification.ShowBlockingError("Screen Quiz LLM", err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	args = normalizeLegacyArgs(args)
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	if len(args) > 1 {
		cmd.SetArgs(args[1:])
	} else {
		cmd.SetArgs([]string{})
	}
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-quiz-llm",
		Short:         "Capture the quiz question under the pointer and push AI answers to your phone",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.runOnce {
				return runOnce(ctx, *opts)
			}
			return runResident(ctx, *opts)
		},
	}
	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Capture once (through the resident if one is running) and exit")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.browserURL, "browser-url", "", "Chrome DevTools URL, or 'launch' to start a private Chrome")
	cmd.Flags().StringVar(&opts.answerAddr, "answer-addr", "", "Listen address of the answer page")
	return cmd
}

// normalizeLegacyArgs maps single-dash long flags to their GNU form.
func normalizeLegacyArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 1; i < len(out); i++ {
		for _, name := range []string{"run-once", "api-key-path", "browser-url", "answer-addr"} {
			single := "-" + name
			switch {
			case out[i] == single:
				out[i] = "-" + single
			case strings.HasPrefix(out[i], single+"="):
				out[i] = "-" + out[i]
			}
		}
	}
	return out
}

func loadOptions(opts mainOptions) config.LoadOptions {
	return config.LoadOptions{
		APIKeyPathOverride: opts.apiKeyPath,
		BrowserURLOverride: opts.browserURL,
		AnswerAddrOverride: opts.answerAddr,
	}
}

// runOnce hands the capture to a resident when there is one, otherwise
// captures in this process.
func runOnce(ctx context.Context, opts mainOptions) error {
	return handleRunOnceWithDelegation(ctx, singleinstance.NewClient(), func() error {
		return captureStandalone(ctx, opts)
	})
}

func handleRunOnceWithDelegation(ctx context.Context, client singleinstance.Client, fallback func() error) error {
	delegated, stage, err := client.Send(ctx, capture.Command)
	switch {
	case delegated && err == nil:
		log.Printf("run-once: resident captured %s region", stage)
		return nil
	case delegated:
		log.Printf("run-once: resident failed (%v), capturing locally", err)
	default:
		log.Printf("run-once: no resident, capturing locally")
	}
	return fallback()
}

func captureStandalone(ctx context.Context, opts mainOptions) error {
	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions:  loadOptions(opts),
		SetupLogging: logutil.Setup,
		Clipboard:    true,
	})
	if err != nil {
		return err
	}
	session, release := runtimeinit.CaptureSession(rt.Config, nil)
	defer release()

	res, err := session.Run(ctx)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	log.Printf("run-once: copied %s region (%d bytes) to clipboard", res.Stage, res.Bytes)
	return nil
}

func runResident(ctx context.Context, opts mainOptions) error {
	if port, ok := singleinstance.DetectResidentPort(ctx); ok {
		return fmt.Errorf("another instance is already running (port %d); use --run-once to trigger a capture", port)
	}
	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions:  loadOptions(opts),
		SetupLogging: logutil.Setup,
		Clipboard:    true,
	})
	if err != nil {
		return err
	}
	cfg := rt.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("Screen Quiz LLM starting: hotkey=%s browser=%q deadline=%v", cfg.Hotkey, cfg.BrowserURL, cfg.CaptureDeadline)

	tracker := &hotkey.PointerTracker{}
	session, release := runtimeinit.CaptureSession(cfg, tracker.Position)
	defer release()

	tooltip := fmt.Sprintf("Screen Quiz - Press %s to capture", cfg.Hotkey)
	var loop *eventloop.Loop
	trayIcon := tray.New(tray.Config{
		Title:     "Screen Quiz",
		Tooltip:   tooltip,
		OnCapture: func() { loop.Trigger(capture.Command) },
		OnExit:    cancel,
	})
	loop = eventloop.New(session, eventloop.Options{OnBusy: trayIcon.SetProcessing})
	go trayIcon.Run()
	defer trayIcon.Quit()

	binding, err := hotkey.NewBinding(capture.Command, cfg.Hotkey)
	if err != nil {
		return err
	}
	if err := hotkey.Listen(ctx, []hotkey.Binding{binding}, tracker, loop.Trigger); err != nil {
		return err
	}

	if cfg.EnableAnswerServer {
		if err := startAnswerServer(ctx, rt); err != nil {
			return err
		}
	}

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startAnswerServer serves the answer page and answers every clipboard image.
func startAnswerServer(ctx context.Context, rt *runtimeinit.Runtime) error {
	if err := runtimeinit.CheckLLM(ctx, rt); err != nil {
		return err
	}
	images, err := clipboard.WatchImages(ctx)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", rt.Config.AnswerAddr)
	if err != nil {
		return fmt.Errorf("answer server: %w", err)
	}
	go func() {
		err := runtimeinit.ServeAnswers(ctx, ln, runtimeinit.AnswerOptions{
			Answerer: rt.LLM,
			Images:   images,
			Deadline: rt.Config.AnswerDeadline,
		})
		if err != nil {
			log.Printf("answer server stopped: %v", err)
		}
	}()
	return nil
}
