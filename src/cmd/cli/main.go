package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screen-quiz-llm/src/answer"
	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/dom"
	"screen-quiz-llm/src/logutil"
	"screen-quiz-llm/src/region"
	"screen-quiz-llm/src/runtimeinit"
	"screen-quiz-llm/src/viewer"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type cliOptions struct {
	verbose    bool
	apiKeyPath string

	filePath   string
	jsonOutput bool
	copyAnswer bool

	htmlPath string
	pointer  string
	viewport string

	listenAddr string
	serverAddr string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"quiz-tool"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "quiz-tool",
		Short:         "Question region selection and AI answers from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.SetupCLI(opts.verbose)
		},
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.PersistentFlags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")

	cmd.AddCommand(
		newAnswerCmd(opts),
		newSelectCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newViewCmd(opts),
	)
	return cmd
}

func newAnswerCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Answer the quiz question in a PNG screenshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd.Context(), *opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to PNG file (use '-' for stdin)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.copyAnswer, "copy", false, "Also copy the answer to the clipboard")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSelectCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Pick the capture region from an HTML page snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(*opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.htmlPath, "html", "", "Path to HTML snapshot (use '-' for stdin)")
	cmd.Flags().StringVar(&opts.pointer, "pointer", "", "Pointer position x,y (default: snapshot meta, else viewport center)")
	cmd.Flags().StringVar(&opts.viewport, "viewport", "", "Viewport WIDTHxHEIGHT (default: snapshot meta, else 1280x800)")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the answer page and answer every image copied to the clipboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *opts)
		},
	}
	cmd.Flags().StringVar(&opts.listenAddr, "addr", "", "Listen address (default ANSWER_ADDR)")
	return cmd
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print answers pushed by an answer server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.serverAddr, "addr", "127.0.0.1:8080", "Answer server address")
	return cmd
}

func newViewCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show answers pushed by an answer server in a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := answer.WSURL(opts.serverAddr)
			if err != nil {
				return err
			}
			viewer.New("Quiz Answers").Run(cmd.Context(), &answer.Client{URL: url})
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.serverAddr, "addr", "127.0.0.1:8080", "Answer server address")
	return cmd
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"file", "json", "copy", "verbose", "api-key-path", "html", "pointer", "viewport", "addr"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

func loadOptions(opts cliOptions) config.LoadOptions {
	return config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath, AnswerAddrOverride: opts.listenAddr}
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		log.Printf("Reading input from stdin")
		data, err := io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	log.Printf("Reading input from file: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

func validatePNG(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if len(data) < 8 || !bytes.Equal(data[:8], pngMagic) {
		return fmt.Errorf("input is not a valid PNG file (invalid magic number)")
	}
	return nil
}

func runAnswer(ctx context.Context, opts cliOptions, stdin io.Reader, stdout io.Writer) error {
	imageData, err := readInput(opts.filePath, stdin)
	if err != nil {
		return err
	}
	if err := validatePNG(imageData); err != nil {
		return err
	}
	log.Printf("PNG validation passed (%d bytes)", len(imageData))

	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions: loadOptions(opts),
		RequireLLM:  true,
	})
	if err != nil {
		return err
	}

	startTime := time.Now()
	text, err := rt.LLM.Answer(ctx, imageData)
	elapsed := time.Since(startTime)
	if err != nil {
		log.Printf("Answer failed after %v: %v", elapsed, err)
		return fmt.Errorf("answer failed: %w", err)
	}
	log.Printf("Answer completed in %v, %d characters", elapsed, len(text))

	if opts.copyAnswer {
		if err := clipboard.Write(text); err != nil {
			return fmt.Errorf("failed to copy answer: %w", err)
		}
		log.Printf("Answer copied to clipboard")
	}

	return outputAnswer(stdout, text, opts.filePath, elapsed, opts.jsonOutput)
}

type AnswerResult struct {
	Answer    string  `json:"answer"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
	CharCount int     `json:"character_count"`
}

func outputAnswer(w io.Writer, text, sourcePath string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		_, err := fmt.Fprint(w, text)
		return err
	}
	result := AnswerResult{
		Answer:    text,
		Source:    sourcePath,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
		CharCount: len(text),
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// SelectResult is the region chosen for a snapshot.
type SelectResult struct {
	Stage    string          `json:"stage"`
	Region   region.Rect     `json:"region"`
	Pointer  region.Point    `json:"pointer"`
	Viewport region.Viewport `json:"viewport"`
}

func runSelect(opts cliOptions, stdout io.Writer) error {
	data, err := readInput(opts.htmlPath, os.Stdin)
	if err != nil {
		return err
	}
	snap, err := dom.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	cfg, err := config.LoadWithOptions(loadOptions(opts))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	res, err := selectRegion(snap, runtimeinit.Selector(cfg.Scoring), opts.pointer, opts.viewport)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(res)
}

func selectRegion(snap *dom.Snapshot, sel *region.Selector, pointerFlag, viewportFlag string) (SelectResult, error) {
	vp := snap.Viewport
	if viewportFlag != "" {
		v, err := dom.ParseViewport(viewportFlag)
		if err != nil {
			return SelectResult{}, fmt.Errorf("invalid --viewport: %w", err)
		}
		vp = v
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = region.Viewport{Width: 1280, Height: 800, Scale: 1}
	}

	var p region.Point
	switch {
	case pointerFlag != "":
		v, err := dom.ParsePoint(pointerFlag)
		if err != nil {
			return SelectResult{}, fmt.Errorf("invalid --pointer: %w", err)
		}
		p = v
	case snap.HasPointer:
		p = snap.Pointer
	default:
		p = region.Point{X: float64(vp.Width) / 2, Y: float64(vp.Height) / 2}
	}

	res := SelectResult{Pointer: p, Viewport: vp}
	if rect, ok := sel.Region(p, snap, vp); ok {
		res.Stage, res.Region = "optimized", rect
		return res, nil
	}
	log.Printf("No question element found, using pointer region")
	res.Stage, res.Region = "pointer", sel.PointerRegion(p, vp)
	return res, nil
}

func runServe(ctx context.Context, opts cliOptions) error {
	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions: loadOptions(opts),
		RequireLLM:  true,
		PingLLM:     true,
		Clipboard:   true,
	})
	if err != nil {
		return err
	}
	images, err := clipboard.WatchImages(ctx)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", rt.Config.AnswerAddr)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Answer page on http://%s\n", ln.Addr())
	return runtimeinit.ServeAnswers(ctx, ln, runtimeinit.AnswerOptions{
		Answerer: rt.LLM,
		Images:   images,
		Deadline: rt.Config.AnswerDeadline,
	})
}

func runWatch(ctx context.Context, opts cliOptions, stdout io.Writer) error {
	url, err := answer.WSURL(opts.serverAddr)
	if err != nil {
		return err
	}
	client := &answer.Client{
		URL: url,
		OnState: func(s answer.State) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", s, url)
		},
	}
	err = client.Run(ctx, func(m answer.Message) { printMessage(stdout, m) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printMessage(w io.Writer, m answer.Message) {
	switch m.Status {
	case answer.StatusProcessing:
		fmt.Fprintln(w, "--- analyzing question ---")
	default:
		fmt.Fprintln(w, m.Content)
	}
}
