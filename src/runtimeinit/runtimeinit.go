// Package runtimeinit loads configuration and brings up the shared services
// used by the resident and the CLI.
package runtimeinit

import (
	"context"
	"fmt"
	"log"
	"time"

	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/llm"
	"screen-quiz-llm/src/logutil"
)

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(enableFileLogging bool)
	// RequireLLM fails when the key or model is missing.
	RequireLLM bool
	// PingLLM checks the key and network before returning.
	PingLLM bool
	// Clipboard initializes the system clipboard.
	Clipboard bool
}

type Runtime struct {
	Config *config.Config
	LLM    *llm.Client
}

func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging)
	}

	rt := &Runtime{Config: cfg}
	if opts.RequireLLM {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required. Checked key file %s and OPENROUTER_API_KEY env var", cfg.APIKeyPath)
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("MODEL is required. Please set it in your .env file")
		}
	}
	if cfg.APIKey != "" && cfg.Model != "" {
		rt.LLM = llm.New(llm.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Providers: cfg.Providers,
		})
		log.Printf("LLM configured: model=%s key=%s", cfg.Model, logutil.RedactKey(cfg.APIKey))
	}

	if opts.PingLLM && rt.LLM != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := rt.LLM.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("startup check failed: %w", err)
		}
		log.Printf("LLM ping succeeded")
	}

	if opts.Clipboard {
		if err := clipboard.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	}

	return rt, nil
}
