package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIKeyPath = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar  = "OPENROUTER_API_KEY_FILE"
	EnvPathVar        = "SCREEN_QUIZ_LLM"

	DefaultHotkey          = "Ctrl+Alt+Q"
	DefaultAnswerAddr      = "0.0.0.0:8080"
	DefaultCaptureDeadline = 3000 * time.Millisecond
	DefaultAnswerDeadline  = 60 * time.Second
)

// DefaultHideSelectors cover floating widgets that would otherwise end up in
// the screenshot.
var DefaultHideSelectors = []string{
	".floating-widget",
	"#screenshot-helper",
	"[data-quiz-hide]",
}

type LoadOptions struct {
	APIKeyPathOverride string
	BrowserURLOverride string
	AnswerAddrOverride string
}

// Scoring mirrors region.Weights/Options so config stays free of domain imports.
type Scoring struct {
	Keyword         float64
	Options         float64
	Math            float64
	ProximityRadius float64
}

type Config struct {
	APIKey            string
	APIKeyPath        string
	Model             string
	Providers         []string
	EnableFileLogging bool
	Hotkey            string

	BrowserURL      string
	CaptureDeadline time.Duration
	HideSelectors   []string
	Scoring         Scoring

	EnableAnswerServer bool
	AnswerAddr         string
	AnswerDeadline     time.Duration
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) .env in the application (executable) directory
	// 2) If not found, use SCREEN_QUIZ_LLM env var as a path to a config file
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	hide := splitList(os.Getenv("HIDE_SELECTORS"))
	if hide == nil {
		hide = append([]string(nil), DefaultHideSelectors...)
	}

	cfg := &Config{
		APIKey:            resolveAPIKey(apiKeyPath),
		APIKeyPath:        apiKeyPath,
		Model:             os.Getenv("MODEL"),
		Providers:         splitList(os.Getenv("PROVIDERS")),
		EnableFileLogging: envBool("ENABLE_FILE_LOGGING", false),
		Hotkey:            getEnvWithDefault("HOTKEY", DefaultHotkey),

		BrowserURL:      override(opts.BrowserURLOverride, os.Getenv("BROWSER_URL")),
		CaptureDeadline: time.Duration(envInt("CAPTURE_DEADLINE_MS", int(DefaultCaptureDeadline/time.Millisecond))) * time.Millisecond,
		HideSelectors:   hide,
		Scoring: Scoring{
			Keyword:         envFloat("SCORE_KEYWORD", 500),
			Options:         envFloat("SCORE_OPTIONS", 1500),
			Math:            envFloat("SCORE_MATH", 800),
			ProximityRadius: envFloat("PROXIMITY_RADIUS", 200),
		},

		EnableAnswerServer: envBool("ENABLE_ANSWER_SERVER", true),
		AnswerAddr:         override(opts.AnswerAddrOverride, getEnvWithDefault("ANSWER_ADDR", DefaultAnswerAddr)),
		AnswerDeadline:     time.Duration(envInt("ANSWER_DEADLINE_SEC", int(DefaultAnswerDeadline/time.Second))) * time.Second,
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv(EnvPathVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OPENROUTER_API_KEY")
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func override(flag, value string) string {
	if f := strings.TrimSpace(flag); f != "" {
		return f
	}
	return strings.TrimSpace(value)
}

// splitList parses a comma-separated value; nil when nothing usable is set.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}
