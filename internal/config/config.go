package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/antoniostano/movi/internal/page"
)

// Config contains all runtime settings for the assistant widget service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	WSReadLimit    int

	AgentMode          string
	AgentBaseURL       string
	AgentPath          string
	AgentUserID        string
	AgentSubmitTimeout time.Duration

	PlaybackDelay   time.Duration
	FallbackDelay   time.Duration
	PlaybackMode    string
	PlaybackCommand string

	CaptureMode    string
	CaptureCommand string
	FFmpegPath     string

	DefaultPage page.Context
}

// Load reads environment variables and applies safe defaults. When APP_CONFIG_FILE
// names a YAML file, its entries fill variables the environment leaves unset.
func Load() (Config, error) {
	if err := applyFile(stringsTrimSpace("APP_CONFIG_FILE")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "movi"),
		AllowAnyOrigin:   false,
		WSReadLimit:      1 << 20,
		AgentMode:        strings.ToLower(envOrDefault("AGENT_MODE", "http")),
		AgentBaseURL:     envOrDefault("AGENT_BASE_URL", "http://localhost:5000"),
		AgentPath:        envOrDefault("AGENT_PATH", "/api/movi"),
		// The agent keys conversations by this header; "1" is its built-in demo user.
		AgentUserID:              envOrDefault("AGENT_USER_ID", "1"),
		AgentSubmitTimeout:       30 * time.Second,
		PlaybackDelay:            100 * time.Millisecond,
		FallbackDelay:            600 * time.Millisecond,
		PlaybackMode:             strings.ToLower(envOrDefault("PLAYBACK_MODE", "notify")),
		PlaybackCommand:          envOrDefault("PLAYBACK_COMMAND", "ffplay -nodisp -autoexit -loglevel error"),
		CaptureMode:              strings.ToLower(envOrDefault("CAPTURE_MODE", "push")),
		CaptureCommand:           stringsTrimSpace("CAPTURE_COMMAND"),
		FFmpegPath:               envOrDefault("FFMPEG_PATH", "ffmpeg"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.WSReadLimit, err = intFromEnv("APP_WS_READ_LIMIT", cfg.WSReadLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentSubmitTimeout, err = durationFromEnv("AGENT_SUBMIT_TIMEOUT", cfg.AgentSubmitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackDelay, err = durationFromEnv("PLAYBACK_DELAY", cfg.PlaybackDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.FallbackDelay, err = durationFromEnv("FALLBACK_DELAY", cfg.FallbackDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultPage, err = page.Parse(envOrDefault("DEFAULT_PAGE", string(page.ManageRoute)))
	if err != nil {
		return Config{}, fmt.Errorf("DEFAULT_PAGE: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.WSReadLimit < 1024 {
		return fmt.Errorf("APP_WS_READ_LIMIT must be at least 1024")
	}
	if c.AgentSubmitTimeout <= 0 {
		return fmt.Errorf("AGENT_SUBMIT_TIMEOUT must be positive")
	}
	if c.PlaybackDelay < 0 || c.FallbackDelay < 0 {
		return fmt.Errorf("PLAYBACK_DELAY and FALLBACK_DELAY must not be negative")
	}

	switch c.AgentMode {
	case "http":
		u, err := url.Parse(c.AgentBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("AGENT_BASE_URL must be an absolute http(s) url")
		}
		if !strings.HasPrefix(c.AgentPath, "/") {
			return fmt.Errorf("AGENT_PATH must start with /")
		}
	case "mock":
	default:
		return fmt.Errorf("AGENT_MODE must be http or mock")
	}

	switch c.PlaybackMode {
	case "notify", "command", "none":
	default:
		return fmt.Errorf("PLAYBACK_MODE must be notify, command or none")
	}
	switch c.CaptureMode {
	case "push":
	case "command":
		if c.CaptureCommand == "" {
			return fmt.Errorf("CAPTURE_COMMAND is required when CAPTURE_MODE=command")
		}
	default:
		return fmt.Errorf("CAPTURE_MODE must be push or command")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
