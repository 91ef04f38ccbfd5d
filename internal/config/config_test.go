package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/movi/internal/page"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.AgentMode != "http" || cfg.AgentBaseURL != "http://localhost:5000" || cfg.AgentPath != "/api/movi" {
		t.Fatalf("agent = %q %q %q, want http localhost:5000 /api/movi", cfg.AgentMode, cfg.AgentBaseURL, cfg.AgentPath)
	}
	if cfg.AgentSubmitTimeout != 30*time.Second {
		t.Fatalf("AgentSubmitTimeout = %v, want 30s", cfg.AgentSubmitTimeout)
	}
	if cfg.PlaybackDelay != 100*time.Millisecond || cfg.FallbackDelay != 600*time.Millisecond {
		t.Fatalf("delays = %v/%v, want 100ms/600ms", cfg.PlaybackDelay, cfg.FallbackDelay)
	}
	if cfg.PlaybackMode != "notify" || cfg.CaptureMode != "push" {
		t.Fatalf("modes = %q/%q, want notify/push", cfg.PlaybackMode, cfg.CaptureMode)
	}
	if cfg.DefaultPage != page.ManageRoute {
		t.Fatalf("DefaultPage = %q, want manageRoute", cfg.DefaultPage)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AGENT_MODE", "MOCK")
	t.Setenv("AGENT_SUBMIT_TIMEOUT", "5s")
	t.Setenv("PLAYBACK_MODE", "none")
	t.Setenv("DEFAULT_PAGE", "busDashboard")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("APP_WS_READ_LIMIT", "4096")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentMode != "mock" || cfg.AgentSubmitTimeout != 5*time.Second {
		t.Fatalf("agent = %q %v", cfg.AgentMode, cfg.AgentSubmitTimeout)
	}
	if cfg.PlaybackMode != "none" || cfg.DefaultPage != page.BusDashboard || !cfg.AllowAnyOrigin || cfg.WSReadLimit != 4096 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"AGENT_SUBMIT_TIMEOUT":           "0s",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"AGENT_MODE":                     "smoke-signals",
		"AGENT_BASE_URL":                 "localhost:5000",
		"PLAYBACK_MODE":                  "vinyl",
		"CAPTURE_MODE":                   "command",
		"DEFAULT_PAGE":                   "settings",
		"PLAYBACK_DELAY":                 "soon",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
		"APP_WS_READ_LIMIT":              "12",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", key, value)
			}
		})
	}
}

func TestLoadCommandCapture(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("CAPTURE_MODE", "command")
	t.Setenv("CAPTURE_COMMAND", "ffmpeg -f alsa -i default -f webm pipe:1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CaptureCommand == "" {
		t.Fatalf("CaptureCommand should be kept")
	}
}

func TestLoadConfigFileFillsUnsetVariables(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "movi.yaml")
	doc := "agent_mode: mock\nFALLBACK_DELAY: 250ms\nDEFAULT_PAGE: busDashboard\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("DEFAULT_PAGE", "manageRoute")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentMode != "mock" || cfg.FallbackDelay != 250*time.Millisecond {
		t.Fatalf("file values not applied: mode=%q fallback=%v", cfg.AgentMode, cfg.FallbackDelay)
	}
	if cfg.DefaultPage != page.ManageRoute {
		t.Fatalf("DefaultPage = %q, want environment value manageRoute", cfg.DefaultPage)
	}
}

func TestLoadConfigFileRejectsNestedValues(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "movi.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  mode: mock\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with nested config file expected error")
	}

	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with missing config file expected error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_WS_READ_LIMIT",
		"AGENT_MODE",
		"AGENT_BASE_URL",
		"AGENT_PATH",
		"AGENT_USER_ID",
		"AGENT_SUBMIT_TIMEOUT",
		"PLAYBACK_DELAY",
		"FALLBACK_DELAY",
		"PLAYBACK_MODE",
		"PLAYBACK_COMMAND",
		"CAPTURE_MODE",
		"CAPTURE_COMMAND",
		"FFMPEG_PATH",
		"DEFAULT_PAGE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
