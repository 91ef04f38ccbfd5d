package app

import (
	"fmt"
	"log"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/chat"
	"github.com/antoniostano/movi/internal/config"
	"github.com/antoniostano/movi/internal/httpapi"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/session"
)

type AudioInfo struct {
	Decoder      string
	CaptureMode  string
	PlaybackMode string
}

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Widgets *session.Manager
	Metrics *observability.Metrics
	Audio   AudioInfo

	// Cleanup should be called on shutdown to close widgets and release host devices.
	Cleanup func() error
}

func Build(cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client, err := agent.NewClient(agent.Config{
		Mode:    cfg.AgentMode,
		BaseURL: cfg.AgentBaseURL,
		Path:    cfg.AgentPath,
		UserID:  cfg.AgentUserID,
		Timeout: cfg.AgentSubmitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("agent client init failed: %w", err)
	}

	audioSetup := resolveTranscoder(cfg)

	factory := &session.Factory{
		Client:     client,
		Transcoder: audioSetup.transcoder,
		Dispatch: chat.DispatcherConfig{
			SubmitTimeout: cfg.AgentSubmitTimeout,
			PlaybackDelay: cfg.PlaybackDelay,
			FallbackDelay: cfg.FallbackDelay,
			AudioBaseURL:  cfg.AgentBaseURL,
		},
		CaptureMode:     cfg.CaptureMode,
		CaptureCommand:  cfg.CaptureCommand,
		PlaybackMode:    cfg.PlaybackMode,
		PlaybackCommand: cfg.PlaybackCommand,
		Metrics:         metrics,
	}

	widgets := session.NewManager(factory.Build, cfg.SessionInactivityTimeout, metrics)
	widgets.SetExpireHook(func(info session.Info) {
		log.Printf("widget %s expired (messages=%d)", info.WidgetID, info.Messages)
	})

	api := httpapi.New(cfg, widgets, metrics)

	cleanup := func() error {
		widgets.CloseAll()
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Widgets: widgets,
		Metrics: metrics,
		Audio: AudioInfo{
			Decoder:      audioSetup.detail,
			CaptureMode:  cfg.CaptureMode,
			PlaybackMode: cfg.PlaybackMode,
		},
		Cleanup: cleanup,
	}, nil
}
