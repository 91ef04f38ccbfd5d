package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/movi/internal/page"
)

// Kind selects how the agent interprets a submission.
type Kind string

const (
	KindMessage Kind = "message"
	KindAudio   Kind = "audio"
)

// Request is the unit submitted to the remote agent.
type Request struct {
	Kind     Kind
	Page     page.Context
	Text     string
	Image    []byte
	Audio    []byte
	ThreadID string
}

// Validate enforces that a submission is never empty.
func (r Request) Validate() error {
	switch r.Kind {
	case KindMessage:
		if strings.TrimSpace(r.Text) == "" && len(r.Image) == 0 && len(r.Audio) == 0 {
			return errors.New("message request needs text, image or audio")
		}
	case KindAudio:
		if len(r.Audio) == 0 {
			return errors.New("audio request needs audio")
		}
	default:
		return fmt.Errorf("unsupported request kind %q", r.Kind)
	}
	return nil
}

// Reply is the agent's structured answer. Empty fields mean "absent".
type Reply struct {
	ResponseText      string `json:"response,omitempty"`
	AudioLocator      string `json:"audio_url,omitempty"`
	ThreadID          string `json:"thread_id,omitempty"`
	NeedsConfirmation bool   `json:"needs_confirmation,omitempty"`
}

// Client submits one interaction to the remote agent.
type Client interface {
	Submit(ctx context.Context, req Request) (Reply, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	BaseURL string
	Path    string
	UserID  string
	Timeout time.Duration
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "http"
	}

	switch mode {
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("agent base url is required for http mode")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.Path, cfg.UserID, cfg.Timeout)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}
