package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/conversation"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/page"
	"github.com/antoniostano/movi/internal/playback"
	"github.com/antoniostano/movi/internal/policy"
	"github.com/antoniostano/movi/internal/reliability"
)

const (
	VoicePlaceholder = "🎤 Voice message"
	ImagePlaceholder = "[Image attached]"
)

// Input is one user submission. At least one field must be non-empty.
type Input struct {
	Text  string
	Image []byte
	Audio []byte
}

func (in Input) empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Image) == 0 && len(in.Audio) == 0
}

// Outcome reports what a Submit appended and why.
type Outcome struct {
	Skipped          bool                  `json:"skipped,omitempty"`
	UserMessage      *conversation.Message `json:"user_message,omitempty"`
	AssistantMessage *conversation.Message `json:"assistant_message,omitempty"`
	Fallback         bool                  `json:"fallback,omitempty"`
	FailureKind      string                `json:"failure_kind,omitempty"`
	AudioURL         string                `json:"audio_url,omitempty"`
}

type DispatcherConfig struct {
	SubmitTimeout time.Duration
	PlaybackDelay time.Duration
	FallbackDelay time.Duration
	// AudioBaseURL resolves relative audio locators in replies.
	AudioBaseURL string
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.PlaybackDelay < 0 {
		c.PlaybackDelay = 0
	}
	if c.FallbackDelay < 0 {
		c.FallbackDelay = 0
	}
	if strings.TrimSpace(c.AudioBaseURL) == "" {
		c.AudioBaseURL = "http://localhost:5000"
	}
	return c
}

// Dispatcher turns user input into transcript entries, an agent round trip and
// playback. Submit may run concurrently; there is no mutual exclusion across calls.
type Dispatcher struct {
	store      *conversation.Store
	transcoder *audio.Transcoder
	client     agent.Client
	arbiter    *playback.Arbiter
	metrics    *observability.Metrics
	cfg        DispatcherConfig

	mu       sync.Mutex
	threadID string
	timers   map[*time.Timer]struct{}
	closed   bool
}

func NewDispatcher(
	store *conversation.Store,
	transcoder *audio.Transcoder,
	client agent.Client,
	arbiter *playback.Arbiter,
	metrics *observability.Metrics,
	cfg DispatcherConfig,
) *Dispatcher {
	if transcoder == nil {
		transcoder = audio.NewTranscoder(nil)
	}
	if arbiter == nil {
		arbiter = playback.NewArbiter(nil)
	}
	return &Dispatcher{
		store:      store,
		transcoder: transcoder,
		client:     client,
		arbiter:    arbiter,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// ThreadID is the agent conversation thread carried between submissions.
func (d *Dispatcher) ThreadID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threadID
}

// Submit runs one interaction to completion. It always returns after appending
// either nothing (empty input) or a user echo followed by exactly one assistant
// entry, unless the agent replied successfully without text.
func (d *Dispatcher) Submit(ctx context.Context, in Input, pageCtx page.Context) Outcome {
	if in.empty() {
		return Outcome{Skipped: true}
	}
	start := time.Now()
	text := strings.TrimSpace(in.Text)

	var (
		wav     []byte
		prepErr error
	)
	if len(in.Audio) > 0 {
		t0 := time.Now()
		wav, prepErr = d.transcoder.Transcode(ctx, in.Audio)
		d.metrics.ObserveStage(observability.StageTranscode, time.Since(t0))
	}

	req := agent.Request{
		Kind:     agent.KindMessage,
		Page:     pageCtx,
		Text:     text,
		Image:    in.Image,
		ThreadID: d.ThreadID(),
	}
	if len(in.Audio) > 0 {
		req.Kind = agent.KindAudio
		req.Audio = wav
	}

	echo := d.store.AppendUser(echoText(in, text))
	out := Outcome{UserMessage: &echo}

	var (
		reply agent.Reply
		err   = prepErr
	)
	if err == nil {
		reply, err = d.submit(ctx, req)
	}
	if err != nil {
		d.fallback(ctx, &out, req.Kind, text, err)
	} else {
		d.deliver(&out, req.Kind, reply)
	}
	d.metrics.ObserveStage(observability.StageSubmitTotal, time.Since(start))
	return out
}

func (d *Dispatcher) submit(ctx context.Context, req agent.Request) (agent.Reply, error) {
	if d.client == nil {
		return agent.Reply{}, fmt.Errorf("%w: no agent client configured", agent.ErrNetwork)
	}
	submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	t0 := time.Now()
	reply, err := d.client.Submit(submitCtx, req)
	d.metrics.ObserveStage(observability.StageSubmit, time.Since(t0))
	if err == nil {
		return reply, nil
	}
	if errors.Is(submitCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return agent.Reply{}, err
}

func (d *Dispatcher) deliver(out *Outcome, kind agent.Kind, reply agent.Reply) {
	d.metrics.IncSubmission(string(kind), "ok")
	if reply.ThreadID != "" {
		d.mu.Lock()
		d.threadID = reply.ThreadID
		d.mu.Unlock()
	}
	if reply.ResponseText != "" {
		msg := d.store.AppendAssistant(reply.ResponseText)
		out.AssistantMessage = &msg
	}
	if reply.AudioLocator == "" {
		return
	}

	url, err := agent.ResolveAudioURL(d.cfg.AudioBaseURL, reply.AudioLocator)
	if err != nil {
		perr := &reliability.PlaybackError{Err: err}
		log.Printf("chat: drop reply audio: %v", perr)
		d.metrics.IncFailure(reliability.Classify(perr))
		return
	}
	out.AudioURL = url
	d.schedulePlayback(url)
}

func (d *Dispatcher) schedulePlayback(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.cfg.PlaybackDelay, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		if err := d.arbiter.PlayFor(context.Background(), d, url); err != nil {
			d.metrics.IncFailure(reliability.KindPlayback)
			return
		}
		d.metrics.IncPlaybackEvent("start")
	})
	d.timers[timer] = struct{}{}
}

func (d *Dispatcher) fallback(ctx context.Context, out *Outcome, kind agent.Kind, text string, err error) {
	failure := reliability.Classify(err)
	log.Printf("chat: %s submission failed (%s, transient=%t): %v text=%q",
		kind, failure, reliability.Transient(err), err, policy.LogText(text, 80))
	d.metrics.IncSubmission(string(kind), "fallback")
	d.metrics.IncFailure(failure)

	if d.cfg.FallbackDelay > 0 {
		timer := time.NewTimer(d.cfg.FallbackDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	msg := d.store.AppendAssistant(agent.FallbackReply(text))
	out.AssistantMessage = &msg
	out.Fallback = true
	out.FailureKind = failure
}

// Close cancels pending playback starts and halts the clip this dispatcher started,
// leaving clips of other widgets on a shared output alone. In-flight submissions
// still complete.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	clear(d.timers)
	d.mu.Unlock()
	return d.arbiter.StopFor(d)
}

func echoText(in Input, text string) string {
	switch {
	case text != "":
		return text
	case len(in.Audio) > 0:
		return VoicePlaceholder
	default:
		return ImagePlaceholder
	}
}
