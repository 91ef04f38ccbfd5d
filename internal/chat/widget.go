package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/antoniostano/movi/internal/conversation"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/page"
	"github.com/antoniostano/movi/internal/recording"
	"github.com/antoniostano/movi/internal/reliability"
)

// Widget is one chat widget instance: transcript, draft input, pending image and
// microphone toggle.
type Widget struct {
	store      *conversation.Store
	recorder   *recording.Session
	dispatcher *Dispatcher
	metrics    *observability.Metrics

	mu         sync.Mutex
	draft      string
	attachment *Attachment
}

func NewWidget(store *conversation.Store, recorder *recording.Session, dispatcher *Dispatcher, metrics *observability.Metrics) *Widget {
	return &Widget{
		store:      store,
		recorder:   recorder,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

func (w *Widget) Store() *conversation.Store { return w.store }

func (w *Widget) Transcript() []conversation.Message { return w.store.Snapshot() }

func (w *Widget) RecordingState() recording.State { return w.recorder.State() }

func (w *Widget) SetText(text string) {
	w.mu.Lock()
	w.draft = text
	w.mu.Unlock()
}

func (w *Widget) Draft() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft
}

// AttachImage replaces the pending image with the one referenced by uri.
func (w *Widget) AttachImage(uri string) (Attachment, error) {
	att, err := ParseAttachment(uri)
	if err != nil {
		return Attachment{}, err
	}
	w.mu.Lock()
	w.attachment = &att
	w.mu.Unlock()
	return att, nil
}

func (w *Widget) RemoveImage() {
	w.mu.Lock()
	w.attachment = nil
	w.mu.Unlock()
}

func (w *Widget) PendingImage() (Attachment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attachment == nil {
		return Attachment{}, false
	}
	return *w.attachment, true
}

// takeInput clears the draft and pending image and returns what they held.
func (w *Widget) takeInput() Input {
	w.mu.Lock()
	defer w.mu.Unlock()
	in := Input{Text: w.draft}
	if w.attachment != nil {
		in.Image = w.attachment.Data
	}
	w.draft = ""
	w.attachment = nil
	return in
}

// Send submits the draft text and pending image. An empty draft with no image is a
// no-op that leaves nothing behind.
func (w *Widget) Send(ctx context.Context, pageCtx page.Context) Outcome {
	return w.dispatcher.Submit(ctx, w.takeInput(), pageCtx)
}

func (w *Widget) StartRecording(ctx context.Context) error {
	if err := w.recorder.Start(ctx); err != nil {
		kind := reliability.Classify(err)
		log.Printf("chat: start recording failed (%s): %v", kind, err)
		w.metrics.IncRecordingEvent("start_failed")
		w.metrics.IncFailure(kind)
		return err
	}
	w.metrics.IncRecordingEvent("started")
	return nil
}

// StopRecording ends the capture and submits the audio together with the current
// draft text and pending image.
func (w *Widget) StopRecording(ctx context.Context, pageCtx page.Context) (Outcome, error) {
	blob, err := w.recorder.Stop()
	if err != nil {
		w.metrics.IncRecordingEvent("stop_rejected")
		return Outcome{}, err
	}
	w.metrics.IncRecordingEvent("stopped")
	in := w.takeInput()
	in.Audio = blob
	return w.dispatcher.Submit(ctx, in, pageCtx), nil
}

// ToggleResult is what a microphone toggle did.
type ToggleResult struct {
	State   recording.State `json:"state"`
	Outcome *Outcome        `json:"outcome,omitempty"`
}

// ToggleRecording starts capture when idle and stops and submits when capturing.
// Toggles that lose a race with a concurrent toggle report ErrInvalidState.
func (w *Widget) ToggleRecording(ctx context.Context, pageCtx page.Context) (ToggleResult, error) {
	if !w.recorder.Capturing() {
		err := w.StartRecording(ctx)
		return ToggleResult{State: w.recorder.State()}, err
	}
	out, err := w.StopRecording(ctx, pageCtx)
	if err != nil {
		return ToggleResult{State: w.recorder.State()}, err
	}
	return ToggleResult{State: w.recorder.State(), Outcome: &out}, nil
}

// Close discards any active capture and cancels pending playback.
func (w *Widget) Close() error {
	err := w.recorder.Close()
	if perr := w.dispatcher.Close(); perr != nil {
		err = errors.Join(err, fmt.Errorf("stop playback: %w", perr))
	}
	return err
}
