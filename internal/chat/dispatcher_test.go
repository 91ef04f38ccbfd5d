package chat

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/conversation"
	"github.com/antoniostano/movi/internal/page"
	"github.com/antoniostano/movi/internal/playback"
	"github.com/antoniostano/movi/internal/reliability"
)

type stubClient struct {
	mu     sync.Mutex
	calls  []agent.Request
	submit func(ctx context.Context, req agent.Request) (agent.Reply, error)
}

func (c *stubClient) Submit(ctx context.Context, req agent.Request) (agent.Reply, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if c.submit == nil {
		return agent.Reply{}, nil
	}
	return c.submit(ctx, req)
}

func (c *stubClient) requests() []agent.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]agent.Request(nil), c.calls...)
}

func failingClient() *stubClient {
	return &stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{}, fmt.Errorf("%w: connection refused", agent.ErrNetwork)
	}}
}

type recordingPlayer struct {
	mu      sync.Mutex
	started []string
	notify  chan string
}

func newRecordingPlayer() *recordingPlayer {
	return &recordingPlayer{notify: make(chan string, 8)}
}

func (p *recordingPlayer) Start(ctx context.Context, locator string) (playback.Clip, error) {
	p.mu.Lock()
	p.started = append(p.started, locator)
	p.mu.Unlock()
	p.notify <- locator
	return playback.NopPlayer{}.Start(ctx, locator)
}

func newTestDispatcher(client agent.Client, player playback.Player) (*Dispatcher, *conversation.Store) {
	store := conversation.NewStore()
	d := NewDispatcher(store, nil, client, playback.NewArbiter(player), nil, DispatcherConfig{
		SubmitTimeout: time.Second,
	})
	return d, store
}

func silenceWAV(t *testing.T, seconds, rate int) []byte {
	t.Helper()
	samples := [][]float32{make([]float32, seconds*rate)}
	wav, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	return wav
}

func TestSubmitNetworkFailureFallsBackToRouteHelp(t *testing.T) {
	d, store := newTestDispatcher(failingClient(), nil)

	out := d.Submit(context.Background(), Input{Text: "where is my route"}, page.ManageRoute)

	snap := store.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(transcript) = %d, want 2", len(snap))
	}
	if snap[0].Sender != conversation.SenderUser || snap[0].Text != "where is my route" {
		t.Fatalf("transcript[0] = %+v, want user echo", snap[0])
	}
	if snap[1].Sender != conversation.SenderAssistant || !strings.Contains(snap[1].Text, "route management") {
		t.Fatalf("transcript[1] = %+v, want routing help", snap[1])
	}
	if !out.Fallback || out.FailureKind != reliability.KindNetwork {
		t.Fatalf("Outcome = %+v, want network fallback", out)
	}
	if strings.Contains(snap[1].Text, "refused") {
		t.Fatalf("raw error leaked into transcript: %q", snap[1].Text)
	}
}

func TestSubmitSuccessAppendsReplyAndPlaysResolvedAudio(t *testing.T) {
	client := &stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{ResponseText: "Hi", AudioLocator: "/a.wav"}, nil
	}}
	player := newRecordingPlayer()
	d, store := newTestDispatcher(client, player)

	out := d.Submit(context.Background(), Input{Text: "hello"}, page.BusDashboard)

	snap := store.Snapshot()
	if len(snap) != 2 || snap[0].Sender != conversation.SenderUser || snap[1].Text != "Hi" {
		t.Fatalf("transcript = %+v, want user echo then Hi", snap)
	}
	if out.Fallback || out.AudioURL != "http://localhost:5000/a.wav" {
		t.Fatalf("Outcome = %+v", out)
	}
	select {
	case got := <-player.notify:
		if got != "http://localhost:5000/a.wav" {
			t.Fatalf("played %q, want http://localhost:5000/a.wav", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("playback never started")
	}
	reqs := client.requests()
	if len(reqs) != 1 || reqs[0].Kind != agent.KindMessage || reqs[0].Page != page.BusDashboard {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestSubmitEmptyInputIsNoop(t *testing.T) {
	client := &stubClient{}
	d, store := newTestDispatcher(client, nil)

	out := d.Submit(context.Background(), Input{Text: "   "}, page.ManageRoute)
	if !out.Skipped {
		t.Fatalf("Outcome = %+v, want skipped", out)
	}
	if store.Len() != 0 || len(client.requests()) != 0 {
		t.Fatalf("empty input touched transcript or agent")
	}
}

func TestSubmitAudioTranscodesToCanonicalWAV(t *testing.T) {
	client := &stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{ResponseText: "ok"}, nil
	}}
	d, store := newTestDispatcher(client, nil)

	d.Submit(context.Background(), Input{Audio: silenceWAV(t, 1, 48000)}, page.ManageRoute)

	reqs := client.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	wav := reqs[0].Audio
	if reqs[0].Kind != agent.KindAudio {
		t.Fatalf("Kind = %q, want audio", reqs[0].Kind)
	}
	if len(wav) != 44+48000*2 {
		t.Fatalf("len(audio) = %d, want %d", len(wav), 44+48000*2)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Fatalf("NumChannels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 48000 {
		t.Fatalf("SampleRate = %d, want 48000", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Fatalf("BitsPerSample = %d, want 16", bits)
	}
	if got := store.Snapshot()[0].Text; got != VoicePlaceholder {
		t.Fatalf("user echo = %q, want %q", got, VoicePlaceholder)
	}
}

func TestSubmitTranscodeFailureSkipsNetwork(t *testing.T) {
	client := &stubClient{}
	d, store := newTestDispatcher(client, nil)

	out := d.Submit(context.Background(), Input{Text: "my driver", Audio: []byte("not audio at all")}, page.ManageRoute)

	if len(client.requests()) != 0 {
		t.Fatalf("agent called despite transcode failure")
	}
	if out.FailureKind != reliability.KindTranscode {
		t.Fatalf("FailureKind = %q, want transcode", out.FailureKind)
	}
	snap := store.Snapshot()
	if len(snap) != 2 || !strings.Contains(snap[1].Text, "driver assignments") {
		t.Fatalf("transcript = %+v, want echo then driver help", snap)
	}
}

func TestSubmitTimeoutFallsBack(t *testing.T) {
	client := &stubClient{submit: func(ctx context.Context, _ agent.Request) (agent.Reply, error) {
		<-ctx.Done()
		return agent.Reply{}, ctx.Err()
	}}
	store := conversation.NewStore()
	d := NewDispatcher(store, nil, client, nil, nil, DispatcherConfig{SubmitTimeout: 20 * time.Millisecond})

	done := make(chan Outcome, 1)
	go func() { done <- d.Submit(context.Background(), Input{Text: "vehicle status"}, page.BusDashboard) }()

	select {
	case out := <-done:
		if out.FailureKind != reliability.KindTimeout {
			t.Fatalf("FailureKind = %q, want timeout", out.FailureKind)
		}
		if !strings.Contains(out.AssistantMessage.Text, "trip and vehicle") {
			t.Fatalf("assistant = %q, want trip help", out.AssistantMessage.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Submit() did not finish after the submission timeout")
	}
}

func TestSubmitBadReplyFallsBack(t *testing.T) {
	client := &stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{}, fmt.Errorf("%w: unexpected EOF", agent.ErrBadReply)
	}}
	d, store := newTestDispatcher(client, nil)
	out := d.Submit(context.Background(), Input{Text: "hi"}, page.ManageRoute)
	if out.FailureKind != reliability.KindBadReply || store.Len() != 2 {
		t.Fatalf("Outcome = %+v, len = %d", out, store.Len())
	}
}

func TestSubmitCarriesThreadID(t *testing.T) {
	client := &stubClient{submit: func(_ context.Context, req agent.Request) (agent.Reply, error) {
		return agent.Reply{ResponseText: "ok", ThreadID: "thread-1"}, nil
	}}
	d, _ := newTestDispatcher(client, nil)

	d.Submit(context.Background(), Input{Text: "one"}, page.ManageRoute)
	d.Submit(context.Background(), Input{Text: "two"}, page.ManageRoute)

	reqs := client.requests()
	if reqs[0].ThreadID != "" || reqs[1].ThreadID != "thread-1" {
		t.Fatalf("thread IDs = %q, %q, want \"\", thread-1", reqs[0].ThreadID, reqs[1].ThreadID)
	}
}

func TestSubmitReplyWithoutTextAddsNoAssistantEntry(t *testing.T) {
	d, store := newTestDispatcher(&stubClient{}, nil)
	out := d.Submit(context.Background(), Input{Text: "ping"}, page.ManageRoute)
	if out.AssistantMessage != nil || store.Len() != 1 {
		t.Fatalf("Outcome = %+v, len = %d, want echo only", out, store.Len())
	}
}

func TestConcurrentFailuresProduceExactlyOneReplyEach(t *testing.T) {
	d, store := newTestDispatcher(failingClient(), nil)

	const n = 16
	outs := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = d.Submit(context.Background(), Input{Text: fmt.Sprintf("trip %d", i)}, page.ManageRoute)
		}(i)
	}
	wg.Wait()

	snap := store.Snapshot()
	if len(snap) != 2*n {
		t.Fatalf("len(transcript) = %d, want %d", len(snap), 2*n)
	}
	index := make(map[string]int, len(snap))
	for i, m := range snap {
		index[m.ID] = i
	}
	for i, out := range outs {
		if out.UserMessage == nil || out.AssistantMessage == nil {
			t.Fatalf("outs[%d] = %+v, want both entries", i, out)
		}
		if index[out.UserMessage.ID] >= index[out.AssistantMessage.ID] {
			t.Fatalf("outs[%d]: echo at %d not before reply at %d", i, index[out.UserMessage.ID], index[out.AssistantMessage.ID])
		}
	}
}

func TestSubmitFallbackDelayHonorsCancel(t *testing.T) {
	store := conversation.NewStore()
	d := NewDispatcher(store, nil, failingClient(), nil, nil, DispatcherConfig{FallbackDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Submit(ctx, Input{Text: "hi"}, page.ManageRoute)
	if !out.Fallback || store.Len() != 2 {
		t.Fatalf("Outcome = %+v, len = %d, want fallback appended", out, store.Len())
	}
}

func TestCloseCancelsPendingPlayback(t *testing.T) {
	client := &stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{ResponseText: "Hi", AudioLocator: "https://cdn.test/a.wav"}, nil
	}}
	player := newRecordingPlayer()
	store := conversation.NewStore()
	d := NewDispatcher(store, nil, client, playback.NewArbiter(player), nil, DispatcherConfig{PlaybackDelay: 50 * time.Millisecond})

	d.Submit(context.Background(), Input{Text: "hi"}, page.ManageRoute)
	d.Close()

	select {
	case got := <-player.notify:
		t.Fatalf("playback %q started after Close()", got)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFallbackLogFlagsTransientFailures(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	outage, _ := newTestDispatcher(&stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{}, &agent.HTTPError{StatusCode: 503, Body: "down"}
	}}, nil)
	outage.Submit(context.Background(), Input{Text: "hi"}, page.ManageRoute)
	if !strings.Contains(buf.String(), "transient=true") {
		t.Fatalf("log = %q, want transient=true for a 503", buf.String())
	}

	buf.Reset()
	rejected, _ := newTestDispatcher(&stubClient{submit: func(context.Context, agent.Request) (agent.Reply, error) {
		return agent.Reply{}, &agent.HTTPError{StatusCode: 400, Body: "bad form"}
	}}, nil)
	rejected.Submit(context.Background(), Input{Text: "hi"}, page.ManageRoute)
	if !strings.Contains(buf.String(), "transient=false") {
		t.Fatalf("log = %q, want transient=false for a 400", buf.String())
	}
}

func TestNilClientFallsBack(t *testing.T) {
	d, store := newTestDispatcher(nil, nil)
	out := d.Submit(context.Background(), Input{Text: "hi"}, page.ManageRoute)
	if !out.Fallback || store.Len() != 2 {
		t.Fatalf("Outcome = %+v, want fallback", out)
	}
}
