package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/protocol"
)

type options struct {
	baseURL        string
	page           string
	turns          int
	voice          bool
	voiceMS        int
	chunkMS        int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createWidgetResponse struct {
	WidgetID string `json:"widget_id"`
}

type wsEnvelope struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Message struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"message"`
}

var defaultUtterances = []string{
	"How do I add a stop to route 12?",
	"Which vehicles are assigned to the morning trip?",
	"Who is driving bus 7 today?",
	"Show me the dashboard summary.",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	cmd := &cobra.Command{
		Use:          "movibench",
		Short:        "Replay synthetic turns against a running Movi service and report reply latency",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.normalize(textsRaw, interTurnMS, turnTimeoutMS); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "Movi base URL")
	flags.StringVar(&cfg.page, "page", "manageRoute", "page context sent with every turn")
	flags.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flags.BoolVar(&cfg.voice, "voice", false, "send synthetic recordings instead of text")
	flags.IntVar(&cfg.voiceMS, "voice-ms", 1200, "length of each synthetic recording in milliseconds")
	flags.IntVar(&cfg.chunkMS, "chunk-ms", 250, "microphone frame size in milliseconds")
	flags.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flags.IntVar(&turnTimeoutMS, "turn-timeout-ms", 35000, "timeout waiting for the assistant reply per turn in milliseconds")
	flags.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flags.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	return cmd
}

func (cfg *options) normalize(textsRaw string, interTurnMS, turnTimeoutMS int) error {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.voiceMS < 100 {
		return fmt.Errorf("voice-ms must be >= 100")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.texts = splitTexts(textsRaw)
	return nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultUtterances...)
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	widgetID, err := createWidget(ctx, httpClient, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("create widget: %w", err)
	}
	defer func() {
		_ = closeWidget(context.Background(), httpClient, cfg.baseURL, widgetID)
	}()

	wsURL, err := wsURLForWidget(cfg.baseURL, widgetID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("movibench: widget=%s turns=%d voice=%t\n", widgetID, cfg.turns, cfg.voice)
	}

	events := newEventFeed()
	go events.readLoop(conn, cfg.verbose)

	var clip []byte
	if cfg.voice {
		clip, err = toneWAV(cfg.voiceMS, 16000)
		if err != nil {
			return fmt.Errorf("synthesize recording: %w", err)
		}
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if cfg.voice {
			err = voiceTurn(conn, events, widgetID, cfg, clip)
		} else {
			err = sendControl(conn, protocol.ClientControl{
				WidgetID: widgetID,
				Action:   protocol.ActionSend,
				Text:     text,
				Page:     cfg.page,
			})
		}
		if err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		reply, err := events.awaitReply(cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		elapsed := time.Since(start)
		latencies = append(latencies, elapsed)
		if cfg.verbose {
			fmt.Printf("movibench: turn %d/%d %s reply=%q\n", i+1, cfg.turns, elapsed.Round(time.Millisecond), reply)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	s := summarize(latencies)
	fmt.Printf("movibench: turns=%d p50_ms=%.1f p95_ms=%.1f max_ms=%.1f\n", s.count, s.p50, s.p95, s.max)
	return nil
}

func createWidget(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/widgets", nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createWidgetResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.WidgetID) == "" {
		return "", fmt.Errorf("missing widget_id in response")
	}
	return out.WidgetID, nil
}

func closeWidget(ctx context.Context, client *http.Client, baseURL, widgetID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/widgets/"+url.PathEscape(widgetID)+"/close", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForWidget(baseURL, widgetID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/widgets/" + url.PathEscape(widgetID) + "/ws"
	return u.String(), nil
}

type eventFeed struct {
	replies chan string
	states  chan string
	errs    chan error
}

func newEventFeed() *eventFeed {
	return &eventFeed{
		replies: make(chan string, 32),
		states:  make(chan string, 32),
		errs:    make(chan error, 1),
	}
}

func (f *eventFeed) readLoop(conn *websocket.Conn, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case f.errs <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeTranscriptAppend):
			if env.Message.Sender == "assistant" {
				f.replies <- env.Message.Text
			}
		case string(protocol.TypeRecordingState):
			f.states <- env.State
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "movibench: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func (f *eventFeed) awaitReply(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-f.replies:
		return text, nil
	case err := <-f.errs:
		return "", err
	case <-timer.C:
		return "", fmt.Errorf("timeout after %s", timeout)
	}
}

func (f *eventFeed) awaitState(want string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case st := <-f.states:
			if st == want {
				return nil
			}
		case err := <-f.errs:
			return err
		case <-timer.C:
			return fmt.Errorf("recording state %q not reached after %s", want, timeout)
		}
	}
}

// voiceTurn toggles capture on, streams clip as binary microphone frames and toggles
// capture off, which submits the recording.
func voiceTurn(conn *websocket.Conn, events *eventFeed, widgetID string, cfg options, clip []byte) error {
	toggle := protocol.ClientControl{WidgetID: widgetID, Action: protocol.ActionToggleRecording, Page: cfg.page}
	if err := sendControl(conn, toggle); err != nil {
		return err
	}
	if err := events.awaitState("capturing", 5*time.Second); err != nil {
		return err
	}
	for _, frame := range splitFrames(clip, 16000*2*cfg.chunkMS/1000) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return err
		}
	}
	return sendControl(conn, toggle)
}

func sendControl(conn *websocket.Conn, msg protocol.ClientControl) error {
	msg.Type = protocol.TypeClientControl
	return conn.WriteJSON(msg)
}

func splitFrames(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}
	var out [][]byte
	for off := 0; off < len(data); off += size {
		out = append(out, data[off:min(off+size, len(data))])
	}
	return out
}

// toneWAV renders a 440Hz tone so the agent receives a non-silent recording.
func toneWAV(durationMS, sampleRate int) ([]byte, error) {
	if durationMS <= 0 || sampleRate <= 0 {
		return nil, errors.New("duration and sample rate must be positive")
	}
	n := sampleRate * durationMS / 1000
	mono := make([]float32, n)
	for i := range mono {
		mono[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return audio.EncodeWAV([][]float32{mono}, sampleRate)
}

type latencySummary struct {
	count         int
	p50, p95, max float64
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	ms := make([]float64, len(latencies))
	for i, d := range latencies {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	sort.Float64s(ms)
	pick := func(q float64) float64 {
		idx := int(math.Ceil(q*float64(len(ms)))) - 1
		return ms[max(0, min(idx, len(ms)-1))]
	}
	return latencySummary{count: len(ms), p50: pick(0.50), p95: pick(0.95), max: ms[len(ms)-1]}
}
