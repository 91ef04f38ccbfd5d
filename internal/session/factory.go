package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/chat"
	"github.com/antoniostano/movi/internal/conversation"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/playback"
	"github.com/antoniostano/movi/internal/recording"
)

const (
	CaptureModePush    = "push"
	CaptureModeCommand = "command"

	PlaybackModeNotify  = "notify"
	PlaybackModeCommand = "command"
	PlaybackModeNone    = "none"
)

// Parts are the pieces a Builder assembles for one widget.
type Parts struct {
	Chat *chat.Widget
	// Mic is set in push capture mode; the frontend feeds it.
	Mic *recording.PushDevice
	// Player is set in notify playback mode; the frontend reports clip completion to it.
	Player *playback.NotifyPlayer
}

// Builder assembles a widget's collaborators. hub receives its events.
type Builder func(id string, hub *Hub) (Parts, error)

// Factory builds widgets from service configuration. Host devices (command capture,
// command playback) are shared by every widget so the microphone and the speaker
// each have a single owner.
type Factory struct {
	Client          agent.Client
	Transcoder      *audio.Transcoder
	Dispatch        chat.DispatcherConfig
	CaptureMode     string
	CaptureCommand  string
	PlaybackMode    string
	PlaybackCommand string
	Metrics         *observability.Metrics

	once      sync.Once
	initErr   error
	hostMic   *recording.CommandDevice
	hostAudio *playback.Arbiter
}

func (f *Factory) initHost() error {
	f.once.Do(func() {
		if strings.EqualFold(f.CaptureMode, CaptureModeCommand) {
			dev, err := recording.NewCommandDevice(f.CaptureCommand)
			if err != nil {
				f.initErr = fmt.Errorf("capture device: %w", err)
				return
			}
			f.hostMic = dev
		}
		if strings.EqualFold(f.PlaybackMode, PlaybackModeCommand) {
			player, err := playback.NewCommandPlayer(f.PlaybackCommand)
			if err != nil {
				f.initErr = fmt.Errorf("playback command: %w", err)
				return
			}
			f.hostAudio = playback.NewArbiter(player)
			f.hostAudio.SetErrorHook(func(error) { f.Metrics.IncPlaybackEvent("start_failed") })
		}
	})
	return f.initErr
}

func (f *Factory) Build(id string, hub *Hub) (Parts, error) {
	if err := f.initHost(); err != nil {
		return Parts{}, err
	}

	var parts Parts
	var device recording.Device
	switch strings.ToLower(f.CaptureMode) {
	case "", CaptureModePush:
		parts.Mic = recording.NewPushDevice()
		device = parts.Mic
	case CaptureModeCommand:
		device = f.hostMic
	default:
		return Parts{}, fmt.Errorf("unsupported capture mode %q", f.CaptureMode)
	}

	var arbiter *playback.Arbiter
	switch strings.ToLower(f.PlaybackMode) {
	case "", PlaybackModeNotify:
		parts.Player = playback.NewNotifyPlayer(hub.Playback)
		arbiter = playback.NewArbiter(parts.Player)
		arbiter.SetErrorHook(func(err error) {
			f.Metrics.IncPlaybackEvent("start_failed")
			hub.Error("playback_failed", "playback", err.Error())
		})
	case PlaybackModeCommand:
		arbiter = f.hostAudio
	case PlaybackModeNone:
		arbiter = playback.NewArbiter(playback.NopPlayer{})
	default:
		return Parts{}, fmt.Errorf("unsupported playback mode %q", f.PlaybackMode)
	}

	recorder := recording.NewSession(device)
	recorder.SetStateHook(hub.Recording)

	store := conversation.NewStore()
	dispatcher := chat.NewDispatcher(store, f.Transcoder, f.Client, arbiter, f.Metrics, f.Dispatch)
	parts.Chat = chat.NewWidget(store, recorder, dispatcher, f.Metrics)
	return parts, nil
}
