package reliability

import (
	"context"
	"errors"
	"net"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/recording"
)

// Failure kinds used as metric labels and in logs.
const (
	KindDeviceUnavailable = "device_unavailable"
	KindInvalidState      = "invalid_state"
	KindTranscode         = "transcode"
	KindNetwork           = "network"
	KindTimeout           = "timeout"
	KindBadReply          = "bad_reply"
	KindPlayback          = "playback"
	KindUnknown           = "unknown"
)

// PlaybackError marks a failure of the audio output side.
type PlaybackError struct{ Err error }

func (e *PlaybackError) Error() string { return "playback: " + e.Err.Error() }
func (e *PlaybackError) Unwrap() error { return e.Err }

// Classify maps an interaction error to a stable failure kind. nil maps to "".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var (
		transcodeErr *audio.TranscodeError
		httpErr      *agent.HTTPError
		playbackErr  *PlaybackError
		netErr       net.Error
	)
	switch {
	case errors.Is(err, recording.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, recording.ErrInvalidState):
		return KindInvalidState
	case errors.As(err, &transcodeErr):
		return KindTranscode
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &playbackErr):
		return KindPlayback
	case errors.Is(err, agent.ErrBadReply):
		return KindBadReply
	case errors.As(err, &httpErr), errors.Is(err, agent.ErrNetwork), errors.Is(err, context.Canceled):
		return KindNetwork
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Transient reports whether err looks like an agent outage rather than a rejected
// request: timeouts, network failures and 429/5xx answers. Submissions are never
// retried; the flag goes into the fallback log line.
func Transient(err error) bool {
	var httpErr *agent.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	switch Classify(err) {
	case KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}
