package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/antoniostano/movi/internal/agent"
	"github.com/antoniostano/movi/internal/audio"
	"github.com/antoniostano/movi/internal/recording"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"device", fmt.Errorf("%w: %w", recording.ErrDeviceUnavailable, errors.New("denied")), KindDeviceUnavailable},
		{"state", fmt.Errorf("stop: %w", recording.ErrInvalidState), KindInvalidState},
		{"transcode", &audio.TranscodeError{Stage: "decode", Err: errors.New("bad")}, KindTranscode},
		{"timeout", fmt.Errorf("submit: %w", context.DeadlineExceeded), KindTimeout},
		{"http", &agent.HTTPError{StatusCode: 502}, KindNetwork},
		{"network", fmt.Errorf("%w: refused", agent.ErrNetwork), KindNetwork},
		{"bad reply", fmt.Errorf("%w: eof", agent.ErrBadReply), KindBadReply},
		{"playback", &PlaybackError{Err: errors.New("no sink")}, KindPlayback},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad request", &agent.HTTPError{StatusCode: 400}, false},
		{"throttled", &agent.HTTPError{StatusCode: 429}, true},
		{"bad gateway", fmt.Errorf("submit: %w", &agent.HTTPError{StatusCode: 502}), true},
		{"unavailable", &agent.HTTPError{StatusCode: 503}, true},
		{"network", fmt.Errorf("%w: refused", agent.ErrNetwork), true},
		{"timeout", context.DeadlineExceeded, true},
		{"bad reply", agent.ErrBadReply, false},
		{"transcode", &audio.TranscodeError{Stage: "decode", Err: errors.New("bad")}, false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Fatalf("Transient(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
