package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/movi/internal/conversation"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl    MessageType = "client_control"
	TypeClientAudioChunk MessageType = "client_audio_chunk"

	TypeTranscriptSnapshot MessageType = "transcript_snapshot"
	TypeTranscriptAppend   MessageType = "transcript_append"
	TypeRecordingState     MessageType = "recording_state"
	TypePlaybackStart      MessageType = "playback_start"
	TypePlaybackStop       MessageType = "playback_stop"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions carried by client_control.
const (
	ActionSetText         = "set_text"
	ActionAttachImage     = "attach_image"
	ActionRemoveImage     = "remove_image"
	ActionSend            = "send"
	ActionToggleRecording = "toggle_recording"
	ActionPlaybackEnded   = "playback_ended"
	// The page reports the outcome of its microphone permission prompt; Text
	// carries the browser's error name on denial.
	ActionMicDenied  = "mic_denied"
	ActionMicGranted = "mic_granted"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type     MessageType `json:"type"`
	WidgetID string      `json:"widget_id"`
	Action   string      `json:"action"`
	Text     string      `json:"text,omitempty"`
	ImageURI string      `json:"image_uri,omitempty"`
	Page     string      `json:"page,omitempty"`
	Path     string      `json:"path,omitempty"`
	ClipID   string      `json:"clip_id,omitempty"`
}

// ClientAudioChunk is the JSON alternative to a binary microphone frame.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	WidgetID    string      `json:"widget_id"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
}

type TranscriptSnapshot struct {
	Type     MessageType            `json:"type"`
	WidgetID string                 `json:"widget_id"`
	Messages []conversation.Message `json:"messages"`
}

type TranscriptAppend struct {
	Type     MessageType          `json:"type"`
	WidgetID string               `json:"widget_id"`
	Message  conversation.Message `json:"message"`
}

type RecordingState struct {
	Type     MessageType `json:"type"`
	WidgetID string      `json:"widget_id"`
	State    string      `json:"state"`
}

type PlaybackStart struct {
	Type     MessageType `json:"type"`
	WidgetID string      `json:"widget_id"`
	ClipID   string      `json:"clip_id"`
	URL      string      `json:"url"`
}

type PlaybackStop struct {
	Type     MessageType `json:"type"`
	WidgetID string      `json:"widget_id"`
	ClipID   string      `json:"clip_id"`
}

type ErrorEvent struct {
	Type     MessageType `json:"type"`
	WidgetID string      `json:"widget_id"`
	Code     string      `json:"code"`
	Source   string      `json:"source"`
	Detail   string      `json:"detail,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.WidgetID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		if !knownAction(msg.Action) {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.WidgetID == "" || strings.TrimSpace(msg.AudioBase64) == "" {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func knownAction(action string) bool {
	switch action {
	case ActionSetText, ActionAttachImage, ActionRemoveImage, ActionSend, ActionToggleRecording, ActionPlaybackEnded,
		ActionMicDenied, ActionMicGranted:
		return true
	default:
		return false
	}
}
