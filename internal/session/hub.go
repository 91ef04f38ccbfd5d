package session

import (
	"sync"

	"github.com/antoniostano/movi/internal/playback"
	"github.com/antoniostano/movi/internal/protocol"
	"github.com/antoniostano/movi/internal/recording"
)

// Hub fans widget events out to connected frontends as protocol messages.
type Hub struct {
	widgetID string

	mu     sync.Mutex
	subs   map[int]chan any
	next   int
	closed bool
}

func newHub(widgetID string) *Hub {
	return &Hub{widgetID: widgetID, subs: make(map[int]chan any)}
}

// Subscribe returns a feed of server messages. Slow subscribers lose events.
func (h *Hub) Subscribe(buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan any, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *Hub) Publish(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Playback converts a player notification into a playback message.
func (h *Hub) Playback(e playback.Event) {
	switch e.Kind {
	case playback.EventStart:
		h.Publish(protocol.PlaybackStart{
			Type:     protocol.TypePlaybackStart,
			WidgetID: h.widgetID,
			ClipID:   e.ClipID,
			URL:      e.Locator,
		})
	case playback.EventStop:
		h.Publish(protocol.PlaybackStop{
			Type:     protocol.TypePlaybackStop,
			WidgetID: h.widgetID,
			ClipID:   e.ClipID,
		})
	}
}

func (h *Hub) Recording(state recording.State) {
	h.Publish(protocol.RecordingState{
		Type:     protocol.TypeRecordingState,
		WidgetID: h.widgetID,
		State:    string(state),
	})
}

func (h *Hub) Error(code, source, detail string) {
	h.Publish(protocol.ErrorEvent{
		Type:     protocol.TypeErrorEvent,
		WidgetID: h.widgetID,
		Code:     code,
		Source:   source,
		Detail:   detail,
	})
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
