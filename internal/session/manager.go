package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/movi/internal/chat"
	"github.com/antoniostano/movi/internal/observability"
	"github.com/antoniostano/movi/internal/playback"
	"github.com/antoniostano/movi/internal/recording"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

var ErrNotFound = errors.New("widget not found")

// Widget is one managed chat widget instance.
type Widget struct {
	ID     string
	Chat   *chat.Widget
	Mic    *recording.PushDevice
	Player *playback.NotifyPlayer
	Hub    *Hub

	mu             sync.Mutex
	status         Status
	createdAt      time.Time
	lastActivityAt time.Time
}

// Info is the externally visible state of a widget.
type Info struct {
	WidgetID        string          `json:"widget_id"`
	Status          Status          `json:"status"`
	Recording       recording.State `json:"recording"`
	Messages        int             `json:"messages"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
	InactivityTTLMS int64           `json:"inactivity_ttl_ms,omitempty"`
}

func (w *Widget) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{
		WidgetID:       w.ID,
		Status:         w.status,
		Recording:      w.Chat.RecordingState(),
		Messages:       w.Chat.Store().Len(),
		CreatedAt:      w.createdAt,
		LastActivityAt: w.lastActivityAt,
	}
}

type Manager struct {
	mu                sync.RWMutex
	widgets           map[string]*Widget
	inactivityTimeout time.Duration
	build             Builder
	metrics           *observability.Metrics
	onExpire          func(Info)
}

func NewManager(build Builder, inactivityTimeout time.Duration, metrics *observability.Metrics) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		widgets:           make(map[string]*Widget),
		inactivityTimeout: inactivityTimeout,
		build:             build,
		metrics:           metrics,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() (*Widget, error) {
	id := uuid.NewString()
	hub := newHub(id)
	parts, err := m.build(id, hub)
	if err != nil {
		return nil, fmt.Errorf("build widget: %w", err)
	}
	now := time.Now().UTC()
	w := &Widget{
		ID:             id,
		Chat:           parts.Chat,
		Mic:            parts.Mic,
		Player:         parts.Player,
		Hub:            hub,
		status:         StatusActive,
		createdAt:      now,
		lastActivityAt: now,
	}

	m.mu.Lock()
	m.widgets[id] = w
	m.mu.Unlock()
	m.metrics.WidgetOpened()
	return w, nil
}

func (m *Manager) Get(id string) (*Widget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.widgets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

func (m *Manager) Touch(id string) error {
	w, err := m.Get(id)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.lastActivityAt = time.Now().UTC()
	w.mu.Unlock()
	return nil
}

// Close tears a widget down: active capture is discarded, pending playback is
// cancelled and WebSocket subscribers are disconnected.
func (m *Manager) Close(id string) (Info, error) {
	m.mu.Lock()
	w, ok := m.widgets[id]
	delete(m.widgets, id)
	m.mu.Unlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return m.shutdown(w, "closed"), nil
}

func (m *Manager) shutdown(w *Widget, reason string) Info {
	if err := w.Chat.Close(); err != nil {
		log.Printf("session: close widget %s: %v", w.ID, err)
	}
	w.Hub.close()

	w.mu.Lock()
	w.status = StatusClosed
	w.lastActivityAt = time.Now().UTC()
	w.mu.Unlock()

	m.metrics.WidgetClosed(reason)
	return w.Info()
}

// CloseAll shuts every widget down.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	widgets := make([]*Widget, 0, len(m.widgets))
	for id, w := range m.widgets {
		widgets = append(widgets, w)
		delete(m.widgets, id)
	}
	m.mu.Unlock()
	for _, w := range widgets {
		m.shutdown(w, "shutdown")
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Widget

	m.mu.Lock()
	for id, w := range m.widgets {
		w.mu.Lock()
		idle := now.Sub(w.lastActivityAt)
		w.mu.Unlock()
		// Never expire a widget mid-capture.
		if idle < m.inactivityTimeout || w.Chat.RecordingState() == recording.StateCapturing {
			continue
		}
		delete(m.widgets, id)
		expired = append(expired, w)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, w := range expired {
		info := m.shutdown(w, "expired")
		if hook != nil {
			hook(info)
		}
	}
}
