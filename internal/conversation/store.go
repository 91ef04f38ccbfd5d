package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one transcript entry. It is never modified after Append.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the append-only transcript a chat widget renders from.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	subs     map[int]chan Message
	nextSub  int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]chan Message)}
}

// Append adds msg to the end of the transcript, assigning an ID and timestamp when
// they are missing, and returns the stored entry.
func (s *Store) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	for _, ch := range s.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; it can recover with Snapshot.
		}
	}
	return msg
}

// AppendUser is shorthand for appending a user message.
func (s *Store) AppendUser(text string) Message {
	return s.Append(Message{Text: text, Sender: SenderUser})
}

// AppendAssistant is shorthand for appending an assistant message.
func (s *Store) AppendAssistant(text string) Message {
	return s.Append(Message{Text: text, Sender: SenderAssistant})
}

// Snapshot returns a copy of the transcript in insertion order.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a feed of future appends and a cancel func. Events are dropped,
// never queued without bound, when the subscriber falls behind.
func (s *Store) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
