package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
)

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrInvalidState      = errors.New("invalid recording state")
)

// Session owns the microphone capture lifecycle for one chat widget. The state field
// is the single arbiter: calls whose precondition is not met are rejected.
type Session struct {
	device Device

	mu         sync.Mutex
	state      State
	busy       bool // acquisition or release in flight
	stream     InputStream
	chunks     [][]byte
	readerDone chan struct{}
	onState    func(State)
}

func NewSession(device Device) *Session {
	return &Session{device: device, state: StateIdle}
}

// SetStateHook registers a callback invoked after every state transition.
func (s *Session) SetStateHook(hook func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = hook
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Capturing() bool { return s.State() == StateCapturing }

// Start acquires the input device and begins buffering chunks. On acquisition failure
// the session stays idle and ErrDeviceUnavailable is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.busy {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start while %s: %w", state, ErrInvalidState)
	}
	s.busy = true
	s.mu.Unlock()

	stream, err := s.device.Acquire(ctx)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	done := make(chan struct{})
	s.state = StateCapturing
	s.stream = stream
	s.chunks = nil
	s.readerDone = done
	hook := s.onState
	s.mu.Unlock()

	go s.read(stream, done)
	if hook != nil {
		hook(StateCapturing)
	}
	return nil
}

func (s *Session) read(stream InputStream, done chan struct{}) {
	defer close(done)
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	}
}

// Stop releases the input device and returns every chunk captured since Start as one
// blob. Stopping an idle session returns ErrInvalidState.
func (s *Session) Stop() ([]byte, error) {
	s.mu.Lock()
	if s.state != StateCapturing || s.busy {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("stop while %s: %w", state, ErrInvalidState)
	}
	s.busy = true
	stream := s.stream
	done := s.readerDone
	s.mu.Unlock()

	closeErr := stream.Close()
	<-done

	s.mu.Lock()
	blob := bytes.Join(s.chunks, nil)
	s.chunks = nil
	s.stream = nil
	s.readerDone = nil
	s.state = StateIdle
	s.busy = false
	hook := s.onState
	s.mu.Unlock()

	if hook != nil {
		hook(StateIdle)
	}
	if closeErr != nil {
		return blob, fmt.Errorf("release input: %w", closeErr)
	}
	return blob, nil
}

// bufferedChunks reports how many chunks the active capture has buffered.
func (s *Session) bufferedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Close stops an active capture and discards its audio.
func (s *Session) Close() error {
	if !s.Capturing() {
		return nil
	}
	_, err := s.Stop()
	if errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}
