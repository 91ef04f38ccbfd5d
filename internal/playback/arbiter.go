package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Clip is one playing audio clip.
type Clip interface {
	Stop() error
	// Done is closed when the clip finishes naturally or is stopped.
	Done() <-chan struct{}
}

// Player starts clips on some output.
type Player interface {
	Start(ctx context.Context, locator string) (Clip, error)
}

// Arbiter keeps at most one clip playing. A new Play stops the previous clip first.
type Arbiter struct {
	player Player

	mu      sync.Mutex
	current Clip
	locator string
	owner   any
	seq     uint64
	onError func(error)
}

func NewArbiter(player Player) *Arbiter {
	if player == nil {
		player = NopPlayer{}
	}
	return &Arbiter{player: player}
}

// SetErrorHook registers fn to observe player failures. Failures are never returned
// to the interaction that triggered playback.
func (a *Arbiter) SetErrorHook(fn func(error)) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// Play stops whatever is playing and starts locator.
func (a *Arbiter) Play(ctx context.Context, locator string) error {
	return a.PlayFor(ctx, nil, locator)
}

// PlayFor is Play with the clip attributed to owner, so StopFor can later halt it
// without touching clips other owners started on a shared output.
func (a *Arbiter) PlayFor(ctx context.Context, owner any, locator string) error {
	if locator == "" {
		return errors.New("playback: empty locator")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		if err := a.current.Stop(); err != nil {
			log.Printf("playback: stop previous clip failed: %v", err)
		}
		a.current = nil
		a.locator = ""
		a.owner = nil
	}

	clip, err := a.player.Start(ctx, locator)
	if err != nil {
		err = fmt.Errorf("playback: start %s: %w", locator, err)
		log.Printf("%v", err)
		if a.onError != nil {
			a.onError(err)
		}
		return err
	}

	a.seq++
	seq := a.seq
	a.current = clip
	a.locator = locator
	a.owner = owner
	go a.watch(clip, seq)
	return nil
}

func (a *Arbiter) watch(clip Clip, seq uint64) {
	<-clip.Done()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq == seq && a.current != nil {
		a.current = nil
		a.locator = ""
		a.owner = nil
	}
}

// Current returns the locator of the playing clip, or "" when nothing plays.
func (a *Arbiter) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locator
}

// Stop halts the current clip, if any.
func (a *Arbiter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

// StopFor halts the current clip only when owner started it.
func (a *Arbiter) StopFor(owner any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.owner != owner {
		return nil
	}
	return a.stopLocked()
}

func (a *Arbiter) stopLocked() error {
	if a.current == nil {
		return nil
	}
	err := a.current.Stop()
	a.current = nil
	a.locator = ""
	a.owner = nil
	return err
}
