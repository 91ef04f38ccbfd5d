package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NopPlayer accepts every clip and finishes it immediately.
type NopPlayer struct{}

func (NopPlayer) Start(ctx context.Context, _ string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := newDoneClip()
	c.finish()
	return c, nil
}

type doneClip struct {
	done chan struct{}
	once sync.Once
}

func newDoneClip() *doneClip { return &doneClip{done: make(chan struct{})} }

func (c *doneClip) finish()                { c.once.Do(func() { close(c.done) }) }
func (c *doneClip) Done() <-chan struct{} { return c.done }
func (c *doneClip) Stop() error            { c.finish(); return nil }

// CommandPlayer plays clips through an external player process, ffplay by default.
type CommandPlayer struct {
	bin  string
	args []string
}

func NewCommandPlayer(commandLine string) (*CommandPlayer, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		fields = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error"}
	}
	return &CommandPlayer{bin: fields[0], args: fields[1:]}, nil
}

func (p *CommandPlayer) Start(ctx context.Context, locator string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(p.bin)
	if err != nil {
		return nil, fmt.Errorf("player binary %q not found: %w", p.bin, err)
	}
	args := append(append([]string(nil), p.args...), locator)
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	c := &commandClip{cmd: cmd, doneClip: newDoneClip()}
	go func() {
		_ = cmd.Wait()
		c.finish()
	}()
	return c, nil
}

type commandClip struct {
	*doneClip
	cmd *exec.Cmd
}

func (c *commandClip) Stop() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-c.done
	return nil
}

// Event is a playback notification forwarded to a frontend.
type Event struct {
	Kind    string `json:"kind"`
	ClipID  string `json:"clip_id"`
	Locator string `json:"locator,omitempty"`
}

const (
	EventStart = "start"
	EventStop  = "stop"
)

// NotifyPlayer delegates audio output to a remote frontend. It emits start and stop
// events and learns about natural completion through Ended.
type NotifyPlayer struct {
	emit func(Event)

	mu     sync.Mutex
	active map[string]*notifyClip
}

func NewNotifyPlayer(emit func(Event)) *NotifyPlayer {
	if emit == nil {
		emit = func(Event) {}
	}
	return &NotifyPlayer{emit: emit, active: make(map[string]*notifyClip)}
}

func (p *NotifyPlayer) Start(ctx context.Context, locator string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &notifyClip{id: uuid.NewString(), player: p, doneClip: newDoneClip()}
	p.mu.Lock()
	p.active[c.id] = c
	p.mu.Unlock()
	p.emit(Event{Kind: EventStart, ClipID: c.id, Locator: locator})
	return c, nil
}

// Ended marks clipID as finished on the frontend. Unknown IDs are ignored.
func (p *NotifyPlayer) Ended(clipID string) bool {
	p.mu.Lock()
	c, ok := p.active[clipID]
	delete(p.active, clipID)
	p.mu.Unlock()
	if ok {
		c.finish()
	}
	return ok
}

type notifyClip struct {
	*doneClip
	id     string
	player *NotifyPlayer
}

func (c *notifyClip) Stop() error {
	p := c.player
	p.mu.Lock()
	_, ok := p.active[c.id]
	delete(p.active, c.id)
	p.mu.Unlock()
	if ok {
		p.emit(Event{Kind: EventStop, ClipID: c.id})
	}
	c.finish()
	return nil
}
