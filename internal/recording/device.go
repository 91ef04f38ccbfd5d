package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Device hands out an exclusive audio input handle.
type Device interface {
	Acquire(ctx context.Context) (InputStream, error)
}

// InputStream delivers encoded audio chunks until it is closed. The chunk channel is
// closed once the stream has nothing more to deliver.
type InputStream interface {
	Chunks() <-chan []byte
	Close() error
}

var (
	ErrDeviceBusy   = errors.New("input device busy")
	ErrNotCapturing = errors.New("no open input stream")
)

// PushDevice is fed by a remote recorder: the browser captures the microphone and
// forwards encoded chunks, which are pushed into the open stream.
type PushDevice struct {
	mu      sync.Mutex
	current *pushStream
	denied  error
}

func NewPushDevice() *PushDevice { return &PushDevice{} }

// Deny makes subsequent acquisitions fail with err, e.g. when the frontend reports
// that microphone permission was refused. A nil err re-enables acquisition.
func (d *PushDevice) Deny(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = err
}

func (d *PushDevice) Acquire(ctx context.Context) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied != nil {
		return nil, d.denied
	}
	if d.current != nil {
		return nil, ErrDeviceBusy
	}
	s := &pushStream{owner: d, chunks: make(chan []byte, 64)}
	d.current = s
	return s, nil
}

// Push forwards one chunk to the open stream.
func (d *PushDevice) Push(chunk []byte) error {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()
	if s == nil {
		return ErrNotCapturing
	}
	return s.push(chunk)
}

// Open reports whether a stream is currently acquired.
func (d *PushDevice) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

func (d *PushDevice) release(s *pushStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == s {
		d.current = nil
	}
}

type pushStream struct {
	owner  *PushDevice
	mu     sync.Mutex
	chunks chan []byte
	closed bool
}

func (s *pushStream) Chunks() <-chan []byte { return s.chunks }

func (s *pushStream) push(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotCapturing
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	// Blocking here keeps chunks in arrival order; the session reader drains continuously.
	s.chunks <- c
	return nil
}

func (s *pushStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.chunks)
	s.mu.Unlock()
	s.owner.release(s)
	return nil
}

// CommandDevice captures audio by running a recorder process (ffmpeg, arecord, sox)
// that writes an encoded stream to stdout.
// Only one stream may be open at a time; the host has a single microphone.
type CommandDevice struct {
	path      string
	args      []string
	chunkSize int

	mu     sync.Mutex
	active bool
}

// NewCommandDevice parses a command line such as
// "ffmpeg -f alsa -i default -f webm -c:a libopus pipe:1".
func NewCommandDevice(commandLine string) (*CommandDevice, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &CommandDevice{path: fields[0], args: fields[1:], chunkSize: 16 << 10}, nil
}

func (d *CommandDevice) Acquire(ctx context.Context) (InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil, ErrDeviceBusy
	}

	path, err := exec.LookPath(d.path)
	if err != nil {
		return nil, fmt.Errorf("capture command not found (%s): %w", d.path, err)
	}
	// The process outlives the acquiring request; Close stops it.
	cmd := exec.Command(path, d.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	s := &commandStream{owner: d, cmd: cmd, chunks: make(chan []byte, 64), done: make(chan struct{})}
	d.active = true
	go s.pump(stdout, d.chunkSize)
	return s, nil
}

func (d *CommandDevice) release() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

var commandStopGrace = 2 * time.Second

type commandStream struct {
	owner     *CommandDevice
	cmd       *exec.Cmd
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *commandStream) Chunks() <-chan []byte { return s.chunks }

func (s *commandStream) pump(r io.Reader, size int) {
	defer close(s.done)
	defer close(s.chunks)
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c := make([]byte, n)
			copy(c, buf[:n])
			s.chunks <- c
		}
		if err != nil {
			return
		}
	}
}

func (s *commandStream) Close() error {
	s.closeOnce.Do(func() {
		// Interrupt lets ffmpeg flush the container trailer before exiting.
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = s.cmd.Process.Kill()
		}
		select {
		case <-s.done:
		case <-time.After(commandStopGrace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
		_ = s.cmd.Wait()
		s.owner.release()
	})
	return nil
}
