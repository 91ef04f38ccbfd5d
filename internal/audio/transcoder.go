package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Decoder turns an arbitrary compressed or container audio buffer into float samples.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (PCM, error)
}

// TranscodeError reports that captured audio could not be turned into WAV.
type TranscodeError struct {
	Stage string
	Err   error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Stage, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Transcoder re-encodes captured audio into the canonical 16-bit PCM WAV format.
type Transcoder struct {
	decoder Decoder
}

func NewTranscoder(decoder Decoder) *Transcoder {
	if decoder == nil {
		decoder = WAVDecoder{}
	}
	return &Transcoder{decoder: decoder}
}

// Transcode decodes blob and re-encodes it. Every failure is a *TranscodeError.
func (t *Transcoder) Transcode(ctx context.Context, blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, &TranscodeError{Stage: "decode", Err: errors.New("empty audio")}
	}
	pcm, err := t.decoder.Decode(ctx, blob)
	if err != nil {
		return nil, &TranscodeError{Stage: "decode", Err: err}
	}
	wav, err := EncodeWAV(pcm.Channels, pcm.SampleRate)
	if err != nil {
		return nil, &TranscodeError{Stage: "encode", Err: err}
	}
	return wav, nil
}

// WAVDecoder decodes RIFF/WAVE input natively.
type WAVDecoder struct{}

func (WAVDecoder) Decode(_ context.Context, data []byte) (PCM, error) {
	return ParseWAV(data)
}

// FFmpegDecoder shells out to ffmpeg to decode containers Go cannot read natively
// (WebM/Opus from browser recorders, Ogg, MP4).
type FFmpegDecoder struct {
	path string
}

func NewFFmpegDecoder(path string) (*FFmpegDecoder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found (%s): %w", path, err)
	}
	return &FFmpegDecoder{path: resolved}, nil
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (PCM, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "wav",
		"-acodec", "pcm_f32le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, d.path, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PCM{}, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return PCM{}, fmt.Errorf("ffmpeg failed: %s", detail)
	}
	return ParseWAV(stdout.Bytes())
}

// AutoDecoder decodes WAV input natively and hands everything else to Fallback.
type AutoDecoder struct {
	Fallback Decoder
}

func (d AutoDecoder) Decode(ctx context.Context, data []byte) (PCM, error) {
	if IsWAV(data) || d.Fallback == nil {
		return ParseWAV(data)
	}
	return d.Fallback.Decode(ctx, data)
}
