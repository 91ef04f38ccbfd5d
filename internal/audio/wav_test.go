package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeWAVHeaderLayout(t *testing.T) {
	samples := [][]float32{
		{0, 0.5, -0.5},
		{1, -1, 0.25},
	}
	wav, err := EncodeWAV(samples, 44100)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+3*2*2 {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+3*2*2)
	}

	checkString := func(off int, want string) {
		t.Helper()
		if got := string(wav[off : off+4]); got != want {
			t.Fatalf("bytes %d..%d = %q, want %q", off, off+3, got, want)
		}
	}
	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(wav[off : off+2]) }
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(wav[off : off+4]) }

	checkString(0, "RIFF")
	checkString(8, "WAVE")
	checkString(12, "fmt ")
	checkString(36, "data")
	if got := u32(4); got != uint32(len(wav)-8) {
		t.Fatalf("riff size = %d, want %d", got, len(wav)-8)
	}
	if got := u32(16); got != 16 {
		t.Fatalf("fmt size = %d, want 16", got)
	}
	if got := u16(20); got != 1 {
		t.Fatalf("audio format = %d, want 1", got)
	}
	if got := u16(22); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
	if got := u32(24); got != 44100 {
		t.Fatalf("sample rate = %d, want 44100", got)
	}
	if got := u32(28); got != 44100*2*2 {
		t.Fatalf("byte rate = %d, want %d", got, 44100*2*2)
	}
	if got := u16(32); got != 4 {
		t.Fatalf("block align = %d, want 4", got)
	}
	if got := u16(34); got != 16 {
		t.Fatalf("bits per sample = %d, want 16", got)
	}
	if got := u32(40); got != 12 {
		t.Fatalf("data size = %d, want 12", got)
	}

	// Frame-interleaved payload: frame 0 = (0, 1), frame 1 = (0.5, -1), frame 2 = (-0.5, 0.25).
	want := []int16{0, 32767, 16383, -32768, -16384, 8191}
	for i, w := range want {
		got := int16(u16(44 + i*2))
		if got != w {
			t.Fatalf("payload[%d] = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAVSilenceOneSecondMono(t *testing.T) {
	silence := make([]float32, 48000)
	wav, err := EncodeWAV([][]float32{silence}, 48000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+48000*2 {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+48000*2)
	}
	info, _, err := ReadWAVInfo(wav)
	if err != nil {
		t.Fatalf("ReadWAVInfo() error = %v", err)
	}
	if info.NumChannels != 1 || info.SampleRate != 48000 || info.BitsPerSample != 16 {
		t.Fatalf("unexpected header: %+v", info)
	}
}

func TestEncodeWAVClampsOutOfRange(t *testing.T) {
	wav, err := EncodeWAV([][]float32{{2.5, -7, float32(math.NaN())}}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	want := []int16{32767, -32768, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(wav[44+i*2:]))
		if got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAVIsDeterministic(t *testing.T) {
	samples := [][]float32{make([]float32, 1024), make([]float32, 1024)}
	for i := range samples[0] {
		samples[0][i] = float32(math.Sin(float64(i) / 7))
		samples[1][i] = float32(math.Cos(float64(i) / 13))
	}
	a, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	b, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("EncodeWAV() output differs between identical calls")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	const frames = 2000
	samples := [][]float32{make([]float32, frames), make([]float32, frames), make([]float32, frames)}
	for i := 0; i < frames; i++ {
		samples[0][i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 22050))
		samples[1][i] = float32(i%200)/100 - 1
		samples[2][i] = float32(-0.999 + 0.001*float64(i%1999))
	}
	wav, err := EncodeWAV(samples, 22050)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	pcm, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if pcm.SampleRate != 22050 {
		t.Fatalf("SampleRate = %d, want 22050", pcm.SampleRate)
	}
	if len(pcm.Channels) != 3 {
		t.Fatalf("len(Channels) = %d, want 3", len(pcm.Channels))
	}
	if pcm.Frames() != frames {
		t.Fatalf("Frames() = %d, want %d", pcm.Frames(), frames)
	}
	// Truncation loses less than one step; allow float32 rounding on top.
	const tolerance = 1.0/32767 + 1e-6
	for c := range samples {
		for i := range samples[c] {
			diff := math.Abs(float64(samples[c][i] - pcm.Channels[c][i]))
			if diff > tolerance {
				t.Fatalf("channel %d sample %d = %v, want %v (diff %v)", c, i, pcm.Channels[c][i], samples[c][i], diff)
			}
		}
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Fatalf("EncodeWAV(nil) expected error")
	}
	if _, err := EncodeWAV([][]float32{{0}}, 0); err == nil {
		t.Fatalf("EncodeWAV(rate=0) expected error")
	}
	if _, err := EncodeWAV([][]float32{{0, 0}, {0}}, 16000); err == nil {
		t.Fatalf("EncodeWAV(ragged) expected error")
	}
}

func TestParseWAVFloat32StreamedSizes(t *testing.T) {
	// ffmpeg writing to a pipe cannot seek back, so sizes stay at 0xFFFFFFFF.
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(math.MaxUint32))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(3))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(8000))
	binary.Write(&buf, binary.LittleEndian, uint32(8000*4))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(32))
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(math.MaxUint32))
	for _, v := range []float32{0.25, -0.5, 1} {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}

	pcm, err := ParseWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if pcm.SampleRate != 8000 || len(pcm.Channels) != 1 || pcm.Frames() != 3 {
		t.Fatalf("unexpected pcm: rate=%d channels=%d frames=%d", pcm.SampleRate, len(pcm.Channels), pcm.Frames())
	}
	if pcm.Channels[0][1] != -0.5 {
		t.Fatalf("sample 1 = %v, want -0.5", pcm.Channels[0][1])
	}
}

func pcm16Header(buf *bytes.Buffer, rate uint32) {
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, rate)
	binary.Write(buf, binary.LittleEndian, rate*2)
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
}

func TestReadWAVInfoZeroSizedData(t *testing.T) {
	// An empty data chunk followed by metadata: the LIST chunk is not audio.
	var empty bytes.Buffer
	pcm16Header(&empty, 16000)
	empty.WriteString("data")
	binary.Write(&empty, binary.LittleEndian, uint32(0))
	empty.WriteString("LIST")
	binary.Write(&empty, binary.LittleEndian, uint32(4))
	empty.WriteString("INFO")

	info, payload, err := ReadWAVInfo(empty.Bytes())
	if err != nil {
		t.Fatalf("ReadWAVInfo(empty data) error = %v", err)
	}
	if len(payload) != 0 || info.DataSize != 0 {
		t.Fatalf("payload = %d bytes, DataSize = %d, want 0", len(payload), info.DataSize)
	}

	// A 0 size with raw samples after it is a streamed writer's placeholder.
	var streamed bytes.Buffer
	pcm16Header(&streamed, 16000)
	streamed.WriteString("data")
	binary.Write(&streamed, binary.LittleEndian, uint32(0))
	binary.Write(&streamed, binary.LittleEndian, []int16{0, 1000, -1000, 0})

	info, payload, err = ReadWAVInfo(streamed.Bytes())
	if err != nil {
		t.Fatalf("ReadWAVInfo(streamed) error = %v", err)
	}
	if len(payload) != 8 || info.DataSize != 8 {
		t.Fatalf("payload = %d bytes, DataSize = %d, want 8", len(payload), info.DataSize)
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	if _, err := ParseWAV([]byte("definitely not audio")); err == nil {
		t.Fatalf("ParseWAV() expected error for garbage input")
	}
	wav, _ := EncodeWAV([][]float32{{0}}, 8000)
	binary.LittleEndian.PutUint16(wav[34:36], 24)
	if _, err := ParseWAV(wav); err == nil {
		t.Fatalf("ParseWAV() expected error for 24-bit input")
	}
}

func TestTranscoderWrapsDecodeFailure(t *testing.T) {
	tr := NewTranscoder(WAVDecoder{})
	_, err := tr.Transcode(context.Background(), []byte("webm-ish bytes"))
	var te *TranscodeError
	if !errors.As(err, &te) {
		t.Fatalf("Transcode() error = %v, want *TranscodeError", err)
	}
	if te.Stage != "decode" {
		t.Fatalf("Stage = %q, want decode", te.Stage)
	}

	if _, err := tr.Transcode(context.Background(), nil); !errors.As(err, &te) {
		t.Fatalf("Transcode(nil) error = %v, want *TranscodeError", err)
	}
}

func TestTranscoderReencodesWAV(t *testing.T) {
	src, err := EncodeWAV([][]float32{{0.1, 0.2, -0.3}}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	out, err := NewTranscoder(nil).Transcode(context.Background(), src)
	if err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}
	if len(out) != len(src) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(src))
	}
	if !bytes.Equal(out[:44], src[:44]) {
		t.Fatalf("Transcode() changed the canonical header")
	}
}

type stubDecoder struct {
	calls int
	pcm   PCM
}

func (d *stubDecoder) Decode(context.Context, []byte) (PCM, error) {
	d.calls++
	return d.pcm, nil
}

func TestAutoDecoderRoutesNonWAVToFallback(t *testing.T) {
	fb := &stubDecoder{pcm: PCM{SampleRate: 48000, Channels: [][]float32{{0}}}}
	d := AutoDecoder{Fallback: fb}

	wav, _ := EncodeWAV([][]float32{{0}}, 8000)
	if _, err := d.Decode(context.Background(), wav); err != nil {
		t.Fatalf("Decode(wav) error = %v", err)
	}
	if fb.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0 for wav input", fb.calls)
	}

	pcm, err := d.Decode(context.Background(), []byte{0x1a, 0x45, 0xdf, 0xa3})
	if err != nil {
		t.Fatalf("Decode(webm) error = %v", err)
	}
	if fb.calls != 1 || pcm.SampleRate != 48000 {
		t.Fatalf("fallback calls = %d rate = %d, want 1 and 48000", fb.calls, pcm.SampleRate)
	}
}
