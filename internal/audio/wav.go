package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	formatPCM     = 1
	formatFloat   = 3
	formatExt     = 0xFFFE
)

// PCM is decoded multichannel audio. Channels[c][i] is sample i of channel c in [-1, 1].
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the per-channel sample count.
func (p PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// EncodeWAV renders float samples as a 16-bit linear PCM RIFF/WAVE stream.
// The output is a pure function of its input.
func EncodeWAV(samples [][]float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVTo writes samples to out as a canonical 44-byte-header WAV stream.
func WriteWAVTo(out io.Writer, samples [][]float32, sampleRate int) error {
	numChannels := len(samples)
	if numChannels == 0 {
		return errors.New("encode wav: no channels")
	}
	if numChannels > math.MaxUint16 {
		return fmt.Errorf("encode wav: too many channels (%d)", numChannels)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("encode wav: sample rate must be positive, got %d", sampleRate)
	}
	frames := len(samples[0])
	for c := 1; c < numChannels; c++ {
		if len(samples[c]) != frames {
			return fmt.Errorf("encode wav: channel %d has %d samples, want %d", c, len(samples[c]), frames)
		}
	}

	blockAlign := numChannels * bitsPerSample / 8
	dataSize := uint64(frames) * uint64(blockAlign)
	if dataSize > math.MaxUint32-wavHeaderSize {
		return fmt.Errorf("encode wav: payload too large (%d bytes)", dataSize)
	}
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	w := bufio.NewWriter(out)

	// RIFF header.
	w.WriteString("RIFF")
	writeU32(w, uint32(wavHeaderSize-8)+uint32(dataSize))
	w.WriteString("WAVE")

	// fmt chunk.
	w.WriteString("fmt ")
	writeU32(w, 16)
	writeU16(w, formatPCM)
	writeU16(w, uint16(numChannels))
	writeU32(w, uint32(sampleRate))
	writeU32(w, byteRate)
	writeU16(w, uint16(blockAlign))
	writeU16(w, bitsPerSample)

	// data chunk.
	w.WriteString("data")
	writeU32(w, uint32(dataSize))

	var frame [2]byte
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			binary.LittleEndian.PutUint16(frame[:], uint16(FloatToPCM16(samples[c][i])))
			w.Write(frame[:])
		}
	}
	// bufio.Writer keeps the first write error and reports it here.
	return w.Flush()
}

// FloatToPCM16 clamps s to [-1, 1] and scales it to a signed 16-bit value,
// using 32768 for negative samples and 32767 otherwise. Fractions truncate toward zero.
func FloatToPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// PCM16ToFloat is the inverse scaling of FloatToPCM16.
func PCM16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(float64(v) / 32768)
	}
	return float32(float64(v) / 32767)
}

func writeU16(w *bufio.Writer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeU32(w *bufio.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

// WAVInfo holds the fmt chunk fields of a WAV stream.
type WAVInfo struct {
	AudioFormat   uint16 `json:"audio_format"`
	NumChannels   uint16 `json:"channels"`
	SampleRate    uint32 `json:"sample_rate"`
	ByteRate      uint32 `json:"byte_rate"`
	BlockAlign    uint16 `json:"block_align"`
	BitsPerSample uint16 `json:"bits_per_sample"`
	DataSize      uint32 `json:"data_size_bytes"`
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ReadWAVInfo walks the chunk list and returns the format description together with
// the raw data chunk payload.
func ReadWAVInfo(data []byte) (WAVInfo, []byte, error) {
	if !IsWAV(data) {
		return WAVInfo{}, nil, errors.New("invalid wav: missing RIFF/WAVE header")
	}

	var (
		info    WAVInfo
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		end := len(data)
		switch {
		case id == "data" && streamedDataSize(data, body, size):
			// Streamed writers (ffmpeg to a pipe) cannot seek back to fill in the size.
		case uint64(body)+uint64(size) <= uint64(len(data)):
			end = body + int(size)
		case id != "data":
			return WAVInfo{}, nil, fmt.Errorf("invalid wav: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return WAVInfo{}, nil, errors.New("invalid wav: short fmt chunk")
			}
			f := data[body:end]
			info.AudioFormat = binary.LittleEndian.Uint16(f[0:2])
			info.NumChannels = binary.LittleEndian.Uint16(f[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(f[4:8])
			info.ByteRate = binary.LittleEndian.Uint32(f[8:12])
			info.BlockAlign = binary.LittleEndian.Uint16(f[12:14])
			info.BitsPerSample = binary.LittleEndian.Uint16(f[14:16])
			if info.AudioFormat == formatExt && len(f) >= 26 {
				info.AudioFormat = binary.LittleEndian.Uint16(f[24:26])
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, errors.New("invalid wav: data chunk before fmt chunk")
			}
			payload := data[body:end]
			info.DataSize = uint32(len(payload))
			return info, payload, nil
		}

		pos = end
		if size%2 == 1 && pos < len(data) {
			pos++
		}
	}
	if !haveFmt {
		return WAVInfo{}, nil, errors.New("invalid wav: missing fmt chunk")
	}
	return WAVInfo{}, nil, errors.New("invalid wav: missing data chunk")
}

// streamedDataSize reports whether a data chunk size is a placeholder. 0xFFFFFFFF
// always is; 0 is only when no well-formed chunk header follows, otherwise the chunk
// is genuinely empty.
func streamedDataSize(data []byte, body int, size uint32) bool {
	switch size {
	case math.MaxUint32:
		return true
	case 0:
		return !chunkHeaderAt(data, body)
	default:
		return false
	}
}

func chunkHeaderAt(data []byte, pos int) bool {
	if pos+8 > len(data) {
		return false
	}
	for _, c := range data[pos : pos+4] {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
	return uint64(pos)+8+uint64(size) <= uint64(len(data))
}

// ParseWAV decodes a PCM16 or IEEE float32 WAV stream into float samples.
func ParseWAV(data []byte) (PCM, error) {
	info, payload, err := ReadWAVInfo(data)
	if err != nil {
		return PCM{}, err
	}
	if info.NumChannels == 0 {
		return PCM{}, errors.New("invalid wav: zero channels")
	}
	if info.SampleRate == 0 {
		return PCM{}, errors.New("invalid wav: zero sample rate")
	}

	var width int
	switch {
	case info.AudioFormat == formatPCM && info.BitsPerSample == 16:
		width = 2
	case info.AudioFormat == formatFloat && info.BitsPerSample == 32:
		width = 4
	default:
		return PCM{}, fmt.Errorf("unsupported wav encoding: format %d, %d bits", info.AudioFormat, info.BitsPerSample)
	}

	channels := int(info.NumChannels)
	frameSize := width * channels
	frames := len(payload) / frameSize
	out := PCM{
		SampleRate: int(info.SampleRate),
		Channels:   make([][]float32, channels),
	}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * frameSize
		for c := 0; c < channels; c++ {
			off := base + c*width
			if width == 2 {
				out.Channels[c][i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(payload[off : off+2])))
			} else {
				out.Channels[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4]))
			}
		}
	}
	return out, nil
}
