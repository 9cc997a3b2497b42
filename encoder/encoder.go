package encoder

import (
	"encoding/binary"
	"fmt"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
}

func New(format string) (Encoder, error) {
	switch format {
	case FormatFLAC:
		return NewFlac()
	case FormatWAV:
		return NewWav(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (use flac or wav)", format)
	}
}

func ContentType(format string) string {
	switch format {
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Encode assembles little-endian 16-bit PCM into a single clip.
func Encode(format string, pcm []byte) ([]byte, uint64, error) {
	enc, err := New(format)
	if err != nil {
		return nil, 0, err
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	for start := 0; start < len(samples); start += BlockSize {
		end := min(start+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[start:end]); err != nil {
			return nil, 0, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, 0, err
	}
	return enc.Bytes(), enc.TotalFrames(), nil
}
