package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// PCM is decoded, interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// DecodeFile sniffs the container by its magic bytes and decodes it.
func DecodeFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	var magic [4]byte
	_, err = io.ReadFull(f, magic[:])
	f.Close()
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	switch string(magic[:]) {
	case "RIFF":
		data, err := os.ReadFile(path)
		if err != nil {
			return PCM{}, err
		}
		return decodeWAV(data)
	case "fLaC":
		return decodeFLAC(path)
	default:
		return PCM{}, fmt.Errorf("%w: magic %q", ErrUnsupportedFormat, magic[:])
	}
}

func decodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: not a WAVE file", ErrUnsupportedFormat)
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
	)
	r := bytes.NewReader(data[12:])
	for {
		var hdr struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return PCM{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedFormat)
		}
		body := make([]byte, min(int(hdr.Size), r.Len()))
		if _, err := io.ReadFull(r, body); err != nil {
			return PCM{}, err
		}
		if hdr.Size%2 == 1 {
			r.ReadByte()
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedFormat)
			}
			// 1 is PCM, 0xFFFE is WAVE_FORMAT_EXTENSIBLE
			if (format != 1 && format != 0xFFFE) || bits != 16 {
				return PCM{}, fmt.Errorf("%w: wav format %d, %d bits", ErrUnsupportedFormat, format, bits)
			}
			samples := make([]int16, len(body)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(body[i*2:]))
			}
			return PCM{Samples: samples, SampleRate: int(rate), Channels: int(channels)}, nil
		}
	}
}

func decodeFLAC(path string) (PCM, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return PCM{}, fmt.Errorf("parsing flac: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	shift := int(info.BitsPerSample) - 16
	out := PCM{
		Samples:    make([]int16, 0, int(info.NSamples)*channels),
		SampleRate: int(info.SampleRate),
		Channels:   channels,
	}
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return PCM{}, fmt.Errorf("decoding flac frame: %w", err)
		}
		for i := range f.Subframes[0].NSamples {
			for _, sub := range f.Subframes {
				s := sub.Samples[i]
				if shift > 0 {
					s >>= shift
				} else if shift < 0 {
					s <<= -shift
				}
				out.Samples = append(out.Samples, int16(s))
			}
		}
	}
	return out, nil
}
