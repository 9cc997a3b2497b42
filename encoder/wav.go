package encoder

import (
	"bytes"
	"encoding/binary"
)

const WAVHeaderSize = 44

// WavEncoder writes a canonical 16-bit PCM RIFF file. The header is
// finalized on Close once the data size is known.
type WavEncoder struct {
	pcm         bytes.Buffer
	out         []byte
	totalFrames uint64
}

func NewWav() *WavEncoder {
	return &WavEncoder{}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	var b [2]byte
	for _, s := range block {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		e.pcm.Write(b[:])
	}
	e.totalFrames += uint64(len(block)) / Channels
	return nil
}

func (e *WavEncoder) Close() error {
	if e.out != nil {
		return nil
	}
	e.out = append(WAVHeader(e.pcm.Len(), SampleRate, Channels), e.pcm.Bytes()...)
	return nil
}

func (e *WavEncoder) Bytes() []byte       { return e.out }
func (e *WavEncoder) TotalFrames() uint64 { return e.totalFrames }

func WAVHeader(dataSize, sampleRate, channels int) []byte {
	blockAlign := channels * BitsPerSample / 8
	buf := make([]byte, WAVHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
