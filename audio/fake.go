package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
	wavHeaderSize     = 44
)

// FakeContext hands out captures that replay a fixed PCM buffer. It counts
// how often a device was acquired so callers can assert on reuse.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	err      error
	opened   int
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte) *FakeContext {
	return &FakeContext{pcm: pcm}
}

// NewFakeContextFromWAV replays the samples of a 16 kHz mono WAV file.
// In realtime mode samples are paced at the capture rate and followed by
// silence, otherwise the whole file is delivered as soon as capture starts.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%s: not a WAV file", path)
	}
	return &FakeContext{pcm: data[wavHeaderSize:], realtime: realtime}, nil
}

// FailWith makes subsequent NewCapture calls return err.
func (f *FakeContext) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeContext) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.opened++
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime}
	f.captures = append(f.captures, c)
	return c, nil
}

var errFakeClosed = errors.New("fake capture closed")

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	starts   int
	closes   int
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *FakeCapture) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Feed delivers data to the current callback as if the device produced it.
func (f *FakeCapture) Feed(data []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/fakeBytesPerFrame))
	}
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.closes > 0 {
		f.mu.Unlock()
		return errFakeClosed
	}
	f.starts++
	if f.stopCh != nil {
		f.mu.Unlock()
		return nil
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stop, done := f.stopCh, f.feedDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); pos += chunkBytes {
			f.Feed(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
		}
		close(done)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / 16000
	go func() {
		defer close(done)
		silence := make([]byte, chunkBytes)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for pos := 0; ; {
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				f.Feed(f.pcm[pos:end])
				pos = end
			} else {
				f.Feed(silence)
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.feedDone
	f.stopCh, f.feedDone = nil, nil
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}
