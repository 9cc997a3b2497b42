package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"talkie/audio"
	"talkie/encoder"
	"talkie/gesture"
	"talkie/log"
)

var (
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrTooShort          = errors.New("recording too short")
	ErrEmpty             = errors.New("no audio captured")
)

const (
	DefaultMinDuration = 500 * time.Millisecond
	DefaultMinBytes    = 1000
)

type State int

const (
	Idle State = iota
	Acquiring
	Recording
	Finalizing
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Clip is a finished, encoded utterance ready for upload.
type Clip struct {
	Data      []byte
	Format    string
	Source    gesture.Source
	StartedAt time.Time
	Duration  time.Duration
	PCMBytes  int
}

// Sink receives the outcome of every gesture. Calls are made without the
// controller's lock held, so a sink may call back into the controller.
type Sink interface {
	CaptureStarted(src gesture.Source)
	CaptureFinished(clip Clip)
	// CaptureFailed receives ErrDeviceUnavailable, ErrTooShort or ErrEmpty,
	// possibly wrapped.
	CaptureFailed(err error)
}

type Options struct {
	Device      *audio.DeviceInfo
	Format      string
	MinDuration time.Duration
	MinBytes    int
	Gain        int32
	Now         func() time.Time
}

type captureSession struct {
	source    gesture.Source
	startedAt time.Time
	chunks    [][]byte
	size      int
}

// Controller turns gestures into clips. The capture device is acquired on
// the first gesture and held until Close.
type Controller struct {
	ctx  audio.Context
	sink Sink
	opts Options

	mu      sync.Mutex
	state   State
	dev     audio.CaptureDevice
	sess    *captureSession
	latched bool
	closed  bool
}

func New(ctx audio.Context, sink Sink, opts Options) *Controller {
	if opts.Format == "" {
		opts.Format = encoder.FormatFLAC
	}
	if opts.MinDuration == 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.MinBytes == 0 {
		opts.MinBytes = DefaultMinBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{ctx: ctx, sink: sink, opts: opts}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle dispatches a gesture event to Begin or Stop.
func (c *Controller) Handle(ev gesture.Event) {
	if ev.IsStop() {
		c.Stop()
		return
	}
	c.Begin(ev.Source)
}

// Begin starts a capture session. It is a no-op unless the controller is
// Idle, so repeated down gestures never open a second session.
func (c *Controller) Begin(src gesture.Source) {
	c.mu.Lock()
	if c.closed || c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.state = Acquiring
	c.latched = false
	dev := c.dev
	c.mu.Unlock()

	if dev == nil {
		d, err := c.ctx.NewCapture(c.opts.Device, audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
			Gain:       c.opts.Gain,
		})
		if err != nil {
			c.unavailable(err)
			return
		}
		dev = d
		log.Info("capture device acquired")
	}

	sess := &captureSession{source: src}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(dev)
		return
	}
	c.dev = dev
	c.sess = sess
	c.mu.Unlock()

	dev.SetCallback(func(data []byte, _ uint32) { c.buffer(sess, data) })
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
		c.unavailable(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		dev.Stop()
		dev.ClearCallback()
		c.release(dev)
		return
	}
	sess.startedAt = c.opts.Now()
	c.state = Recording
	latched := c.latched
	c.mu.Unlock()

	c.sink.CaptureStarted(src)
	if latched {
		c.Stop()
	}
}

func (c *Controller) unavailable(err error) {
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
	log.Errorf("capture device: %v", err)
	c.sink.CaptureFailed(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
}

func (c *Controller) buffer(sess *captureSession, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	sess.chunks = append(sess.chunks, chunk)
	sess.size += len(chunk)
}

// Stop ends the active session from any stop trigger. It is a no-op when
// nothing is recording. A stop that arrives while the device is still being
// acquired is remembered and applied once recording begins.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case Acquiring:
		c.latched = true
		c.mu.Unlock()
		return
	case Recording:
	default:
		c.mu.Unlock()
		return
	}
	c.state = Finalizing
	sess, dev := c.sess, c.dev
	c.sess = nil
	duration := c.opts.Now().Sub(sess.startedAt)
	c.mu.Unlock()

	dev.Stop()
	dev.ClearCallback()

	clip, err := c.finalize(sess, duration)

	c.mu.Lock()
	if c.closed {
		// Close handed the device to us while we were finalizing.
		c.mu.Unlock()
		log.Info("capture discarded on teardown")
		c.release(dev)
		return
	}
	c.state = Idle
	c.mu.Unlock()

	if err != nil {
		log.Infof("capture discarded: %v (%s, %d bytes)", err, duration.Round(time.Millisecond), sess.size)
		c.sink.CaptureFailed(err)
		return
	}
	c.sink.CaptureFinished(clip)
}

func (c *Controller) finalize(sess *captureSession, duration time.Duration) (Clip, error) {
	if duration < c.opts.MinDuration {
		return Clip{}, ErrTooShort
	}
	if sess.size < c.opts.MinBytes {
		return Clip{}, ErrEmpty
	}

	pcm := make([]byte, 0, sess.size)
	for _, chunk := range sess.chunks {
		pcm = append(pcm, chunk...)
	}

	data, _, err := encoder.Encode(c.opts.Format, pcm)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: encode: %v", ErrEmpty, err)
	}
	return Clip{
		Data:      data,
		Format:    c.opts.Format,
		Source:    sess.source,
		StartedAt: sess.startedAt,
		Duration:  duration,
		PCMBytes:  len(pcm),
	}, nil
}

// Close abandons any session in progress and releases the device. Later
// gestures are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.state == Acquiring || c.state == Finalizing {
		// Begin or Stop owns the device until it observes closed.
		c.mu.Unlock()
		return
	}
	dev := c.dev
	recording := c.state == Recording
	if recording {
		c.state = Aborted
	}
	c.sess = nil
	c.mu.Unlock()

	if dev == nil {
		return
	}
	if recording {
		dev.Stop()
		dev.ClearCallback()
		log.Info("capture aborted on teardown")
	}
	c.release(dev)
}

func (c *Controller) release(dev audio.CaptureDevice) {
	dev.Close()
	c.mu.Lock()
	c.dev = nil
	c.sess = nil
	c.state = Idle
	c.mu.Unlock()
	log.Info("capture device released")
}
