// Package speaker plays short cue tones and decoded reply audio through
// the default output device.
package speaker

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

var ErrUnsupported = errors.New("unsupported channel layout")

var disabled atomic.Bool

// Disable turns every Play and cue into a no-op, for headless runs.
func Disable() { disabled.Store(true) }

const (
	cueRate = 44100

	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End cue: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	cueOnce      sync.Once
)

func initCues() {
	// 200ms tails leave room for the output buffer to fill
	startSamples = Tick(cueRate, startFreq, 0.2, startVolume, startDecay)
	endSamples = Tick(cueRate, endFreq, 0.2, endVolume, endDecay)
	errorSamples = DoubleBeep(cueRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// Tick renders a mono sine burst with exponential decay.
func Tick(sampleRate int, freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range n {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

// DoubleBeep is two ticks separated by gap seconds of silence.
func DoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := Tick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

// Init renders the cue tones ahead of first use.
func Init() {
	cueOnce.Do(initCues)
}

func PlayStart() { playCue(&startSamples) }
func PlayEnd()   { playCue(&endSamples) }
func PlayError() { playCue(&errorSamples) }

func playCue(samples *[]int16) {
	if disabled.Load() {
		return
	}
	cueOnce.Do(initCues)
	go play(context.Background(), *samples, cueRate, 1)
}

// Play writes interleaved 16-bit samples to the output device and blocks
// until they have drained or ctx is done.
func Play(ctx context.Context, samples []int16, sampleRate, channels int) error {
	if len(samples) == 0 || disabled.Load() {
		return nil
	}
	if channels != 1 && channels != 2 {
		return ErrUnsupported
	}
	return play(ctx, samples, sampleRate, channels)
}

// Cues exposes the cue tones as methods.
type Cues struct{}

func (Cues) Start() { PlayStart() }
func (Cues) End()   { PlayEnd() }
func (Cues) Error() { PlayError() }
