//go:build !linux

package speaker

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx  *malgo.AllocatedContext
	malgoErr  error
	malgoOnce sync.Once
	playMu    sync.Mutex
)

func initContext() {
	malgoCtx, malgoErr = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
}

func play(ctx context.Context, samples []int16, sampleRate, channels int) error {
	malgoOnce.Do(initContext)
	if malgoErr != nil {
		return fmt.Errorf("malgo playback: %w", malgoErr)
	}

	playMu.Lock()
	defer playMu.Unlock()

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	var pos atomic.Uint32
	done := make(chan struct{})
	var doneOnce sync.Once
	frameBytes := uint32(channels * 2)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(channels)
	config.SampleRate = uint32(sampleRate)

	onData := func(pOutput, _ []byte, frameCount uint32) {
		p := pos.Load()
		total := uint32(len(buf))
		want := frameCount * frameBytes
		n := min(want, total-p)
		copy(pOutput[:n], buf[p:p+n])
		for i := n; i < want; i++ {
			pOutput[i] = 0
		}
		pos.Store(p + n)
		if p+n >= total {
			doneOnce.Do(func() { close(done) })
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, config, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer device.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
