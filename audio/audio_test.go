package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Evolve2", true},
		{"Headset BT ", true},
		{"Built-in Microphone", false},
		{"alsa_input.pci-0000_00_1f.3.analog-stereo", false},
	}
	for _, tt := range tests {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil)

	dev, err := FindDevice(ctx, "FAKE")
	if err != nil {
		t.Fatal(err)
	}
	if dev == nil || dev.ID != "fake" {
		t.Fatalf("got %+v, want fake device", dev)
	}

	dev, err = FindDevice(ctx, "missing")
	if err != nil || dev != nil {
		t.Errorf("got %+v, %v; want nil, nil", dev, err)
	}
}

func TestApplyGainClamps(t *testing.T) {
	if got := applyGain(20000, 4); got != 32767 {
		t.Errorf("positive clamp = %d", got)
	}
	if got := applyGain(-20000, 4); got != -32768 {
		t.Errorf("negative clamp = %d", got)
	}
	if got := applyGain(123, 0); got != 123 {
		t.Errorf("zero gain = %d, want unity", got)
	}
}

func TestFakeCaptureDeliversPCM(t *testing.T) {
	pcm := make([]byte, 5000)
	ctx := NewFakeContext(pcm)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var got int
	dev.SetCallback(func(data []byte, _ uint32) { got += len(data) })
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.Stop()
	dev.ClearCallback()

	if got != len(pcm) {
		t.Errorf("delivered %d bytes, want %d", got, len(pcm))
	}
	dev.Close()
	if err := dev.Start(); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestFakeContextFailWith(t *testing.T) {
	ctx := NewFakeContext(nil)
	boom := errors.New("permission denied")
	ctx.FailWith(boom)

	if _, err := ctx.NewCapture(nil, CaptureConfig{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if ctx.Opened() != 0 {
		t.Errorf("Opened = %d, want 0", ctx.Opened())
	}
}

func TestNewFakeContextFromWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	if err := os.WriteFile(path, []byte("not a wav file at all, definitely not 44 bytes of header"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFakeContextFromWAV(path, false); err == nil {
		t.Error("expected error for non-RIFF file")
	}
}
