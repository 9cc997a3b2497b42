package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"talkie/api"
	"talkie/audio"
	"talkie/auth"
	"talkie/channel"
	"talkie/config"
	"talkie/encoder"
	"talkie/gesture"
	"talkie/shutdown"
)

const (
	checkTimeout = 10 * time.Second
	micSeconds   = 3
)

type doctor struct {
	cfg    config.Config
	store  *auth.Store
	client *api.Client
	out    io.Writer
	in     *bufio.Reader
	step   int
	steps  int
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config, store *auth.Store, client *api.Client) int {
	resetTerminal()
	setupInterruptHandler()

	d := &doctor{
		cfg:    cfg,
		store:  store,
		client: client,
		out:    os.Stdout,
		in:     bufio.NewReader(os.Stdin),
		steps:  5,
	}

	fmt.Fprintln(d.out, "talkie doctor - connectivity and device diagnostics")
	fmt.Fprintln(d.out, "===================================================")

	allPass := d.checkServer()
	tokenOK := d.checkToken()
	allPass = allPass && tokenOK
	if tokenOK && !d.checkChannel() {
		allPass = false
	}
	if !d.checkKeyboard() {
		allPass = false
	}
	if !d.checkMic() {
		allPass = false
	}

	fmt.Fprintln(d.out)
	if allPass {
		fmt.Fprintln(d.out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(d.out, "Some checks failed. See details above.")
	return 1
}

func (d *doctor) header(title string) {
	d.step++
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "[%d/%d] %s\n", d.step, d.steps, title)
}

func (d *doctor) pass(format string, args ...any) bool {
	fmt.Fprintf(d.out, "  PASS: "+format+"\n", args...)
	return true
}

func (d *doctor) fail(format string, args ...any) bool {
	fmt.Fprintf(d.out, "  FAIL: "+format+"\n", args...)
	return false
}

func (d *doctor) checkServer() bool {
	d.header("Server reachability")
	fmt.Fprintf(d.out, "  %s\n", d.cfg.ServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	start := time.Now()
	if err := d.client.Health(ctx); err != nil {
		return d.fail("%v", err)
	}
	return d.pass("healthy (%dms)", time.Since(start).Milliseconds())
}

func (d *doctor) checkToken() bool {
	d.header("Session")
	if !d.store.LoggedIn() {
		return d.fail("not logged in (run talkie -login <user>)")
	}
	claims, err := d.store.Claims()
	if err != nil {
		return d.fail("%v", err)
	}
	if claims.ExpiresAt.IsZero() {
		return d.pass("logged in as %s", claims.Username)
	}
	return d.pass("logged in as %s, expires %s", claims.Username, claims.ExpiresAt.Local().Format(time.DateTime))
}

func (d *doctor) checkChannel() bool {
	d.header("Push channel")
	u, err := channel.URL(d.cfg.ServerURL, d.cfg.APIPrefix, d.store.Token())
	if err != nil {
		return d.fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: checkTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return d.fail("handshake rejected: %s", resp.Status)
		}
		return d.fail("%v", err)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	return d.pass("connected to %s://%s", u.Scheme, u.Host)
}

func (d *doctor) checkKeyboard() bool {
	d.header("Push-to-talk key")
	if msg, err := gesture.Diagnose(); err != nil {
		return d.fail("%v", err)
	} else if msg != "" {
		fmt.Fprintf(d.out, "  %s\n", msg)
	}
	fmt.Fprintln(d.out, "Press and release Ctrl+Shift+Space...")

	kb := gesture.NewKeyboard()
	if err := kb.Register(); err != nil {
		return d.fail("could not register key: %v", err)
	}
	defer kb.Unregister()

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-kb.Events():
			if ev.IsStop() {
				// the key grab may leave the terminal in raw mode
				resetTerminal()
				return d.pass("key press and release detected")
			}
		case <-timeout:
			return d.fail("timeout waiting for key")
		}
	}
}

func (d *doctor) checkMic() bool {
	d.header("Microphone")

	ctx, err := audio.NewContext()
	if err != nil {
		return d.fail("cannot connect to audio: %v", err)
	}
	defer ctx.Close()

	var device *audio.DeviceInfo
	if d.cfg.Device != "" {
		device, err = audio.FindDevice(ctx, d.cfg.Device)
		if err != nil {
			return d.fail("cannot list devices: %v", err)
		}
		if device == nil {
			return d.fail("device %q not found", d.cfg.Device)
		}
		fmt.Fprintf(d.out, "Using device: %s\n", device.Name)
	} else {
		devices, err := ctx.Devices()
		if err != nil {
			return d.fail("cannot list devices: %v", err)
		}
		if len(devices) == 0 {
			return d.fail("no capture devices found")
		}
		fmt.Fprintln(d.out, "Using the default input device")
	}

	fmt.Fprintf(d.out, "Press Enter and speak for %d seconds...", micSeconds)
	d.in.ReadString('\n')

	stop := make(chan struct{})
	time.AfterFunc(micSeconds*time.Second, func() { close(stop) })
	pcm, err := d.record(ctx, device, stop)
	if err != nil {
		return d.fail("recording error: %v", err)
	}
	if len(pcm) < d.cfg.MinClipBytes {
		return d.fail("no audio captured (%d bytes)", len(pcm))
	}

	peak := peakLevel(pcm)
	fmt.Fprintf(d.out, "  Recorded %.1f KB, peak %d%%\n", float64(len(pcm))/1024, peak*100/32768)
	if peak < 64 {
		return d.fail("input is silent; check the device and its gain")
	}
	return d.pass("microphone is capturing")
}

func (d *doctor) record(ctx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var pcm []byte
	var mu sync.Mutex

	dev, err := ctx.NewCapture(device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       d.cfg.Gain,
	})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		pcm = append(pcm, data...)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		return nil, err
	}

	fmt.Fprint(d.out, "  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-stop:
			break wait
		case <-ticker.C:
			fmt.Fprint(d.out, ".")
		}
	}
	dev.Stop()
	dev.ClearCallback()
	fmt.Fprintln(d.out, " done")

	mu.Lock()
	defer mu.Unlock()
	return pcm, nil
}

// peakLevel is the largest absolute sample in little-endian 16-bit PCM.
func peakLevel(pcm []byte) int {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return peak
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		println("\nInterrupted")
		os.Exit(1)
	}()
}
