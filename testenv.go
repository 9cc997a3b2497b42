package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"talkie/api"
	"talkie/audio"
	"talkie/auth"
	"talkie/config"
	"talkie/gesture"
	"talkie/log"
	"talkie/shutdown"
	"talkie/speaker"
)

// runTestMode drives a session from stdin with a WAV file standing in for
// the microphone. Commands, one per line:
//
//	DOWN | KEYDOWN   press the talk control
//	UP | KEYUP       release it
//	CANCEL           end the gesture off the control
//	WAIT             block until the last utterance has settled
//	SLEEP <ms>       pause the script
//	QUIT             end the session
func runTestMode(cfg config.Config, client *api.Client, store *auth.Store, wavPath string) int {
	speaker.Disable()

	actx, err := audio.NewFakeContextFromWAV(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	settled := make(chan struct{}, 16)
	a := newApp(cfg, client, store, actx, nil, &plainView{out: os.Stdout}, func() {
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	defer a.close()

	user, _ := store.User()
	log.SessionStart(cfg.ServerURL, user.Username, cfg.Format)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	client.OnUnauthorized(cancel)

	fake := gesture.NewFake()

	// Stdin driver in background; EOF ends the session like QUIT.
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmd := strings.TrimSpace(scanner.Text())
			switch cmd {
			case "":
			case "DOWN", "KEYDOWN":
				fake.Down(gesture.Key)
			case "UP", "KEYUP":
				fake.Up(gesture.Key)
			case "CANCEL":
				fake.Cancel(gesture.Global)
			case "WAIT":
				select {
				case <-settled:
				case <-ctx.Done():
					return
				}
			case "QUIT":
				return
			default:
				if ms, ok := strings.CutPrefix(cmd, "SLEEP "); ok {
					if n, err := strconv.Atoi(ms); err == nil {
						time.Sleep(time.Duration(n) * time.Millisecond)
					}
					continue
				}
				log.Warnf("test mode: unknown command %q", cmd)
			}
		}
	}()

	a.run(ctx, gesture.Merge(ctx.Done(), fake))
	return 0
}
