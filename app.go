package main

import (
	"context"

	"talkie/api"
	"talkie/audio"
	"talkie/auth"
	"talkie/capture"
	"talkie/channel"
	"talkie/config"
	"talkie/gesture"
	"talkie/playback"
	"talkie/poller"
	"talkie/session"
	"talkie/speaker"
)

// app owns one exchange session: the capture controller, the push channel
// and the coordinator that reconciles their results.
type app struct {
	coord   *session.Coordinator
	channel *channel.Channel
	capture *capture.Controller

	// onRecording is told whether a capture is running after each gesture.
	onRecording func(on bool)
}

func newApp(cfg config.Config, client *api.Client, store *auth.Store, actx audio.Context, device *audio.DeviceInfo, view session.View, settled func()) *app {
	a := &app{}

	var cues session.Cues
	if cfg.Cues {
		speaker.Init()
		cues = speaker.Cues{}
	}

	a.coord = session.New(session.Options{
		Backend:     client,
		Channel:     a,
		Player:      playback.New(client, playback.Options{}),
		View:        view,
		Cues:        cues,
		Poller:      poller.New(cfg.PollInterval, cfg.PollAttempts),
		StatusClear: cfg.StatusClear,
		Settled:     settled,
	})
	a.channel = channel.New(channel.Options{
		ServerURL: cfg.ServerURL,
		Prefix:    cfg.APIPrefix,
		Tokens:    store,
	}, a.coord)
	a.capture = capture.New(actx, a.coord, capture.Options{
		Device:      device,
		Format:      cfg.Format,
		MinDuration: cfg.MinDuration,
		MinBytes:    cfg.MinClipBytes,
		Gain:        cfg.Gain,
	})
	return a
}

// Connected lets the coordinator read the channel it is listening to.
func (a *app) Connected() bool {
	return a.channel != nil && a.channel.Connected()
}

// run dispatches gestures in arrival order until ctx is done or events
// closes.
func (a *app) run(ctx context.Context, events <-chan gesture.Event) {
	a.channel.Start()
	go a.coord.Refresh()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.capture.Handle(ev)
			if a.onRecording != nil {
				a.onRecording(a.capture.State() == capture.Recording)
			}
		}
	}
}

// close releases the device first so no new clip can start, then stops
// reply delivery.
func (a *app) close() {
	a.capture.Close()
	a.channel.Close()
	a.coord.Close()
}
