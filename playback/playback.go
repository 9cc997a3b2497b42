// Package playback fetches a reply's audio and plays it once.
package playback

import (
	"context"
	"fmt"
	"mime"
	"os"
	"sync"
	"time"

	"talkie/log"
	"talkie/speaker"
)

const fetchTimeout = 30 * time.Second

// Fetcher downloads audio by reference under the session credential.
// *api.Client satisfies it.
type Fetcher interface {
	FetchAudio(ctx context.Context, ref string) ([]byte, string, error)
}

// PlayFunc renders decoded audio and blocks until it finishes.
type PlayFunc func(ctx context.Context, samples []int16, sampleRate, channels int) error

type Options struct {
	Play    PlayFunc
	TempDir string
}

// Player serializes playback; a second reply waits for the first to end.
type Player struct {
	fetch Fetcher
	opts  Options
	mu    sync.Mutex
}

func New(fetch Fetcher, opts Options) *Player {
	if opts.Play == nil {
		opts.Play = speaker.Play
	}
	return &Player{fetch: fetch, opts: opts}
}

// Play fetches ref, stages it in a temporary file and plays it. The file is
// removed whether or not playback succeeds.
func (p *Player) Play(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.play(ctx, ref)
	if err != nil {
		log.Warnf("playback %s: %v", ref, err)
	}
	return err
}

func (p *Player) play(ctx context.Context, ref string) error {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	data, contentType, err := p.fetch.FetchAudio(fctx, ref)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	f, err := os.CreateTemp(p.opts.TempDir, "talkie-reply-*"+extension(contentType))
	if err != nil {
		return err
	}
	path := f.Name()
	defer os.Remove(path)

	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	pcm, err := DecodeFile(path)
	if err != nil {
		return err
	}
	log.Infof("playing reply audio: %d samples @ %d Hz x%d", len(pcm.Samples), pcm.SampleRate, pcm.Channels)
	return p.opts.Play(ctx, pcm.Samples, pcm.SampleRate, pcm.Channels)
}

func extension(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	}
	return ".audio"
}
