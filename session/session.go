// Package session ties capture, upload and reply delivery together. It is
// the one place where a push reply and a polled reply for the same
// utterance meet, and only the first of them is applied.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"talkie/api"
	"talkie/capture"
	"talkie/channel"
	"talkie/gesture"
	"talkie/log"
	"talkie/poller"
)

const DefaultStatusClear = 3 * time.Second

const (
	sourcePush = "push"
	sourcePoll = "poll"
)

// Backend is the authenticated HTTP surface. *api.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, correlationID string, clip []byte, format string) (*api.Ack, error)
	PollReply(ctx context.Context, correlationID string, messageID api.MessageID) (*api.PollResult, error)
	History(ctx context.Context) ([]api.HistoryEntry, error)
}

// Connectivity reports whether the push channel can deliver right now.
type Connectivity interface {
	Connected() bool
}

type Player interface {
	Play(ctx context.Context, ref string) error
}

// View receives everything the user sees. Calls may come from any
// goroutine.
type View interface {
	Status(msg string)
	Reply(text string)
	History(entries []api.HistoryEntry)
	Connectivity(s channel.State)
}

// Cues are the audible recording transitions. speaker.Cues satisfies it.
type Cues interface {
	Start()
	End()
	Error()
}

type Timer interface {
	Stop() bool
}

type Options struct {
	Backend     Backend
	Channel     Connectivity
	Player      Player
	View        View
	Cues        Cues
	Poller      *poller.Poller
	StatusClear time.Duration
	NewID       func() string
	AfterFunc   func(d time.Duration, f func()) Timer
	// Settled, if set, runs once each time a gesture's outcome is final:
	// a reply was applied and played, the capture was rejected, the
	// upload failed, or polling ended without a reply.
	Settled func()
}

// pending is the one utterance awaiting its reply.
type pending struct {
	correlationID string
	messageID     api.MessageID
	text          string
	uploadedAt    time.Time
	polling       bool
}

// Coordinator implements capture.Sink and channel.Listener.
type Coordinator struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	pending     *pending
	statusGen   int
	statusTimer Timer
	lastReply   string
	utterances  int
	closed      bool

	// inflight holds uploads still waiting for their ack, keyed by
	// correlation id, with any push reply that beat the ack.
	inflight map[string]*channel.Event
}

var (
	_ capture.Sink     = (*Coordinator)(nil)
	_ channel.Listener = (*Coordinator)(nil)
)

func New(opts Options) *Coordinator {
	if opts.Poller == nil {
		opts.Poller = poller.New(poller.DefaultInterval, poller.DefaultAttempts)
	}
	if opts.StatusClear <= 0 {
		opts.StatusClear = DefaultStatusClear
	}
	if opts.NewID == nil {
		opts.NewID = newCorrelationID
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{opts: opts, ctx: ctx, cancel: cancel, inflight: map[string]*channel.Event{}}
}

// newCorrelationID is a UUIDv7: a millisecond timestamp followed by random
// bits.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Pending returns the correlation id of the utterance awaiting a reply.
func (c *Coordinator) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.correlationID, true
}

// LastReply is the text of the most recently applied reply.
func (c *Coordinator) LastReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReply
}

func (c *Coordinator) CaptureStarted(src gesture.Source) {
	log.Infof("recording (%s)", src)
	c.cue(Cues.Start)
	c.setStatus("● recording")
}

func (c *Coordinator) CaptureFailed(err error) {
	defer c.settled()
	c.cue(Cues.Error)
	switch {
	case errors.Is(err, capture.ErrTooShort):
		c.flash("too short")
	case errors.Is(err, capture.ErrEmpty):
		c.flash("no audio captured")
	case errors.Is(err, capture.ErrDeviceUnavailable):
		c.flash("microphone unavailable")
	default:
		c.flash(err.Error())
	}
}

// CaptureFinished uploads the clip in the background so the controller
// returns to Idle at once.
func (c *Coordinator) CaptureFinished(clip capture.Clip) {
	c.cue(Cues.End)
	if !c.track() {
		return
	}
	c.setStatus("uploading…")
	go func() {
		defer c.wg.Done()
		c.upload(clip)
	}()
}

func (c *Coordinator) upload(clip capture.Clip) {
	cid := c.opts.NewID()
	c.mu.Lock()
	c.inflight[cid] = nil
	c.mu.Unlock()

	ack, err := c.opts.Backend.Upload(c.ctx, cid, clip.Data, clip.Format)
	if err != nil {
		c.mu.Lock()
		delete(c.inflight, cid)
		c.mu.Unlock()
		if c.ctx.Err() != nil {
			return
		}
		log.Errorf("upload %s: %v", cid, err)
		c.cue(Cues.Error)
		c.flash(uploadMessage(err))
		c.settled()
		return
	}

	p := &pending{
		correlationID: cid,
		messageID:     ack.MessageID,
		text:          ack.Text,
		uploadedAt:    time.Now(),
	}
	connected := c.opts.Channel != nil && c.opts.Channel.Connected()

	c.mu.Lock()
	early := c.inflight[cid]
	delete(c.inflight, cid)
	if c.closed {
		c.mu.Unlock()
		return
	}
	if old := c.pending; old != nil {
		log.Infof("utterance %s superseded by %s", old.correlationID, cid)
	}
	c.pending = p
	c.utterances++
	p.polling = !connected && early == nil
	c.mu.Unlock()

	c.setStatus(fmt.Sprintf("✓ %s (awaiting reply)", ack.Text))

	if early != nil {
		c.Reply(*early)
		return
	}
	if p.polling && c.track() {
		go func() {
			defer c.wg.Done()
			c.poll(p)
		}()
	}
}

func uploadMessage(err error) string {
	var ue *api.UploadError
	if errors.As(err, &ue) && ue.Detail != "" {
		return "upload failed: " + ue.Detail
	}
	return "upload failed"
}

func (c *Coordinator) poll(p *pending) {
	fetch := func(ctx context.Context) (*api.PollResult, error) {
		return c.opts.Backend.PollReply(ctx, p.correlationID, p.messageID)
	}
	res := c.opts.Poller.Run(c.ctx, fetch, func() bool { return !c.isPending(p) })
	log.PollOutcome(p.correlationID, res.Outcome.String(), res.Attempts)

	switch res.Outcome {
	case poller.Ready:
		c.apply(p, reply{
			source:    sourcePoll,
			messageID: res.Reply.MessageID,
			text:      res.Reply.Reply,
			audio:     res.Reply.ReplyAudio,
		})
	case poller.Timeout:
		if !c.release(p) {
			return
		}
		c.cue(Cues.Error)
		c.flash("no reply (timed out)")
		c.refresh()
		c.settled()
	case poller.Failed:
		// The push path stays armed; only the fallback gave up.
		if !c.isPending(p) {
			return
		}
		log.Errorf("poll %s: %v", p.correlationID, res.Err)
		c.flash("reply check failed")
		c.settled()
	}
}

func (c *Coordinator) isPending(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending == p
}

// release clears p if it is still the pending utterance.
func (c *Coordinator) release(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	return true
}

func (c *Coordinator) ChannelState(s channel.State) {
	if c.opts.View != nil {
		c.opts.View.Connectivity(s)
	}
}

// Reply takes a pushed reply. It must not block the channel's reader, so
// the follow-up work runs in the background.
func (c *Coordinator) Reply(ev channel.Event) {
	c.mu.Lock()
	p := c.pending
	if ev.CorrelationID != "" && (p == nil || p.correlationID != ev.CorrelationID) {
		// The push can overtake the upload's ack; hold it until the ack
		// lands. Only the first one per upload is kept.
		if held, ok := c.inflight[ev.CorrelationID]; ok {
			if held == nil {
				c.inflight[ev.CorrelationID] = &ev
			}
			c.mu.Unlock()
			log.Infof("reply for %s arrived before its ack, holding", ev.CorrelationID)
			return
		}
	}
	c.mu.Unlock()

	if p == nil {
		log.ReplyDiscarded(sourcePush, "no pending utterance")
		return
	}
	if ev.CorrelationID != "" && ev.CorrelationID != p.correlationID {
		log.ReplyDiscarded(sourcePush, "stale correlation id "+ev.CorrelationID)
		return
	}
	if ev.MessageID != "" && p.messageID != "" && ev.MessageID != p.messageID {
		log.ReplyDiscarded(sourcePush, "stale message id "+string(ev.MessageID))
		return
	}
	c.apply(p, reply{
		source:    sourcePush,
		messageID: ev.MessageID,
		text:      ev.Reply,
		audio:     ev.ReplyAudio,
	})
}

type reply struct {
	source    string
	messageID api.MessageID
	text      string
	audio     string
}

// apply reconciles r against p. Only the first reply for p gets past the
// pending check; every later one is discarded.
func (c *Coordinator) apply(p *pending, r reply) {
	c.mu.Lock()
	if c.closed || c.pending != p {
		c.mu.Unlock()
		log.ReplyDiscarded(r.source, "already answered")
		return
	}
	c.pending = nil
	c.lastReply = r.text
	c.mu.Unlock()

	log.ReplyApplied(p.correlationID, r.source, r.audio != "")
	log.ReplyText(r.text)
	if c.opts.View != nil {
		c.opts.View.Reply(r.text)
	}
	c.setStatus("")

	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		entries := c.refresh()
		if ref := playbackRef(p, r, entries); ref != "" && c.opts.Player != nil {
			c.opts.Player.Play(c.ctx, ref)
		}
		c.settled()
	}()
}

// playbackRef picks the single audio reference to play for a reconciled
// reply. Pushed audio is played as is; otherwise the refreshed history's
// newest entry wins when it is this utterance, falling back to whatever
// audio the reply itself carried.
func playbackRef(p *pending, r reply, entries []api.HistoryEntry) string {
	if r.source == sourcePush && r.audio != "" {
		return r.audio
	}
	if len(entries) > 0 {
		newest := entries[0]
		id := p.messageID
		if id == "" {
			id = r.messageID
		}
		if newest.ReplyAudio != "" && (id == "" || newest.ID == id) {
			return newest.ReplyAudio
		}
	}
	return r.audio
}

// refresh re-reads the server's history and hands it to the view.
func (c *Coordinator) refresh() []api.HistoryEntry {
	entries, err := c.opts.Backend.History(c.ctx)
	if err != nil {
		if c.ctx.Err() == nil {
			log.Warnf("history refresh: %v", err)
		}
		return nil
	}
	if c.opts.View != nil {
		c.opts.View.History(entries)
	}
	return entries
}

// Refresh loads the history for display, e.g. at startup.
func (c *Coordinator) Refresh() {
	if !c.track() {
		return
	}
	defer c.wg.Done()
	c.refresh()
}

func (c *Coordinator) settled() {
	if c.opts.Settled != nil {
		c.opts.Settled()
	}
}

func (c *Coordinator) cue(f func(Cues)) {
	if c.opts.Cues != nil {
		f(c.opts.Cues)
	}
}

// setStatus shows msg until the next status change.
func (c *Coordinator) setStatus(msg string) {
	c.mu.Lock()
	c.statusGen++
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.mu.Unlock()
	c.show(msg)
}

// flash shows msg and clears it after StatusClear unless another status
// replaced it first.
func (c *Coordinator) flash(msg string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.statusGen++
	gen := c.statusGen
	if c.statusTimer != nil {
		c.statusTimer.Stop()
	}
	c.statusTimer = c.opts.AfterFunc(c.opts.StatusClear, func() {
		c.mu.Lock()
		current := gen == c.statusGen
		if current {
			c.statusTimer = nil
		}
		c.mu.Unlock()
		if current {
			c.show("")
		}
	})
	c.mu.Unlock()
	c.show(msg)
}

func (c *Coordinator) show(msg string) {
	if c.opts.View != nil {
		c.opts.View.Status(msg)
	}
}

// track registers a background task unless the coordinator is closed.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// Close cancels uploads, polls and playback in flight and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	clear(c.inflight)
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	n := c.utterances
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	log.SessionEnd(n)
}
