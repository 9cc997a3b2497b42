package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"talkie/api"
	"talkie/capture"
	"talkie/channel"
	"talkie/gesture"
	"talkie/poller"
)

type fakeBackend struct {
	mu        sync.Mutex
	uploads   []string
	uploadErr error
	acks      map[string]*api.Ack
	polls     []string
	poll      func(n int) (*api.PollResult, error)
	history   []api.HistoryEntry
	refreshes int
	// beforeAck runs after the server has the clip but before the client
	// sees the ack.
	beforeAck func(cid string)
}

func (b *fakeBackend) Upload(_ context.Context, cid string, clip []byte, format string) (*api.Ack, error) {
	b.mu.Lock()
	b.uploads = append(b.uploads, cid)
	n := len(b.uploads)
	err, ack, beforeAck := b.uploadErr, b.acks[cid], b.beforeAck
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if beforeAck != nil {
		beforeAck(cid)
	}
	if ack != nil {
		return ack, nil
	}
	return &api.Ack{Text: "hello", MessageID: api.MessageID(fmt.Sprint(n)), CorrelationID: cid}, nil
}

func (b *fakeBackend) PollReply(_ context.Context, cid string, _ api.MessageID) (*api.PollResult, error) {
	b.mu.Lock()
	b.polls = append(b.polls, cid)
	n := len(b.polls)
	poll := b.poll
	b.mu.Unlock()
	if poll == nil {
		return &api.PollResult{Status: api.ReplyWaiting}, nil
	}
	return poll(n)
}

func (b *fakeBackend) History(context.Context) ([]api.HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++
	return b.history, nil
}

func (b *fakeBackend) counts() (uploads, polls, refreshes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads), len(b.polls), b.refreshes
}

type fakeChannel struct{ connected atomic.Bool }

func (f *fakeChannel) Connected() bool { return f.connected.Load() }

type fakePlayer struct {
	mu   sync.Mutex
	refs []string
}

func (p *fakePlayer) Play(_ context.Context, ref string) error {
	p.mu.Lock()
	p.refs = append(p.refs, ref)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.refs)
}

type fakeView struct {
	mu        sync.Mutex
	statuses  []string
	replies   []string
	histories int
	states    []channel.State
}

func (v *fakeView) Status(msg string) {
	v.mu.Lock()
	v.statuses = append(v.statuses, msg)
	v.mu.Unlock()
}

func (v *fakeView) Reply(text string) {
	v.mu.Lock()
	v.replies = append(v.replies, text)
	v.mu.Unlock()
}

func (v *fakeView) History([]api.HistoryEntry) {
	v.mu.Lock()
	v.histories++
	v.mu.Unlock()
}

func (v *fakeView) Connectivity(s channel.State) {
	v.mu.Lock()
	v.states = append(v.states, s)
	v.mu.Unlock()
}

func (v *fakeView) status() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

func (v *fakeView) replyTexts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.replies)
}

type fakeTimer struct {
	f       func()
	d       time.Duration
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{f: f, d: d}
	ft.mu.Lock()
	ft.timers = append(ft.timers, t)
	ft.mu.Unlock()
	return t
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.timers[i]
}

type harness struct {
	c       *Coordinator
	backend *fakeBackend
	ch      *fakeChannel
	player  *fakePlayer
	view    *fakeView
	timers  *fakeTimers
	sleeps  chan chan struct{}
}

// newHarness builds a coordinator whose poller waits are released by the
// test through h.sleeps when gated is set, and return at once otherwise.
func newHarness(t *testing.T, connected, gated bool) *harness {
	t.Helper()
	h := &harness{
		backend: &fakeBackend{acks: map[string]*api.Ack{}},
		ch:      &fakeChannel{},
		player:  &fakePlayer{},
		view:    &fakeView{},
		timers:  &fakeTimers{},
		sleeps:  make(chan chan struct{}, 1),
	}
	h.ch.connected.Store(connected)

	p := poller.New(time.Second, 60)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if !gated {
			return nil
		}
		release := make(chan struct{})
		select {
		case h.sleeps <- release:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var ids atomic.Int32
	h.c = New(Options{
		Backend:   h.backend,
		Channel:   h.ch,
		Player:    h.player,
		View:      h.view,
		Poller:    p,
		NewID:     func() string { return fmt.Sprintf("cid-%d", ids.Add(1)) },
		AfterFunc: h.timers.AfterFunc,
	})
	t.Cleanup(h.c.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (v *fakeView) count(msg string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, s := range v.statuses {
		if s == msg {
			n++
		}
	}
	return n
}

const awaitingHello = "✓ hello (awaiting reply)"

// speak finishes a capture and waits for its acknowledgment. The reply may
// already have been reconciled by the time it returns.
func (h *harness) speak(t *testing.T) string {
	t.Helper()
	before, _, _ := h.backend.counts()
	acked := h.view.count(awaitingHello)
	h.c.CaptureFinished(capture.Clip{Data: make([]byte, 5000), Format: "wav"})
	waitFor(t, "acknowledgment", func() bool { return h.view.count(awaitingHello) > acked })
	return fmt.Sprintf("cid-%d", before+1)
}

func TestAckShowsAwaitingStatus(t *testing.T) {
	h := newHarness(t, true, false)

	cid := h.speak(t)

	if cid != "cid-1" {
		t.Errorf("correlation id = %q", cid)
	}
	if got := h.view.status(); got != awaitingHello {
		t.Errorf("status = %q", got)
	}
	h.c.Close()
	if _, polls, _ := h.backend.counts(); polls != 0 {
		t.Errorf("polled %d times while connected", polls)
	}
}

func TestPushReplyAppliedOnce(t *testing.T) {
	h := newHarness(t, true, false)
	h.speak(t)

	ev := channel.Event{Reply: "hi", ReplyAudio: "/x"}
	h.c.Reply(ev)
	h.c.Reply(ev)
	h.c.Close()

	if got := h.view.replyTexts(); !slices.Equal(got, []string{"hi"}) {
		t.Errorf("replies = %v", got)
	}
	if got := h.player.played(); !slices.Equal(got, []string{"/x"}) {
		t.Errorf("played = %v, want [/x]", got)
	}
	if _, _, refreshes := h.backend.counts(); refreshes != 1 {
		t.Errorf("history refreshed %d times, want 1", refreshes)
	}
	if h.c.LastReply() != "hi" {
		t.Errorf("LastReply = %q", h.c.LastReply())
	}
}

func TestPushBeforeAckIsApplied(t *testing.T) {
	for _, connected := range []bool{true, false} {
		t.Run(fmt.Sprintf("connected=%v", connected), func(t *testing.T) {
			h := newHarness(t, connected, true)
			h.backend.beforeAck = func(cid string) {
				ev := channel.Event{CorrelationID: cid, Reply: "hi", ReplyAudio: "/x"}
				h.c.Reply(ev)
				h.c.Reply(ev)
			}

			h.speak(t)
			waitFor(t, "reply", func() bool { return len(h.player.played()) == 1 })
			h.c.Close()

			if got := h.view.replyTexts(); !slices.Equal(got, []string{"hi"}) {
				t.Errorf("replies = %v, want [hi]", got)
			}
			if cid, ok := h.c.Pending(); ok {
				t.Errorf("utterance %s still pending", cid)
			}
			if got := h.player.played(); !slices.Equal(got, []string{"/x"}) {
				t.Errorf("played = %v", got)
			}
			if _, polls, _ := h.backend.counts(); polls != 0 {
				t.Errorf("polled %d times for an answered utterance", polls)
			}
		})
	}
}

func TestEarlyPushForFailedUploadDropped(t *testing.T) {
	h := newHarness(t, true, false)
	h.backend.uploadErr = errors.New("boom")
	h.c.CaptureFinished(capture.Clip{Data: make([]byte, 5000), Format: "wav"})
	waitFor(t, "upload failure", func() bool { return h.view.count("upload failed") == 1 })

	h.c.Reply(channel.Event{CorrelationID: "cid-1", Reply: "late"})
	h.c.Close()
	if got := h.view.replyTexts(); len(got) != 0 {
		t.Errorf("replies = %v, want none", got)
	}
}

func TestPollFallbackWhenDisconnected(t *testing.T) {
	h := newHarness(t, false, false)
	h.backend.poll = func(n int) (*api.PollResult, error) {
		if n <= 3 {
			return &api.PollResult{Status: api.ReplyWaiting}, nil
		}
		return &api.PollResult{Status: api.ReplyReady, Reply: "hi"}, nil
	}

	h.speak(t)
	waitFor(t, "reply", func() bool { return len(h.view.replyTexts()) == 1 })

	if _, polls, _ := h.backend.counts(); polls != 4 {
		t.Errorf("polls = %d, want 4", polls)
	}
	if _, ok := h.c.Pending(); ok {
		t.Error("utterance still pending after reply")
	}

	// a late push for the same utterance changes nothing
	h.c.Reply(channel.Event{Reply: "hi"})

	// the next utterance gets a fresh poller
	h.speak(t)
	waitFor(t, "second reply", func() bool { return len(h.view.replyTexts()) == 2 })
	h.c.Close()

	if _, polls, refreshes := h.backend.counts(); polls != 5 || refreshes != 2 {
		t.Errorf("polls = %d refreshes = %d, want 5 and 2", polls, refreshes)
	}
}

func TestPushAndPollRace(t *testing.T) {
	t.Run("push first", func(t *testing.T) {
		h := newHarness(t, false, false)
		pollStarted := make(chan struct{})
		releasePoll := make(chan struct{})
		h.backend.poll = func(int) (*api.PollResult, error) {
			close(pollStarted)
			<-releasePoll
			return &api.PollResult{Status: api.ReplyReady, Reply: "from poll", ReplyAudio: "/poll"}, nil
		}

		h.speak(t)
		<-pollStarted
		h.c.Reply(channel.Event{Reply: "from push", ReplyAudio: "/push"})
		close(releasePoll)
		h.c.Close()

		if got := h.view.replyTexts(); !slices.Equal(got, []string{"from push"}) {
			t.Errorf("replies = %v", got)
		}
		if got := h.player.played(); !slices.Equal(got, []string{"/push"}) {
			t.Errorf("played = %v", got)
		}
	})

	t.Run("poll first", func(t *testing.T) {
		h := newHarness(t, false, false)
		h.backend.poll = func(int) (*api.PollResult, error) {
			return &api.PollResult{Status: api.ReplyReady, Reply: "from poll"}, nil
		}

		h.speak(t)
		waitFor(t, "poll reply", func() bool { return len(h.view.replyTexts()) == 1 })
		h.c.Reply(channel.Event{Reply: "from push", ReplyAudio: "/push"})
		h.c.Close()

		if got := h.view.replyTexts(); !slices.Equal(got, []string{"from poll"}) {
			t.Errorf("replies = %v", got)
		}
		if got := h.player.played(); len(got) != 0 {
			t.Errorf("played = %v, want nothing", got)
		}
		if _, _, refreshes := h.backend.counts(); refreshes != 1 {
			t.Errorf("refreshes = %d, want 1", refreshes)
		}
	})
}

func TestPushStopsPoller(t *testing.T) {
	h := newHarness(t, false, true)

	h.speak(t)
	release := <-h.sleeps
	h.c.Reply(channel.Event{Reply: "hi"})
	close(release)
	h.c.Close()

	if _, polls, _ := h.backend.counts(); polls != 1 {
		t.Errorf("polls = %d, want 1", polls)
	}
}

func TestPollTimeout(t *testing.T) {
	h := newHarness(t, false, false)
	h.c.opts.Poller.Attempts = 3

	h.speak(t)
	waitFor(t, "timeout status", func() bool { return h.view.status() == "no reply (timed out)" })
	waitFor(t, "history refresh", func() bool {
		_, _, refreshes := h.backend.counts()
		return refreshes == 1
	})

	if _, polls, _ := h.backend.counts(); polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
	if _, ok := h.c.Pending(); ok {
		t.Error("utterance still pending after timeout")
	}
	if len(h.view.replyTexts()) != 0 {
		t.Error("reply surfaced after timeout")
	}
}

func TestPollErrorKeepsPushArmed(t *testing.T) {
	h := newHarness(t, false, false)
	h.backend.poll = func(int) (*api.PollResult, error) { return nil, errors.New("connection refused") }

	h.speak(t)
	waitFor(t, "error status", func() bool { return h.view.status() == "reply check failed" })
	if _, polls, _ := h.backend.counts(); polls != 1 {
		t.Errorf("polls = %d, want 1", polls)
	}

	h.c.Reply(channel.Event{Reply: "late"})
	h.c.Close()
	if got := h.view.replyTexts(); !slices.Equal(got, []string{"late"}) {
		t.Errorf("replies = %v", got)
	}
}

func TestNewAckSupersedesPending(t *testing.T) {
	h := newHarness(t, true, false)

	first := h.speak(t)
	second := h.speak(t)

	h.c.Reply(channel.Event{CorrelationID: first, Reply: "old"})
	if cid, ok := h.c.Pending(); !ok || cid != second {
		t.Fatalf("pending = %q %v, want %q", cid, ok, second)
	}
	h.c.Reply(channel.Event{MessageID: "1", Reply: "old by id"})
	h.c.Reply(channel.Event{CorrelationID: second, MessageID: "2", Reply: "new"})
	h.c.Close()

	if got := h.view.replyTexts(); !slices.Equal(got, []string{"new"}) {
		t.Errorf("replies = %v", got)
	}
}

func TestSupersededPollerAbandoned(t *testing.T) {
	h := newHarness(t, false, true)

	first := h.speak(t)
	release := <-h.sleeps
	second := h.speak(t)
	close(release)

	waitFor(t, "second poller", func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return len(h.backend.polls) == 2
	})
	h.c.Close()

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if !slices.Equal(h.backend.polls, []string{first, second}) {
		t.Errorf("polls = %v", h.backend.polls)
	}
}

func TestUploadFailure(t *testing.T) {
	h := newHarness(t, true, false)
	h.backend.uploadErr = &api.UploadError{Kind: api.UploadServerRejected, Status: 400, Detail: "no audio file"}

	h.c.CaptureFinished(capture.Clip{Data: []byte("x"), Format: "wav"})
	waitFor(t, "failure status", func() bool { return h.view.status() == "upload failed: no audio file" })

	if _, ok := h.c.Pending(); ok {
		t.Error("failed upload left a pending utterance")
	}
	h.c.Close()
	if uploads, _, _ := h.backend.counts(); uploads != 1 {
		t.Errorf("uploads = %d, want 1 (no retry)", uploads)
	}
}

func TestCaptureFailureStatusClears(t *testing.T) {
	h := newHarness(t, true, false)

	h.c.CaptureFailed(capture.ErrTooShort)
	if got := h.view.status(); got != "too short" {
		t.Fatalf("status = %q", got)
	}
	first := h.timers.get(0)
	if first.d != DefaultStatusClear {
		t.Errorf("clear delay = %v", first.d)
	}

	h.c.CaptureFailed(fmt.Errorf("%w: denied", capture.ErrDeviceUnavailable))
	if got := h.view.status(); got != "microphone unavailable" {
		t.Fatalf("status = %q", got)
	}
	if !first.stopped.Load() {
		t.Error("earlier clear timer still armed")
	}

	// a stale timer that fires anyway must not clear the newer message
	first.f()
	if got := h.view.status(); got != "microphone unavailable" {
		t.Errorf("stale clear wiped status: %q", got)
	}

	h.timers.get(1).f()
	if got := h.view.status(); got != "" {
		t.Errorf("status after clear = %q", got)
	}

	h.c.CaptureFailed(capture.ErrEmpty)
	if got := h.view.status(); got != "no audio captured" {
		t.Errorf("status = %q", got)
	}
}

func TestRecordingStatusCancelsClear(t *testing.T) {
	h := newHarness(t, true, false)

	h.c.CaptureFailed(capture.ErrTooShort)
	h.c.CaptureStarted(gesture.Mouse)
	h.timers.get(0).f()

	if got := h.view.status(); got != "● recording" {
		t.Errorf("status = %q", got)
	}
}

func TestChannelStateForwarded(t *testing.T) {
	h := newHarness(t, false, false)
	h.c.ChannelState(channel.Connecting)
	h.c.ChannelState(channel.Connected)

	h.view.mu.Lock()
	defer h.view.mu.Unlock()
	if !slices.Equal(h.view.states, []channel.State{channel.Connecting, channel.Connected}) {
		t.Errorf("states = %v", h.view.states)
	}
}

func TestClosedIgnoresEverything(t *testing.T) {
	h := newHarness(t, true, false)
	h.speak(t)
	h.c.Close()

	h.c.Reply(channel.Event{Reply: "hi"})
	h.c.CaptureFinished(capture.Clip{Data: []byte("x")})

	if uploads, _, _ := h.backend.counts(); uploads != 1 {
		t.Errorf("uploads = %d after Close", uploads)
	}
	if len(h.view.replyTexts()) != 0 {
		t.Error("reply applied after Close")
	}
}

func TestPlaybackRef(t *testing.T) {
	newest := func(id api.MessageID, audio string) []api.HistoryEntry {
		return []api.HistoryEntry{{ID: id, Reply: "r", ReplyAudio: audio}}
	}
	p := &pending{correlationID: "c", messageID: "7"}
	tests := []struct {
		name    string
		r       reply
		entries []api.HistoryEntry
		want    string
	}{
		{"push audio wins", reply{source: sourcePush, audio: "/push"}, newest("7", "/hist"), "/push"},
		{"push without audio uses history", reply{source: sourcePush}, newest("7", "/hist"), "/hist"},
		{"poll prefers history", reply{source: sourcePoll, audio: "/poll"}, newest("7", "/hist"), "/hist"},
		{"history of another utterance", reply{source: sourcePoll, audio: "/poll"}, newest("8", "/hist"), "/poll"},
		{"history without audio", reply{source: sourcePoll, audio: "/poll"}, newest("7", ""), "/poll"},
		{"no history", reply{source: sourcePoll}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := playbackRef(p, tt.r, tt.entries); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderHistory(t *testing.T) {
	sent := time.Date(2025, 1, 2, 8, 30, 0, 0, time.UTC)
	lines := RenderHistory([]api.HistoryEntry{
		{ID: "3", Text: "c", Status: api.StatusSent, SentAt: sent},
		{ID: "2", Text: "b", Status: api.StatusTimeout, SentAt: sent},
		{ID: "1", Text: "a", Reply: "A", Status: api.StatusReplied, SentAt: sent},
	}, time.UTC)

	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0].Reply != awaitingLabel || !lines[0].Awaiting || lines[0].Failed {
		t.Errorf("pending entry = %+v", lines[0])
	}
	if lines[1].Reply != failedLabel || !lines[1].Failed || lines[1].Awaiting {
		t.Errorf("timed out entry = %+v", lines[1])
	}
	if lines[2].Reply != "A" {
		t.Errorf("answered entry = %+v", lines[2])
	}
	if got := lines[2].String(); got != "[08:30] a\n  ↳ A" {
		t.Errorf("String() = %q", got)
	}
}

func TestSettledOncePerOutcome(t *testing.T) {
	h := newHarness(t, true, false)
	var settled atomic.Int32
	h.c.opts.Settled = func() { settled.Add(1) }

	h.c.CaptureFailed(capture.ErrTooShort)
	if settled.Load() != 1 {
		t.Fatalf("settled = %d after rejected capture", settled.Load())
	}

	h.speak(t)
	h.c.Reply(channel.Event{Reply: "hi", ReplyAudio: "/x"})
	h.c.Reply(channel.Event{Reply: "hi", ReplyAudio: "/x"})
	waitFor(t, "settle after reply", func() bool { return settled.Load() == 2 })

	h.c.Close()
	if settled.Load() != 2 {
		t.Errorf("settled = %d, want 2", settled.Load())
	}
}
