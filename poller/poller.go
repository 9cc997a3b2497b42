package poller

import (
	"context"
	"errors"
	"time"

	"talkie/api"
)

const (
	DefaultInterval = time.Second
	DefaultAttempts = 60
)

var ErrTimeout = errors.New("no reply in time")

type Outcome int

const (
	// Ready: a reply arrived; Result holds it.
	Ready Outcome = iota
	// Timeout: every attempt came back waiting.
	Timeout
	// Failed: a poll request errored; polling stopped.
	Failed
	// Abandoned: the caller lost interest, or ctx was cancelled.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Timeout:
		return "timeout"
	case Failed:
		return "error"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome  Outcome
	Reply    *api.PollResult
	Attempts int
	Err      error
}

// FetchFunc performs one poll.
type FetchFunc func(ctx context.Context) (*api.PollResult, error)

type Poller struct {
	Interval time.Duration
	Attempts int
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(interval time.Duration, attempts int) *Poller {
	return &Poller{Interval: interval, Attempts: attempts}
}

// Run polls sequentially until a reply is ready, a request fails, or the
// attempt budget is spent. abandoned is consulted before every request and
// every wait; an in-flight request is never interrupted by it.
func (p *Poller) Run(ctx context.Context, fetch FetchFunc, abandoned func() bool) Result {
	interval, attempts := p.Interval, p.Attempts
	if interval <= 0 {
		interval = DefaultInterval
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	gone := func() bool {
		return ctx.Err() != nil || (abandoned != nil && abandoned())
	}

	for n := 1; n <= attempts; n++ {
		if gone() {
			return Result{Outcome: Abandoned, Attempts: n - 1}
		}
		res, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Outcome: Abandoned, Attempts: n}
			}
			return Result{Outcome: Failed, Attempts: n, Err: err}
		}
		if res.Status == api.ReplyReady {
			return Result{Outcome: Ready, Reply: res, Attempts: n}
		}
		if n == attempts {
			break
		}
		if gone() {
			return Result{Outcome: Abandoned, Attempts: n}
		}
		if err := sleep(ctx, interval); err != nil {
			return Result{Outcome: Abandoned, Attempts: n}
		}
	}
	return Result{Outcome: Timeout, Attempts: attempts, Err: ErrTimeout}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
