package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"talkie/api"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestReadyAfterWaiting(t *testing.T) {
	calls := 0
	fetch := func(context.Context) (*api.PollResult, error) {
		calls++
		if calls <= 3 {
			return &api.PollResult{Status: api.ReplyWaiting}, nil
		}
		return &api.PollResult{Status: api.ReplyReady, Reply: "hi"}, nil
	}

	p := &Poller{Interval: time.Second, Attempts: 60, Sleep: noSleep}
	res := p.Run(context.Background(), fetch, nil)

	if res.Outcome != Ready || res.Reply.Reply != "hi" {
		t.Fatalf("got %+v", res)
	}
	if res.Attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d calls = %d, want 4", res.Attempts, calls)
	}
}

func TestTimeoutAfterExactlyAttempts(t *testing.T) {
	calls := 0
	sleeps := 0
	fetch := func(context.Context) (*api.PollResult, error) {
		calls++
		return &api.PollResult{Status: api.ReplyWaiting}, nil
	}
	p := &Poller{
		Interval: time.Second,
		Attempts: 60,
		Sleep: func(_ context.Context, d time.Duration) error {
			if d != time.Second {
				t.Errorf("slept %v, want 1s", d)
			}
			sleeps++
			return nil
		},
	}

	res := p.Run(context.Background(), fetch, nil)
	if res.Outcome != Timeout || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("got %+v", res)
	}
	if calls != 60 {
		t.Errorf("calls = %d, want 60", calls)
	}
	if sleeps != 59 {
		t.Errorf("sleeps = %d, want 59", sleeps)
	}
}

func TestErrorStopsLoop(t *testing.T) {
	calls := 0
	boom := errors.New("connection refused")
	fetch := func(context.Context) (*api.PollResult, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return &api.PollResult{Status: api.ReplyWaiting}, nil
	}

	res := (&Poller{Attempts: 60, Sleep: noSleep}).Run(context.Background(), fetch, nil)
	if res.Outcome != Failed || !errors.Is(res.Err, boom) {
		t.Fatalf("got %+v", res)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestAbandonedStopsBeforeNextPoll(t *testing.T) {
	calls := 0
	answered := false
	fetch := func(context.Context) (*api.PollResult, error) {
		calls++
		if calls == 2 {
			// a push reply lands while this request is in flight
			answered = true
		}
		return &api.PollResult{Status: api.ReplyWaiting}, nil
	}

	res := (&Poller{Attempts: 60, Sleep: noSleep}).Run(context.Background(), fetch, func() bool { return answered })
	if res.Outcome != Abandoned {
		t.Fatalf("outcome = %v, want abandoned", res.Outcome)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (in-flight call completes, no further polls)", calls)
	}
}

func TestAbandonedBeforeFirstPoll(t *testing.T) {
	fetch := func(context.Context) (*api.PollResult, error) {
		t.Fatal("fetch called after abandon")
		return nil, nil
	}
	res := (&Poller{Sleep: noSleep}).Run(context.Background(), fetch, func() bool { return true })
	if res.Outcome != Abandoned || res.Attempts != 0 {
		t.Errorf("got %+v", res)
	}
}

func TestContextCancelInterruptsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(context.Context) (*api.PollResult, error) {
		cancel()
		return &api.PollResult{Status: api.ReplyWaiting}, nil
	}

	done := make(chan Result, 1)
	go func() { done <- New(time.Hour, 60).Run(ctx, fetch, nil) }()

	select {
	case res := <-done:
		if res.Outcome != Abandoned {
			t.Errorf("outcome = %v, want abandoned", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
