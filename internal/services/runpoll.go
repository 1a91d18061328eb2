package services

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned when a run did not reach a terminal state
// within the poller's budget. The external run is left un-cancelled; the
// budget bounds how long a handler blocks, nothing more.
var ErrPollTimeout = errors.New("poll budget exhausted")

// Clock abstracts time for the pollers so tests run without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func NewRealClock() Clock { return realClock{} }

// RunPoller polls a check function at a fixed interval until it reports
// done, the budget is spent, or the context is cancelled. All three
// assistant-run call sites (draft generation, final synthesis, nudge fill)
// share this; their budgets differ only by configuration.
type RunPoller struct {
	Interval time.Duration
	Budget   time.Duration
	Clock    Clock
}

func NewRunPoller(interval, budget time.Duration, clock Clock) RunPoller {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	if budget <= 0 {
		budget = 30 * time.Second
	}
	if clock == nil {
		clock = realClock{}
	}
	return RunPoller{Interval: interval, Budget: budget, Clock: clock}
}

// Poll runs check immediately, then once per interval. A check error stops
// polling and is returned as-is.
func (p RunPoller) Poll(ctx context.Context, check func(ctx context.Context) (done bool, err error)) error {
	deadline := p.Clock.Now().Add(p.Budget)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !p.Clock.Now().Add(p.Interval).Before(deadline) {
			return ErrPollTimeout
		}
		if err := p.Clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}
