package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.now = c.now.Add(d)
	c.sleeps++
	return nil
}

func TestRunPoller_DoneOnFirstCheckNeverSleeps(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewRunPoller(time.Second, 30*time.Second, clock)

	checks := 0
	err := p.Poll(context.Background(), func(ctx context.Context) (bool, error) {
		checks++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checks != 1 {
		t.Fatalf("expected 1 check, got %d", checks)
	}
	if clock.sleeps != 0 {
		t.Fatalf("expected no sleeps, got %d", clock.sleeps)
	}
}

func TestRunPoller_BudgetExhaustedReturnsTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewRunPoller(time.Second, 3*time.Second, clock)

	checks := 0
	err := p.Poll(context.Background(), func(ctx context.Context) (bool, error) {
		checks++
		return false, nil
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	// Immediate check plus one per elapsed interval inside the budget.
	if checks != 3 {
		t.Fatalf("expected 3 checks, got %d", checks)
	}
}

func TestRunPoller_DoneAfterSeveralIntervals(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewRunPoller(time.Second, time.Minute, clock)

	checks := 0
	err := p.Poll(context.Background(), func(ctx context.Context) (bool, error) {
		checks++
		return checks >= 4, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checks != 4 {
		t.Fatalf("expected 4 checks, got %d", checks)
	}
	if clock.sleeps != 3 {
		t.Fatalf("expected 3 sleeps, got %d", clock.sleeps)
	}
}

func TestRunPoller_CheckErrorStopsPolling(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewRunPoller(time.Second, time.Minute, clock)

	boom := errors.New("boom")
	err := p.Poll(context.Background(), func(ctx context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}
}

func TestRunPoller_ContextCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := NewRunPoller(time.Second, time.Minute, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Poll(ctx, func(ctx context.Context) (bool, error) {
		t.Fatalf("check should not run after cancellation")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunPoller_DefaultsApplied(t *testing.T) {
	p := NewRunPoller(0, 0, nil)
	if p.Interval != time.Second {
		t.Fatalf("expected default interval 1s, got %v", p.Interval)
	}
	if p.Budget != 30*time.Second {
		t.Fatalf("expected default budget 30s, got %v", p.Budget)
	}
	if p.Clock == nil {
		t.Fatalf("expected default clock")
	}
}
