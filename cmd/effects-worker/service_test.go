package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type scriptedDispatcher struct {
	results []int
	errs    []error
	calls   int
	cancel  context.CancelFunc
}

func (d *scriptedDispatcher) ProcessBatch(context.Context) (int, error) {
	i := d.calls
	d.calls++
	if i >= len(d.results) {
		d.cancel()
		return 0, nil
	}
	return d.results[i], d.errs[i]
}

func newTestService(t *testing.T, db pinger, dispatcher batchProcessor) (*Service, *[]time.Duration) {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: config.OutboxConfig{PollIntervalMS: 100}},
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         db,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var sleeps []time.Duration
	svc.sleepFn = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return svc, &sleeps
}

func TestRunDrainsBusyBatchesWithoutSleeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher := &scriptedDispatcher{
		results: []int{5, 5, 0},
		errs:    []error{nil, nil, nil},
		cancel:  cancel,
	}
	svc, sleeps := newTestService(t, fakePinger{}, dispatcher)

	err := svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	// One idle sleep after the empty batch, one when the script runs out.
	if len(*sleeps) != 2 {
		t.Fatalf("expected two idle sleeps, got %d", len(*sleeps))
	}
	if dispatcher.calls != 4 {
		t.Fatalf("expected 4 batches, got %d", dispatcher.calls)
	}
	if d := (*sleeps)[0]; d < 100*time.Millisecond || d >= 100*time.Millisecond+jitterWindow {
		t.Fatalf("idle sleep out of range: %s", d)
	}
}

func TestRunBacksOffOnErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	boom := errors.New("db down")
	dispatcher := &scriptedDispatcher{
		results: []int{0, 0},
		errs:    []error{boom, boom},
		cancel:  cancel,
	}
	svc, sleeps := newTestService(t, fakePinger{}, dispatcher)

	_ = svc.Run(ctx)
	if len(*sleeps) < 2 {
		t.Fatalf("expected backoff sleeps, got %v", *sleeps)
	}
	if (*sleeps)[0] < 200*time.Millisecond || (*sleeps)[1] < 400*time.Millisecond {
		t.Fatalf("backoff did not grow: %v", *sleeps)
	}
}

func TestRunFailsWhenDatabaseUnavailable(t *testing.T) {
	svc, _ := newTestService(t, fakePinger{err: errors.New("refused")}, &scriptedDispatcher{})
	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness error")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected backoff %s", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
	if got := withJitter(0); got != 0 {
		t.Fatalf("expected zero jitter for zero duration")
	}
}
