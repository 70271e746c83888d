package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(ctx context.Context) error { return errors.New("boom") })
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || err.Error() != "boom: boom" {
		t.Fatalf("err=%v", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go0("panicky", func(ctx context.Context) { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected panic error")
	}
	if got := s.Counters().Panics; got != 1 {
		t.Fatalf("panics=%d", got)
	}
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	var hooks atomic.Int32
	s := New(context.Background(), WithErrorHook(func(string, error) { hooks.Add(1) }))
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs=%d", runs.Load())
	}
	if hooks.Load() != 2 {
		t.Fatalf("hooks=%d", hooks.Load())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.GoRestart("dead", func(ctx context.Context) error { return errors.New("nope") },
		WithRestartBackoff(time.Millisecond, time.Millisecond),
		WithMaxRestarts(2),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("expected final error")
	}
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
