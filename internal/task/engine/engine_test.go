package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"ghwatch/internal/eventbus"
	"ghwatch/pkg/logx"
)

func newTestEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func fastRetry() TaskOptions {
	return TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestDoReturnsFinalResultAfterRetries(t *testing.T) {
	t.Parallel()

	s := newTestEngine(t, Config{Workers: 1, RetryMax: 2})
	var calls atomic.Int32
	err := s.Do(context.Background(), Task{
		Name: "flaky",
		Opt:  fastRetry(),
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()

	s := newTestEngine(t, Config{Workers: 1, RetryMax: 5})
	perm := errors.New("permanent")
	var calls atomic.Int32
	err := s.Do(context.Background(), Task{
		Name: "perm",
		Opt:  fastRetry(),
		Run: func(ctx context.Context) error {
			calls.Add(1)
			return NoRetry(perm)
		},
	})
	if !errors.Is(err, perm) {
		t.Fatalf("err=%v", err)
	}
	if IsNoRetry(err) {
		t.Fatalf("NoRetry wrapper should be stripped from the final result")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := newTestEngine(t, Config{Workers: 1})
	err := s.Do(context.Background(), Task{
		Name: "panic",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(ctx context.Context) error { panic("bad") },
	})
	if err == nil || err.Error() != "panic: bad" {
		t.Fatalf("err=%v", err)
	}
}

func TestOverlapSkipWhileQueuedOrRunning(t *testing.T) {
	t.Parallel()

	s := newTestEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	st := &RunState{}
	task := Task{
		Name:  "slow",
		State: st,
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err=%v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for st.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("run state never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	s := newTestEngine(t, Config{Workers: 1, CircuitTripFailures: 2, CircuitBaseDelay: time.Minute})
	fail := Task{
		Name: "down",
		Opt:  TaskOptions{RetryMax: -1},
		Run:  func(ctx context.Context) error { return errors.New("down") },
	}
	for i := 0; i < 2; i++ {
		if err := s.Do(context.Background(), fail); err == nil {
			t.Fatalf("attempt %d should fail", i)
		}
	}
	if err := s.Do(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v", err)
	}
	if snap := s.Snapshot(); snap.CircuitOpen != 1 {
		t.Fatalf("circuit open=%d", snap.CircuitOpen)
	}

	s.Forget("down")
	if snap := s.Snapshot(); snap.CircuitTotal != 0 {
		t.Fatalf("circuit total after forget=%d", snap.CircuitTotal)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v", err)
	}

	d := New(Config{}, logx.Nop(), nil)
	err = d.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		retry    int
		min, max time.Duration
	}{
		{1, 80 * time.Millisecond, 120 * time.Millisecond},
		{2, 160 * time.Millisecond, 240 * time.Millisecond},
		{3, 320 * time.Millisecond, 480 * time.Millisecond},
		{10, 800 * time.Millisecond, time.Second},
	}
	for _, tc := range cases {
		got := backoffDelay(opt, tc.retry, rng)
		if got < tc.min || got > tc.max {
			t.Fatalf("retry %d: %s not in [%s,%s]", tc.retry, got, tc.min, tc.max)
		}
	}
}

func TestBackoffHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: time.Minute, RetryJitter: 0.1}
	rng := rand.New(rand.NewSource(2))
	err := RetryAfter(errors.New("429"), 30*time.Second)
	got := backoffDelayWithHint(opt, 1, err, rng)
	if got < 27*time.Second || got > 33*time.Second {
		t.Fatalf("delay=%s", got)
	}

	capped := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Hour), rng)
	if capped > time.Minute {
		t.Fatalf("hint not capped: %s", capped)
	}
}
