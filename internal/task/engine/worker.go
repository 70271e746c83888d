package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"ghwatch/internal/eventbus"
	"ghwatch/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask, idx int) {
	// Per-worker RNG avoids contention when many tasks back off at once.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if qt.track {
		defer qt.state.release()
	}

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(start, qt.task, queueDelay)
		s.appendHistory(cfg, HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		qt.finish(ErrStale)
		return
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TypeTaskStarted, start, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = fmt.Errorf("%w: %v", ErrStopping, err)
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TypeTaskFailed, time.Now(), ev)
	} else {
		s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TypeTaskFinished, time.Now(), ev)
	}

	s.circuitRecordResult(time.Now(), qt.task.Name, cfg, qt.opt, err)
	s.appendHistory(cfg, HistoryItem{ID: ev.ID, Name: ev.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts, Error: ev.Error})
	qt.finish(err)
}

// runAttempt converts panics into errors so one bad task cannot kill a worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		return jitter(min(max(ra.RetryAfter(), 0), opt.RetryMaxDelay), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

// backoffDelay is RetryBase * 2^(retry-1), capped at RetryMaxDelay, with jitter.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	return jitter(min(d, opt.RetryMaxDelay), opt, rng)
}

func jitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
