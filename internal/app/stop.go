package app

import (
	"context"
	"fmt"
	"time"

	"ghwatch/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.ready.Store(false)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Pollers go first: they flush cursors and dedup state, and nothing new
	// should reach the engine or the notifier after that.
	a.step(ctx, "registry", 4*time.Second, func(c context.Context) error { return a.registry.Shutdown(c) })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "httpapi", 1*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		// observe when/if the step eventually finishes
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
