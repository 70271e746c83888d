package scheduler

import (
	"errors"
	"time"

	"ghwatch/internal/task/engine"
	"ghwatch/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips and open circuits are normal while a resource is slow
	// or its upstream is failing.
	if errors.Is(err, engine.ErrOverlapSkip) || errors.Is(err, engine.ErrCircuitOpen) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
