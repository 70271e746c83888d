package engine

import (
	"strings"
	"sync"
	"time"
)

// circuitState tracks consecutive failures for one task name. Once failures
// reach the trip threshold the circuit opens for an exponentially growing
// cooldown; a success closes it.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked expects s.mu to be held.
func (s *circuitStore) getLocked(key string) *circuitState {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil
	}
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[k]
	if st == nil {
		st = &circuitState{}
		s.m[k] = st
	}
	return st
}

func (s *circuitStore) forget(key string) {
	s.mu.Lock()
	delete(s.m, strings.TrimSpace(key))
	s.mu.Unlock()
}

type circuitCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func effectiveCircuitCfg(cfg Config, opt TaskOptions) circuitCfg {
	trip := cfg.CircuitTripFailures
	if trip == 0 {
		trip = 5
	}
	if trip < 0 || opt.CircuitTripFailures < 0 {
		return circuitCfg{}
	}
	if opt.CircuitTripFailures > 0 {
		trip = opt.CircuitTripFailures
	}
	return circuitCfg{
		trip:       trip,
		baseDelay:  cfg.CircuitBaseDelay,
		maxDelay:   cfg.CircuitMaxDelay,
		resetAfter: cfg.CircuitResetAfter,
		enabled:    true,
	}
}

func (st *circuitState) maybeReset(now time.Time, cc circuitCfg) {
	if !st.lastFailure.IsZero() && cc.resetAfter > 0 && now.Sub(st.lastFailure) > cc.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (s *Service) circuitIsOpen(now time.Time, name string, cfg Config, opt TaskOptions) (bool, time.Time) {
	cc := effectiveCircuitCfg(cfg, opt)
	if !cc.enabled {
		return false, time.Time{}
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(name)
	if st == nil {
		return false, time.Time{}
	}
	st.maybeReset(now, cc)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *Service) circuitRecordResult(now time.Time, name string, cfg Config, opt TaskOptions, err error) {
	cc := effectiveCircuitCfg(cfg, opt)
	if !cc.enabled {
		return
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(name)
	if st == nil {
		return
	}
	st.maybeReset(now, cc)

	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}

	d := cc.baseDelay
	for i := 0; i < st.fails-cc.trip; i++ {
		d *= 2
		if d >= cc.maxDelay {
			break
		}
	}
	st.openUntil = now.Add(min(d, cc.maxDelay))
}

func (s *Service) circuitSnapshot(now time.Time, cfg Config) (total, open int) {
	if !effectiveCircuitCfg(cfg, TaskOptions{}).enabled {
		return 0, 0
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	total = len(s.circuits.m)
	for _, st := range s.circuits.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
