package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/task/engine"
	"ghwatch/pkg/logx"
)

func New(cfg Config, eng Enqueuer, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		engine:      eng,
		defs:        map[string]*scheduleDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the config. A new spread only affects entries added later.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Add upserts an entry by name. Entries added before Start are registered
// when Start runs.
func (s *Service) Add(e Entry) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return errors.New("name required")
	}
	if e.Every <= 0 {
		return errors.New("interval must be positive")
	}
	if e.Job == nil {
		return errors.New("job required")
	}
	if e.Offset < 0 {
		e.Offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(e.Name)
	d := &scheduleDef{Entry: e, state: &engine.RunState{}}
	s.defs[e.Name] = d
	if s.c != nil {
		s.registerLocked(d, time.Now())
		s.log.Debug("schedule registered",
			logx.String("name", e.Name),
			logx.Duration("every", e.Every),
			logx.Duration("offset", e.Offset),
			logx.Duration("spread", d.spread),
		)
	}
	return nil
}

// Remove unregisters name. It reports whether an entry existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.enqMu.Lock()
		delete(s.lastEnqWarn, name)
		s.enqMu.Unlock()
		if s.engine != nil {
			s.engine.Forget(name)
		}
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Next returns the next fire time of name, zero if unknown or not running.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok || s.c == nil || d.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(d.entryID).Next
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.c = cron.New()
	now := time.Now()
	for _, d := range s.defs {
		s.registerLocked(d, now)
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. Definitions are kept so Start can resume them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerLocked(d *scheduleDef, now time.Time) {
	sched, spread := makeOffsetSchedule(d.Every, d.Offset, s.cfg.StartupSpread, now, d.Name)
	d.spread = spread
	def := d
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(def) }))
}

func (s *Service) fire(d *scheduleDef) {
	if s.engine == nil {
		return
	}
	opt := d.Opt
	if opt.Overlap == engine.OverlapAllow {
		opt.Overlap = engine.OverlapSkipIfRunning
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    d.Name,
		Timeout: d.Timeout,
		Run:     d.Job,
		Opt:     opt,
		State:   d.state,
	})
	s.reportEnqueueError(d.Name, err)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.Name, Every: d.Every, Offset: d.Offset, Timeout: d.Timeout, Busy: d.state.Busy()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Schedules: items}
}
