package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ghwatch/internal/eventbus"
	rtsup "ghwatch/internal/runtime/supervisor"
	"ghwatch/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is the bounded worker pool shared by every tracked resource.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q chan queuedTask

	inFlight atomic.Int32

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*RunState

	circuits circuitStore

	hmu     sync.Mutex
	history []HistoryItem

	idSeq atomic.Uint64

	dropped          atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
	lastStaleWarnAt     atomic.Int64
}

type queuedTask struct {
	task Task

	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions

	state *RunState
	track bool

	// done receives the final result when the submitter waits (Do).
	done chan error
}

func (qt queuedTask) finish(err error) {
	if qt.done != nil {
		qt.done <- err
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:    withConfigDefaults(cfg),
		log:    log.With(logx.String("comp", "taskengine")),
		bus:    bus,
		states: make(map[string]*RunState),
	}
}

func withConfigDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.CircuitTripFailures == 0 {
		cfg.CircuitTripFailures = 5
	}
	if cfg.CircuitBaseDelay <= 0 {
		cfg.CircuitBaseDelay = 5 * time.Second
	}
	if cfg.CircuitMaxDelay <= 0 {
		cfg.CircuitMaxDelay = 2 * time.Minute
	}
	if cfg.CircuitResetAfter <= 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Workers are restarted when the pool shape changes.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = withConfigDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize || !cfg.Enabled {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	sup.Cancel()

	go func() {
		_ = sup.Wait(context.Background())
		s.drainQueue(queue)
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// drainQueue fails tasks that were accepted but never ran so that
// waiting submitters and overlap gates are released.
func (s *Service) drainQueue(q chan queuedTask) {
	for {
		select {
		case qt := <-q:
			if qt.track {
				qt.state.release()
			}
			qt.finish(ErrStopped)
		default:
			return
		}
	}
}

// Enqueue adds a task without blocking. A full queue drops the task.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false, nil)
}

// Submit blocks until the task is accepted, ctx is canceled or the engine
// stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t, true, nil)
}

// Do submits a task and waits for its final result, retries included.
// Cancelling ctx stops the wait, not the task.
func (s *Service) Do(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	if err := s.enqueue(ctx, t, true, done); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool, done chan error) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}

	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	opt := t.Opt.withDefaults(cfg)

	// A task that keeps failing is skipped for a cooldown instead of
	// hammering the downstream API.
	if open, until := s.circuitIsOpen(now, t.Name, cfg, opt); open {
		s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "circuit_open"})
		s.log.Debug("task skipped: circuit open", logx.String("task", t.Name), logx.Time("until", until))
		s.appendHistory(cfg, HistoryItem{ID: t.ID, Name: t.Name, Started: now, Error: "circuit_open"})
		return ErrCircuitOpen
	}

	st := t.State
	if st == nil {
		st = s.stateFor(t.Name)
	}
	track := false
	if opt.Overlap == OverlapSkipIfRunning {
		if !st.tryAcquire() {
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		track = true
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, opt: opt, state: st, track: track, done: done}
	release := func() {
		if track {
			st.release()
		}
	}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			release()
			s.onQueueFullDropped(now, t, q)
			return ErrQueueFull
		}
	}

	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		release()
		return ctx.Err()
	case <-stopCh:
		release()
		return ErrStopping
	}
}

// Forget drops overlap and circuit state for a task name that will not be
// scheduled again.
func (s *Service) Forget(name string) {
	name = strings.TrimSpace(name)
	s.stateMu.Lock()
	delete(s.states, name)
	s.stateMu.Unlock()
	s.circuits.forget(name)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql, qc = len(q), cap(q)
	}

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	ct, co := s.circuitSnapshot(time.Now(), cfg)
	return Snapshot{
		Enabled:          cfg.Enabled,
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(s.inFlight.Load()),
		Dropped:          s.dropped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		RetryMax:         cfg.RetryMax,
		CircuitTotal:     ct,
		CircuitOpen:      co,
		History:          h,
	}
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) newTaskID(now time.Time) string {
	return fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
}

func (s *Service) appendHistory(cfg Config, item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, n)
}

func (s *Service) onQueueFullDropped(now time.Time, t Task, q chan queuedTask) {
	s.dropped.Add(1)
	s.droppedQueueFull.Add(1)
	s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})

	if shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Int64("dropped_queue_full", int64(s.droppedQueueFull.Load())),
		)
	}
}

func (s *Service) onStaleDropped(now time.Time, t Task, queueDelay time.Duration) {
	s.dropped.Add(1)
	s.droppedStale.Add(1)
	s.publish(eventbus.TypeTaskDropped, now, TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: "stale_queue_delay"})

	if shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn("task dropped: stale queue",
			logx.String("task", t.Name),
			logx.Duration("queue_delay", queueDelay),
			logx.Int64("dropped_stale", int64(s.droppedStale.Load())),
		)
	}
}
