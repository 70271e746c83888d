package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ghwatch/internal/eventbus"
	rtsup "ghwatch/internal/runtime/supervisor"
	kit "ghwatch/internal/transport"
	"ghwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrEmpty     = errors.New("notification has no text")
)

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	now     func() time.Time

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan kit.Notification
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		now:     time.Now,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Worker and queue sizes take effect on the next
// Start; rate and retry settings apply to the next send.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// delivery is best-effort; a broken worker must not stop the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			if s.stopping() {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
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
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain it.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		s.log.Warn("notifier stop timed out, pending messages dropped", logx.Int("queued", len(q)))
	}
}

// Notify enqueues n for delivery and returns without waiting for it.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(n.Text) == "" {
		return ErrEmpty
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- n:
		notifyTotal.WithLabelValues("queued").Inc()
		return nil
	default:
		notifyTotal.WithLabelValues("dropped").Inc()
		s.log.Warn("notification dropped, queue full", logx.String("key", n.Key))
		s.publish(eventbus.TypeNotifyFailed, n, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.queue != nil && s.accepting}
	if s.queue != nil {
		st.Queued = len(s.queue)
		st.Cap = cap(s.queue)
	}
	return st
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n kit.Notification, max int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), Key: n.Key, ChatID: n.Target.ChatID, Text: n.Text})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan kit.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n kit.Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 0
loop:
	for attempt < maxAttempts {
		attempt++
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := ad.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			s.appendHistory(n, cfg.HistorySize)
			notifyTotal.WithLabelValues("sent").Inc()
			s.publish(eventbus.TypeNotifySent, n, attempt, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("key", n.Key), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		sendRetries.Inc()
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			break loop
		}
	}

	notifyTotal.WithLabelValues("failed").Inc()
	s.log.Warn("notification not delivered", logx.String("key", n.Key), logx.Int64("chat_id", n.Target.ChatID), logx.Err(lastErr))
	s.publish(eventbus.TypeNotifyFailed, n, attempt, lastErr)
}

func (s *Service) publish(typ string, n kit.Notification, attempts int, err error) {
	if s.bus == nil {
		return
	}
	now := s.now()
	ev := NotificationEvent{Key: n.Key, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Attempts: attempts, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}
