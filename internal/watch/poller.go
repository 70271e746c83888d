package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/github"
	"ghwatch/internal/storage"
	"ghwatch/internal/task/engine"
	"ghwatch/internal/task/scheduler"
	"ghwatch/pkg/logx"
)

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runner executes a task on the shared engine and waits for it.
type Runner interface {
	Do(ctx context.Context, t engine.Task) error
}

// Scheduler is the part of the periodic scheduler a poller needs.
type Scheduler interface {
	Add(e scheduler.Entry) error
	Remove(name string) bool
	Next(name string) time.Time
}

// Deps are the collaborators shared by all pollers.
type Deps struct {
	Fetcher  Fetcher
	Resolver Resolver
	Notifier Notifier
	Store    storage.Store
	Engine   Runner
	Sched    Scheduler
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
}

// PollEvent is published on the bus after every stream check.
type PollEvent struct {
	Resource    string        `json:"resource"`
	Kind        EventKind     `json:"kind"`
	Fetched     int           `json:"fetched"`
	Notified    int           `json:"notified"`
	PausedUntil time.Time     `json:"paused_until,omitempty"`
	Took        time.Duration `json:"took"`
	Error       string        `json:"error,omitempty"`
}

// stream serializes checks of one event kind. The channel is a lock that
// can be acquired with a deadline.
type stream struct {
	sem         chan struct{}
	pausedUntil time.Time // guarded by Poller.mu
}

func (s *stream) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stream) unlock() { <-s.sem }

type taskGroup struct {
	suffix string
	kinds  []EventKind
	every  time.Duration
	offset time.Duration
}

// Poller watches the streams of one resource.
type Poller struct {
	deps Deps
	cfg  Config
	log  logx.Logger

	groups  []taskGroup
	streams map[EventKind]*stream
	cursors *Cursors
	dedup   *Dedup // repositories only

	mu         sync.Mutex
	res        Resource
	state      State
	mark       string
	markKnown  bool
	markLoaded bool
	lastCheck  time.Time
	lastErr    string
	onResolved func(Resource)
}

func NewPoller(res Resource, cfg Config, deps Deps) *Poller {
	cfg = cfg.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	p := &Poller{
		deps:    deps,
		cfg:     cfg,
		log:     deps.Log.With(logx.String("comp", "poller"), logx.String("resource", res.ID())),
		res:     res,
		streams: map[EventKind]*stream{},
		cursors: NewCursors(deps.Now().Add(-cfg.InitialLookback)),
	}
	switch res.Kind {
	case KindPackage:
		p.groups = []taskGroup{
			{suffix: "release", kinds: []EventKind{EventRelease}, every: cfg.PackageInterval, offset: cfg.PackageOffset},
		}
	default:
		p.groups = []taskGroup{
			{suffix: "commits", kinds: []EventKind{EventCommits}, every: cfg.RepoInterval, offset: cfg.CommitsOffset},
			{suffix: "comments", kinds: []EventKind{EventIssueComments, EventPRComments}, every: cfg.RepoInterval, offset: cfg.CommentsOffset},
		}
		p.dedup = NewDedup(deps.Store, res.Name)
	}
	for _, g := range p.groups {
		for _, k := range g.kinds {
			p.streams[k] = &stream{sem: make(chan struct{}, 1)}
		}
	}
	return p
}

// TaskName is the scheduler entry name of one task group.
func TaskName(res Resource, suffix string) string {
	return string(res.Kind) + ":" + res.Name + ":" + suffix
}

func (p *Poller) Resource() Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TaskNames lists the scheduler entries this poller registers.
func (p *Poller) TaskNames() []string {
	res := p.Resource()
	out := make([]string, 0, len(p.groups))
	for _, g := range p.groups {
		out = append(out, TaskName(res, g.suffix))
	}
	return out
}

// Start loads persisted state and registers the periodic tasks. A load
// failure is logged; scheduled runs retry the load before checking.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateRunning:
		p.mu.Unlock()
		return nil
	case StateDestroyed:
		p.mu.Unlock()
		return ErrDestroyed
	}
	p.mu.Unlock()

	if !p.loaded() {
		if err := p.load(ctx); err != nil {
			p.log.Warn("load state failed, will retry on first run", logx.Err(err))
		}
	}

	res := p.Resource()
	var added []string
	for _, g := range p.groups {
		kinds := g.kinds
		name := TaskName(res, g.suffix)
		err := p.deps.Sched.Add(scheduler.Entry{
			Name:    name,
			Every:   g.every,
			Offset:  g.offset,
			Timeout: p.cfg.TaskTimeout,
			Opt:     p.cfg.Retry,
			Job:     func(ctx context.Context) error { return p.runScheduled(ctx, kinds) },
		})
		if err != nil {
			for _, n := range added {
				p.deps.Sched.Remove(n)
			}
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		added = append(added, name)
	}

	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		for _, n := range added {
			p.deps.Sched.Remove(n)
		}
		return ErrDestroyed
	}
	p.state = StateRunning
	p.mu.Unlock()
	p.log.Info("poller started", logx.Strings("tasks", added))
	return nil
}

// Stop removes the periodic tasks and flushes the processed set. Checks
// already running complete normally.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	p.mu.Unlock()

	for _, n := range p.TaskNames() {
		p.deps.Sched.Remove(n)
	}
	if p.dedup != nil {
		if err := p.dedup.Flush(ctx); err != nil {
			return err
		}
	}
	p.log.Info("poller stopped")
	return nil
}

// Destroy stops the poller for good and deletes its persisted state. It
// waits for running checks so nothing is written after the purge.
func (p *Poller) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.state == StateRunning
	p.state = StateDestroyed
	p.mu.Unlock()

	if wasRunning {
		for _, n := range p.TaskNames() {
			p.deps.Sched.Remove(n)
		}
	}

	var locked []*stream
	defer func() {
		for _, s := range locked {
			s.unlock()
		}
	}()
	for _, s := range p.streams {
		if err := s.lock(ctx); err != nil {
			return fmt.Errorf("destroy %s: %w", p.Resource().ID(), err)
		}
		locked = append(locked, s)
	}

	var errs []error
	if p.dedup != nil {
		errs = append(errs, p.dedup.Purge(ctx))
	}
	res := p.Resource()
	if res.Kind == KindPackage {
		errs = append(errs, p.deps.Store.DeleteVersionMark(ctx, res.Name))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.log.Info("poller destroyed")
	return nil
}

// ManualCheck runs every stream once on the shared engine and waits for
// the result. The periodic schedule is left untouched.
func (p *Poller) ManualCheck(ctx context.Context) (Report, error) {
	if p.State() == StateDestroyed {
		return Report{}, ErrDestroyed
	}
	if !p.loaded() {
		return Report{}, ErrNotLoaded
	}

	start := p.deps.Now()
	rep := Report{Resource: p.Resource()}
	for _, g := range p.groups {
		name := "manual:" + TaskName(rep.Resource, g.suffix)
		for _, kind := range g.kinds {
			kind := kind
			out := make(chan KindReport, 1)
			err := p.deps.Engine.Do(ctx, engine.Task{
				Name:    name,
				Timeout: p.cfg.TaskTimeout,
				Opt:     engine.TaskOptions{RetryMax: -1, CircuitTripFailures: -1},
				State:   &engine.RunState{},
				Run: func(c context.Context) error {
					kr := p.checkKind(c, kind)
					out <- kr
					return kr.Err
				},
			})
			var kr KindReport
			select {
			case kr = <-out:
				if kr.Err == nil && err != nil {
					kr.Err = err
				}
			default:
				kr = KindReport{Kind: kind, Err: err}
			}
			rep.Kinds = append(rep.Kinds, kr)
		}
	}
	rep.Took = p.deps.Now().Sub(start)
	return rep, nil
}

// Status is a point-in-time view for listings and the HTTP API.
type Status struct {
	Resource    Resource
	State       State
	Loaded      bool
	Processed   int
	LastVersion string
	LastCheck   time.Time
	LastError   string
	Paused      map[EventKind]time.Time
	Cursors     map[EventKind]time.Time
	Next        map[string]time.Time
}

func (p *Poller) Status() Status {
	st := Status{
		Loaded:  p.loaded(),
		Paused:  map[EventKind]time.Time{},
		Cursors: map[EventKind]time.Time{},
		Next:    map[string]time.Time{},
	}
	now := p.deps.Now()
	p.mu.Lock()
	st.Resource = p.res
	st.State = p.state
	st.LastVersion = p.mark
	st.LastCheck = p.lastCheck
	st.LastError = p.lastErr
	for k, s := range p.streams {
		if s.pausedUntil.After(now) {
			st.Paused[k] = s.pausedUntil
		}
	}
	p.mu.Unlock()

	for k := range p.streams {
		st.Cursors[k] = p.cursors.Get(k)
	}
	if p.dedup != nil {
		st.Processed = p.dedup.Len()
	}
	if st.State == StateRunning {
		for _, n := range p.TaskNames() {
			st.Next[n] = p.deps.Sched.Next(n)
		}
	}
	return st
}

func (p *Poller) loaded() bool {
	if p.dedup != nil {
		return p.dedup.Loaded()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markLoaded
}

func (p *Poller) load(ctx context.Context) error {
	if p.dedup != nil {
		if err := p.dedup.Load(ctx); err != nil {
			return err
		}
		p.log.Debug("processed events loaded", logx.Int("count", p.dedup.Len()))
		return nil
	}
	res := p.Resource()
	tag, ok, err := p.deps.Store.GetVersionMark(ctx, res.Name)
	if err != nil {
		return fmt.Errorf("load version mark %s: %w", res.Name, err)
	}
	p.mu.Lock()
	p.mark, p.markKnown, p.markLoaded = tag, ok, true
	p.mu.Unlock()
	return nil
}

func (p *Poller) runScheduled(ctx context.Context, kinds []EventKind) error {
	if p.State() != StateRunning {
		return nil
	}
	if !p.loaded() {
		if err := p.load(ctx); err != nil {
			return err
		}
	}
	var errs []error
	for _, k := range kinds {
		if kr := p.checkKind(ctx, k); kr.Err != nil {
			errs = append(errs, kr.Err)
		}
	}
	return p.taskError(errs)
}

// taskError tells the engine whether a failed run is worth repeating:
// transient failures are, short rate limits are after their hint, and
// everything else waits for the next tick.
func (p *Poller) taskError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	retry := false
	var hint time.Duration
	for _, e := range errs {
		if rl, ok := github.AsRateLimited(e); ok {
			if p.shortRateLimit(rl) {
				retry = true
				hint = max(hint, rl.RetryAfter)
			}
			continue
		}
		if github.IsTransient(e) || errors.Is(e, context.DeadlineExceeded) {
			retry = true
		}
	}
	switch {
	case !retry:
		return engine.NoRetry(err)
	case hint > 0:
		return engine.RetryAfter(err, hint)
	default:
		return err
	}
}

func (p *Poller) shortRateLimit(rl *github.RateLimitedError) bool {
	return rl.RetryAfter > 0 && rl.RetryAfter <= p.cfg.ShortRetryAfter
}

// checkKind runs one fetch, filter, notify cycle for a stream.
func (p *Poller) checkKind(ctx context.Context, kind EventKind) KindReport {
	rep := KindReport{Kind: kind}
	st := p.streams[kind]
	if st == nil {
		rep.Err = fmt.Errorf("unsupported event kind %q", kind)
		return rep
	}
	if err := st.lock(ctx); err != nil {
		rep.Err = err
		return rep
	}
	defer st.unlock()

	start := p.deps.Now()
	p.mu.Lock()
	until := st.pausedUntil
	destroyed := p.state == StateDestroyed
	p.mu.Unlock()
	if destroyed {
		rep.Err = ErrDestroyed
		return rep
	}
	if until.After(start) {
		rep.PausedUntil = until
		p.log.Debug("stream paused, skipping", logx.String("kind", string(kind)), logx.Time("until", until))
		recordPoll(kind, "paused", 0)
		return rep
	}

	if kind == EventRelease {
		return p.checkRelease(ctx, rep, start)
	}

	res := p.Resource()
	since := p.cursors.Get(kind)
	items, err := p.deps.Fetcher.Fetch(ctx, res, kind, since)
	if err != nil {
		return p.fetchFailed(rep, err, start)
	}
	if kind == EventCommits {
		slices.Reverse(items)
	}
	rep.Fetched = len(items)

	newest := since
	for _, it := range items {
		if it.Err != nil {
			rep.Malformed++
			recordSkipped(kind, "malformed")
			p.log.Warn("skipping malformed item", logx.String("kind", string(kind)), logx.Err(&RenderError{Kind: kind, Err: it.Err}))
			continue
		}
		if it.At.After(newest) {
			newest = it.At
		}
		if p.dedup.Contains(it.Key) {
			rep.Skipped++
			recordSkipped(kind, "processed")
			continue
		}
		ok, handled := p.deliver(ctx, res, it)
		if !handled {
			continue
		}
		if err := p.dedup.Add(ctx, it.Key); err != nil {
			p.log.Warn("persist processed key failed", logx.String("key", it.Key), logx.Err(err))
		}
		if ok {
			rep.Notified++
		}
	}
	if len(items) > 0 {
		p.cursors.Advance(kind, newest)
	}
	p.finished(rep, start)
	return rep
}

func (p *Poller) checkRelease(ctx context.Context, rep KindReport, start time.Time) KindReport {
	res, err := p.ensureUpstream(ctx)
	if err != nil {
		return p.fetchFailed(rep, err, start)
	}
	items, err := p.deps.Fetcher.Fetch(ctx, res, EventRelease, p.cursors.Get(EventRelease))
	if err != nil {
		return p.fetchFailed(rep, err, start)
	}
	rep.Fetched = len(items)
	if len(items) == 0 || items[0].Release == nil {
		p.finished(rep, start)
		return rep
	}
	it := items[0]
	tag := it.Release.TagName
	it.Key = res.Name + "_release_" + tag
	p.cursors.Advance(EventRelease, it.At)

	p.mu.Lock()
	mark, known := p.mark, p.markKnown
	p.mu.Unlock()

	switch {
	case !known:
		rep.Recorded = tag
		p.log.Info("first release observed, recording", logx.String("tag", tag))
	case mark == tag:
		rep.Skipped++
		recordSkipped(EventRelease, "processed")
		p.finished(rep, start)
		return rep
	default:
		ok, handled := p.deliver(ctx, res, it)
		if !handled {
			p.finished(rep, start)
			return rep
		}
		if ok {
			rep.Notified++
		}
	}

	if err := p.deps.Store.PutVersionMark(ctx, res.Name, tag); err != nil {
		p.log.Warn("persist version mark failed", logx.String("tag", tag), logx.Err(err))
	}
	p.mu.Lock()
	p.mark, p.markKnown = tag, true
	p.mu.Unlock()
	p.finished(rep, start)
	return rep
}

// deliver renders and hands an item to the notifier. handled is false when
// rendering failed and the item must stay unprocessed; ok reports whether
// the notifier accepted it.
func (p *Poller) deliver(ctx context.Context, res Resource, it Item) (ok, handled bool) {
	n, err := Render(res, it)
	if err != nil {
		recordSkipped(it.Kind, "render")
		p.log.Warn("render failed, skipping item", logx.String("key", it.Key), logx.Err(err))
		return false, false
	}
	if err := p.deps.Notifier.Notify(ctx, n); err != nil {
		recordSkipped(it.Kind, "delivery")
		p.log.Warn("notify failed, item stays processed", logx.Err(&DeliveryError{Key: it.Key, Err: err}))
		return false, true
	}
	recordNotified(it.Kind)
	return true, true
}

func (p *Poller) ensureUpstream(ctx context.Context) (Resource, error) {
	res := p.Resource()
	if res.Kind != KindPackage || res.Upstream != "" {
		return res, nil
	}
	if p.deps.Resolver == nil {
		return res, ErrUnresolved
	}
	full, found, err := p.deps.Resolver.Resolve(ctx, res.Name)
	if err != nil {
		return res, err
	}
	if !found {
		return res, fmt.Errorf("%s: %w", res.Name, ErrUnresolved)
	}

	p.mu.Lock()
	p.res.Upstream = full
	res = p.res
	hook := p.onResolved
	p.mu.Unlock()
	p.log.Info("upstream resolved", logx.String("upstream", full))
	if hook != nil {
		hook(res)
	}
	return res, nil
}

func (p *Poller) fetchFailed(rep KindReport, err error, start time.Time) KindReport {
	rep.Err = err
	now := p.deps.Now()
	took := now.Sub(start)
	res := p.Resource()
	ev := PollEvent{Resource: res.ID(), Kind: rep.Kind, Took: took, Error: err.Error()}

	if rl, ok := github.AsRateLimited(err); ok && !p.shortRateLimit(rl) {
		until := now.Add(rl.Wait(now))
		p.mu.Lock()
		p.streams[rep.Kind].pausedUntil = until
		p.lastErr = err.Error()
		p.mu.Unlock()
		rep.PausedUntil = until
		ev.PausedUntil = until
		recordPoll(rep.Kind, "rate_limited", took.Seconds())
		p.log.Warn("rate limited, pausing stream", logx.String("kind", string(rep.Kind)), logx.Time("until", until))
		p.publish(eventbus.TypePollPaused, now, ev)
		return rep
	}

	p.mu.Lock()
	p.lastErr = err.Error()
	p.mu.Unlock()
	recordPoll(rep.Kind, "error", took.Seconds())
	p.log.Warn("poll failed", logx.String("kind", string(rep.Kind)), logx.Err(err))
	p.publish(eventbus.TypePollFailed, now, ev)
	return rep
}

func (p *Poller) finished(rep KindReport, start time.Time) {
	now := p.deps.Now()
	took := now.Sub(start)
	p.mu.Lock()
	p.lastCheck = now
	p.lastErr = ""
	p.mu.Unlock()
	recordPoll(rep.Kind, "ok", took.Seconds())
	if rep.Notified > 0 || rep.Malformed > 0 {
		p.log.Info("poll completed",
			logx.String("kind", string(rep.Kind)),
			logx.Int("fetched", rep.Fetched),
			logx.Int("notified", rep.Notified),
			logx.Int("malformed", rep.Malformed),
		)
	}
	p.publish(eventbus.TypePollCompleted, now, PollEvent{
		Resource: p.Resource().ID(), Kind: rep.Kind, Fetched: rep.Fetched, Notified: rep.Notified, Took: took,
	})
}

func (p *Poller) publish(typ string, at time.Time, ev PollEvent) {
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}
}
