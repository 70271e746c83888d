package watch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/storage"
	kit "ghwatch/internal/transport"
	"ghwatch/pkg/logx"
)

var packageNameRe = regexp.MustCompile(`^[a-zA-Z0-9@._/-]+$`)

// untrackCleanupTimeout bounds the purge after a resource is removed.
// It outlives the caller's context so a dropped request never leaves a
// half-deleted resource behind.
const untrackCleanupTimeout = time.Minute

// Actor identifies who asked for a registry change.
type Actor struct {
	ID       int64
	Username string
}

type TrackRequest struct {
	Kind   ResourceKind
	Name   string
	Target kit.ChatTarget
	Actor  Actor
}

// ResourceEvent is published when a resource is tracked or removed.
type ResourceEvent struct {
	Resource string `json:"resource"`
	ChatID   int64  `json:"chat_id"`
	Actor    string `json:"actor,omitempty"`
}

// Registry owns the pollers of all tracked resources.
type Registry struct {
	deps Deps
	cfg  Config
	log  logx.Logger

	mu      sync.RWMutex
	pollers map[string]*Poller
	pending map[string]struct{}
	closed  bool
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Registry{
		deps:    deps,
		cfg:     cfg,
		log:     deps.Log.With(logx.String("comp", "registry")),
		pollers: map[string]*Poller{},
		pending: map[string]struct{}{},
	}
}

// ValidateName normalizes name and checks it for kind.
func ValidateName(kind ResourceKind, name string) (string, error) {
	key := Key(name)
	switch kind {
	case KindRepository:
		if !ValidRepoName(key) {
			return "", fmt.Errorf("%w: %q, expected owner/repo", ErrInvalidName, name)
		}
	case KindPackage:
		if key == "" || !packageNameRe.MatchString(key) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	default:
		return "", fmt.Errorf("unknown resource kind %q", kind)
	}
	return key, nil
}

// Track starts watching a resource. Packages are resolved to their
// upstream repository first and fail with ErrUnresolved when nothing
// matches.
func (r *Registry) Track(ctx context.Context, req TrackRequest) (Resource, error) {
	start := r.deps.Now()
	res, err := r.track(ctx, req)
	target := string(req.Kind) + ":" + Key(req.Name)
	if err == nil {
		target = res.ID()
	}
	r.audit(ctx, "track", target, req.Actor, req.Target, start, err)
	return res, err
}

func (r *Registry) track(ctx context.Context, req TrackRequest) (Resource, error) {
	name, err := ValidateName(req.Kind, req.Name)
	if err != nil {
		return Resource{}, err
	}
	res := Resource{
		Kind:    req.Kind,
		Name:    name,
		Target:  req.Target,
		AddedBy: req.Actor.Username,
		AddedAt: r.deps.Now().UTC(),
	}
	id := res.ID()
	if err := r.reserve(id); err != nil {
		return Resource{}, err
	}
	defer r.release(id)

	if res.Kind == KindPackage {
		if r.deps.Resolver == nil {
			return Resource{}, ErrUnresolved
		}
		full, found, err := r.deps.Resolver.Resolve(ctx, name)
		if err != nil {
			return Resource{}, fmt.Errorf("resolve %s: %w", name, err)
		}
		if !found {
			return Resource{}, fmt.Errorf("%s: %w", name, ErrUnresolved)
		}
		res.Upstream = full
	}

	if err := r.deps.Store.PutTracked(ctx, toRecord(res)); err != nil {
		return Resource{}, fmt.Errorf("persist %s: %w", id, err)
	}
	p := r.newPoller(res)
	if err := p.Start(ctx); err != nil {
		_ = r.deps.Store.DeleteTracked(ctx, string(res.Kind), res.Name)
		return Resource{}, err
	}

	r.mu.Lock()
	r.pollers[id] = p
	r.mu.Unlock()
	r.updateGauges()
	r.log.Info("resource tracked", logx.String("resource", id), logx.String("upstream", res.Upstream), logx.String("by", res.AddedBy))
	r.publish(eventbus.TypeResourceTracked, res, req.Actor)
	return res, nil
}

// Untrack stops a resource and deletes everything persisted for it.
func (r *Registry) Untrack(ctx context.Context, kind ResourceKind, name string, actor Actor, from kit.ChatTarget) error {
	start := r.deps.Now()
	key := Key(name)
	res := Resource{Kind: kind, Name: key}
	id := res.ID()

	r.mu.Lock()
	p, ok := r.pollers[id]
	if ok {
		// Held pending until the purge is done so a re-track starts clean.
		delete(r.pollers, id)
		r.pending[id] = struct{}{}
		defer r.release(id)
	}
	r.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("%s: %w", id, ErrNotTracked)
	} else {
		res = p.Resource()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), untrackCleanupTimeout)
		err = errors.Join(
			p.Destroy(cctx),
			r.deps.Store.DeleteTracked(cctx, string(kind), key),
		)
		cancel()
		r.updateGauges()
		r.log.Info("resource removed", logx.String("resource", id), logx.Err(err))
		r.publish(eventbus.TypeResourceRemoved, res, actor)
	}
	r.audit(context.WithoutCancel(ctx), "untrack", id, actor, from, start, err)
	return err
}

// Check runs a manual check of a tracked resource.
func (r *Registry) Check(ctx context.Context, kind ResourceKind, name string, actor Actor, from kit.ChatTarget) (Report, error) {
	start := r.deps.Now()
	id := Resource{Kind: kind, Name: Key(name)}.ID()
	p, ok := r.Get(kind, name)
	var (
		rep Report
		err error
	)
	if !ok {
		err = fmt.Errorf("%s: %w", id, ErrNotTracked)
	} else {
		rep, err = p.ManualCheck(ctx)
		if err == nil {
			err = rep.Err()
		}
	}
	r.audit(ctx, "check", id, actor, from, start, err)
	return rep, err
}

func (r *Registry) Get(kind ResourceKind, name string) (*Poller, bool) {
	id := Resource{Kind: kind, Name: Key(name)}.ID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pollers[id]
	return p, ok
}

// List returns the status of every resource accepted by keep, sorted by
// id. A nil keep lists everything.
func (r *Registry) List(keep func(Resource) bool) []Status {
	r.mu.RLock()
	ps := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		ps = append(ps, p)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(ps))
	for _, p := range ps {
		st := p.Status()
		if keep == nil || keep(st.Resource) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource.ID() < out[j].Resource.ID() })
	return out
}

// InChat keeps resources that notify the given chat.
func InChat(chatID int64) func(Resource) bool {
	return func(res Resource) bool { return res.Target.ChatID == chatID }
}

// Counts returns the number of tracked resources per kind.
func (r *Registry) Counts() map[ResourceKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[ResourceKind]int{KindRepository: 0, KindPackage: 0}
	for _, p := range r.pollers {
		out[p.Resource().Kind]++
	}
	return out
}

// Restore starts pollers for every persisted resource, then tracks seeds
// that are not yet known. Failures are logged and skipped.
func (r *Registry) Restore(ctx context.Context, seeds []Resource) error {
	recs, err := r.deps.Store.LoadTracked(ctx)
	if err != nil {
		return fmt.Errorf("load tracked: %w", err)
	}
	restored := 0
	for _, rec := range recs {
		res := fromRecord(rec)
		if err := r.restoreOne(ctx, res); err != nil {
			r.log.Warn("restore failed", logx.String("resource", res.ID()), logx.Err(err))
			continue
		}
		restored++
	}

	seeded := 0
	for _, s := range seeds {
		name, err := ValidateName(s.Kind, s.Name)
		if err != nil {
			r.log.Warn("invalid seed", logx.String("name", s.Name), logx.Err(err))
			continue
		}
		s.Name = name
		if _, ok := r.Get(s.Kind, name); ok {
			continue
		}
		if s.AddedAt.IsZero() {
			s.AddedAt = r.deps.Now().UTC()
		}
		if s.AddedBy == "" {
			s.AddedBy = "seed"
		}
		if err := r.deps.Store.PutTracked(ctx, toRecord(s)); err != nil {
			r.log.Warn("persist seed failed", logx.String("resource", s.ID()), logx.Err(err))
			continue
		}
		if err := r.restoreOne(ctx, s); err != nil {
			r.log.Warn("seed failed", logx.String("resource", s.ID()), logx.Err(err))
			continue
		}
		seeded++
	}
	r.log.Info("registry restored", logx.Int("restored", restored), logx.Int("seeded", seeded))
	return nil
}

func (r *Registry) restoreOne(ctx context.Context, res Resource) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.pollers[res.ID()]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	p := r.newPoller(res)
	if err := p.Start(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.pollers[res.ID()] = p
	r.mu.Unlock()
	r.updateGauges()
	return nil
}

// Shutdown stops every poller and flushes its state. Persisted resources
// are kept for the next start.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ps := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		ps = append(ps, p)
	}
	r.mu.Unlock()

	var errs []error
	for _, p := range ps {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Resource().ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) newPoller(res Resource) *Poller {
	p := NewPoller(res, r.cfg, r.deps)
	p.onResolved = r.persistResolved
	return p
}

func (r *Registry) persistResolved(res Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.Store.PutTracked(ctx, toRecord(res)); err != nil {
		r.log.Warn("persist upstream failed", logx.String("resource", res.ID()), logx.Err(err))
	}
}

func (r *Registry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.pollers[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrAlreadyTracked)
	}
	if _, ok := r.pending[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrAlreadyTracked)
	}
	r.pending[id] = struct{}{}
	return nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Registry) updateGauges() {
	for k, n := range r.Counts() {
		setTracked(k, n)
	}
}

func (r *Registry) audit(ctx context.Context, action, target string, actor Actor, from kit.ChatTarget, start time.Time, err error) {
	e := storage.AuditEntry{
		At:            start.UTC(),
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		ChatID:        from.ChatID,
		ThreadID:      from.ThreadID,
		Action:        action,
		Target:        target,
		TookMS:        r.deps.Now().Sub(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := r.deps.Store.AppendAudit(ctx, e); aerr != nil {
		r.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func (r *Registry) publish(typ string, res Resource, actor Actor) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Time: r.deps.Now(),
		Data: ResourceEvent{Resource: res.ID(), ChatID: res.Target.ChatID, Actor: actor.Username},
	})
}

func toRecord(res Resource) storage.TrackedRecord {
	return storage.TrackedRecord{
		Kind:     string(res.Kind),
		Name:     res.Name,
		Upstream: res.Upstream,
		ChatID:   res.Target.ChatID,
		ThreadID: res.Target.ThreadID,
		AddedBy:  res.AddedBy,
		AddedAt:  res.AddedAt,
	}
}

func fromRecord(rec storage.TrackedRecord) Resource {
	kind := KindRepository
	if rec.Kind == string(KindPackage) {
		kind = KindPackage
	}
	return Resource{
		Kind:     kind,
		Name:     Key(rec.Name),
		Upstream: rec.Upstream,
		Target:   kit.ChatTarget{ChatID: rec.ChatID, ThreadID: rec.ThreadID},
		AddedBy:  rec.AddedBy,
		AddedAt:  rec.AddedAt,
	}
}
