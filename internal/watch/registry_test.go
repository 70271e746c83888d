package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/storage"
	kit "ghwatch/internal/transport"
)

var alice = Actor{ID: 7, Username: "alice"}

func newTestRegistry(t *testing.T) (*Registry, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewRegistry(Config{}, env.deps), env
}

func TestValidateName(t *testing.T) {
	name, err := ValidateName(KindRepository, "  Octo/Hello ")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", name)

	for _, bad := range []string{"", "octo", "octo/hello/x", "oc to/hello", "/hello"} {
		_, err := ValidateName(KindRepository, bad)
		assert.ErrorIs(t, err, ErrInvalidName, bad)
	}

	name, err = ValidateName(KindPackage, "@types/node")
	require.NoError(t, err)
	assert.Equal(t, "@types/node", name)
	_, err = ValidateName(KindPackage, "no spaces")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = ValidateName(ResourceKind("gist"), "x")
	assert.Error(t, err)
}

func TestTrackRepository(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	env := newTestEnv(t)
	env.deps.Bus = bus
	reg := NewRegistry(Config{}, env.deps)

	res, err := reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "Octo/Hello", Target: kit.ChatTarget{ChatID: 42}, Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", res.Name)
	assert.Equal(t, "alice", res.AddedBy)
	assert.Equal(t, t0, res.AddedAt)

	p, ok := reg.Get(KindRepository, "OCTO/hello")
	require.True(t, ok)
	assert.Equal(t, StateRunning, p.State())
	assert.Len(t, env.sched.names(), 2)

	recs, err := env.store.LoadTracked(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "repo", recs[0].Kind)
	assert.Equal(t, int64(42), recs[0].ChatID)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeResourceTracked, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no tracked event")
	}

	_, err = reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "octo/hello", Actor: alice})
	assert.ErrorIs(t, err, ErrAlreadyTracked)

	audit := env.store.Audit()
	require.Len(t, audit, 2)
	assert.Equal(t, "track", audit[0].Action)
	assert.Equal(t, "repo:octo/hello", audit[0].Target)
	assert.Empty(t, audit[0].Error)
	assert.NotEmpty(t, audit[1].Error)
}

func TestTrackPackageResolvesUpstream(t *testing.T) {
	reg, env := newTestRegistry(t)
	res, err := reg.Track(context.Background(), TrackRequest{Kind: KindPackage, Name: "express", Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, "expressjs/express", res.Upstream)

	recs, err := env.store.LoadTracked(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "expressjs/express", recs[0].Upstream)
	assert.Equal(t, []string{"pkg:express:release"}, env.sched.names())
}

func TestTrackUnresolvablePackage(t *testing.T) {
	reg, env := newTestRegistry(t)
	_, err := reg.Track(context.Background(), TrackRequest{Kind: KindPackage, Name: "left-pad-nope", Actor: alice})
	assert.ErrorIs(t, err, ErrUnresolved)
	_, ok := reg.Get(KindPackage, "left-pad-nope")
	assert.False(t, ok)
	recs, _ := env.store.LoadTracked(context.Background())
	assert.Empty(t, recs)
	assert.Empty(t, env.sched.names())
}

func TestTrackResolverError(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Resolver = fakeResolver{err: errors.New("search down")}
	reg := NewRegistry(Config{}, env.deps)
	_, err := reg.Track(context.Background(), TrackRequest{Kind: KindPackage, Name: "express"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnresolved)

	// The reservation is released after a failure.
	env.deps.Resolver = fakeResolver{m: map[string]string{"express": "expressjs/express"}}
	reg.deps.Resolver = env.deps.Resolver
	_, err = reg.Track(context.Background(), TrackRequest{Kind: KindPackage, Name: "express"})
	assert.NoError(t, err)
}

func TestUntrackPurgesState(t *testing.T) {
	ctx := context.Background()
	reg, env := newTestRegistry(t)
	env.fetcher.set(EventCommits, commitItem("octo/hello", "1111111aaaa", t0.Add(-time.Minute), "m"))

	_, err := reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "octo/hello", Target: repoRes.Target, Actor: alice})
	require.NoError(t, err)
	rep, err := reg.Check(ctx, KindRepository, "octo/hello", alice, repoRes.Target)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Notified())

	require.NoError(t, reg.Untrack(ctx, KindRepository, "Octo/Hello", alice, repoRes.Target))
	_, ok := reg.Get(KindRepository, "octo/hello")
	assert.False(t, ok)
	assert.Empty(t, env.sched.names())
	keys, err := env.store.LoadProcessed(ctx, "octo/hello")
	require.NoError(t, err)
	assert.Empty(t, keys)
	recs, err := env.store.LoadTracked(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.ErrorIs(t, reg.Untrack(ctx, KindRepository, "octo/hello", alice, repoRes.Target), ErrNotTracked)

	// Tracking again starts from scratch.
	_, err = reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "octo/hello", Target: repoRes.Target, Actor: alice})
	require.NoError(t, err)
	rep, err = reg.Check(ctx, KindRepository, "octo/hello", alice, repoRes.Target)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Notified())

	var actions []string
	for _, e := range env.store.Audit() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"track", "check", "untrack", "untrack", "track", "check"}, actions)
}

func TestUntrackFinishesAfterCallerCancels(t *testing.T) {
	ctx := context.Background()
	reg, env := newTestRegistry(t)
	env.fetcher.set(EventCommits, commitItem("octo/hello", "1111111aaaa", t0.Add(-time.Minute), "m"))

	_, err := reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "octo/hello", Target: repoRes.Target, Actor: alice})
	require.NoError(t, err)
	_, err = reg.Check(ctx, KindRepository, "octo/hello", alice, repoRes.Target)
	require.NoError(t, err)

	p, ok := reg.Get(KindRepository, "octo/hello")
	require.True(t, ok)
	busy := p.streams[EventCommits]
	require.NoError(t, busy.lock(ctx))

	reqCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- reg.Untrack(reqCtx, KindRepository, "octo/hello", alice, repoRes.Target) }()
	cancel()
	time.Sleep(20 * time.Millisecond)
	busy.unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("untrack did not finish")
	}
	keys, err := env.store.LoadProcessed(ctx, "octo/hello")
	require.NoError(t, err)
	assert.Empty(t, keys)
	recs, err := env.store.LoadTracked(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCheckUnknownResource(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Check(context.Background(), KindRepository, "octo/none", alice, kit.ChatTarget{})
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestCheckReportsStreamErrors(t *testing.T) {
	reg, env := newTestRegistry(t)
	_, err := reg.Track(context.Background(), TrackRequest{Kind: KindRepository, Name: "octo/hello"})
	require.NoError(t, err)
	env.fetcher.fail(EventPRComments, errors.New("boom"))

	rep, err := reg.Check(context.Background(), KindRepository, "octo/hello", alice, kit.ChatTarget{})
	require.Error(t, err)
	assert.Len(t, rep.Kinds, 3)
	assert.Contains(t, err.Error(), "boom")
}

func TestListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	for _, req := range []TrackRequest{
		{Kind: KindRepository, Name: "zed/z", Target: kit.ChatTarget{ChatID: 1}},
		{Kind: KindRepository, Name: "abc/a", Target: kit.ChatTarget{ChatID: 2}},
		{Kind: KindPackage, Name: "express", Target: kit.ChatTarget{ChatID: 1}},
	} {
		_, err := reg.Track(ctx, req)
		require.NoError(t, err)
	}

	all := reg.List(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "pkg:express", all[0].Resource.ID())
	assert.Equal(t, "repo:abc/a", all[1].Resource.ID())
	assert.Equal(t, "repo:zed/z", all[2].Resource.ID())

	mine := reg.List(InChat(1))
	require.Len(t, mine, 2)
	assert.Equal(t, map[ResourceKind]int{KindRepository: 2, KindPackage: 1}, reg.Counts())
}

func TestRestoreStartsPersistedAndSeeds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.PutTracked(ctx, storage.TrackedRecord{Kind: "repo", Name: "octo/hello", ChatID: 42, AddedBy: "alice"}))
	require.NoError(t, env.store.PutTracked(ctx, storage.TrackedRecord{Kind: "pkg", Name: "express", Upstream: "expressjs/express", ChatID: 42}))

	reg := NewRegistry(Config{}, env.deps)
	seeds := []Resource{
		{Kind: KindRepository, Name: "octo/hello"},
		{Kind: KindRepository, Name: "Golang/Go", Target: kit.ChatTarget{ChatID: 9}},
		{Kind: KindRepository, Name: "not a repo"},
	}
	require.NoError(t, reg.Restore(ctx, seeds))

	all := reg.List(nil)
	require.Len(t, all, 3)
	p, ok := reg.Get(KindRepository, "golang/go")
	require.True(t, ok)
	assert.Equal(t, "seed", p.Resource().AddedBy)
	assert.Equal(t, "alice", all[2].Resource.AddedBy)

	recs, err := env.store.LoadTracked(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	require.NoError(t, reg.Shutdown(ctx))
	assert.Empty(t, env.sched.names())
	_, err = reg.Track(ctx, TrackRequest{Kind: KindRepository, Name: "new/one"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResolvedUpstreamIsPersisted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.PutTracked(ctx, storage.TrackedRecord{Kind: "pkg", Name: "express", ChatID: 42}))
	reg := NewRegistry(Config{}, env.deps)
	require.NoError(t, reg.Restore(ctx, nil))

	_, err := reg.Check(ctx, KindPackage, "express", alice, kit.ChatTarget{})
	require.NoError(t, err)
	recs, err := env.store.LoadTracked(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "expressjs/express", recs[0].Upstream)
}
