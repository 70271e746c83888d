package watch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"ghwatch/internal/github"
	"ghwatch/internal/storage"
	"ghwatch/internal/task/engine"
	"ghwatch/internal/task/scheduler"
	kit "ghwatch/internal/transport"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fetchCall struct {
	Res   Resource
	Kind  EventKind
	Since time.Time
}

type fakeFetcher struct {
	mu    sync.Mutex
	items map[EventKind][]Item
	errs  map[EventKind]error
	calls []fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{items: map[EventKind][]Item{}, errs: map[EventKind]error{}}
}

func (f *fakeFetcher) set(kind EventKind, items ...Item) {
	f.mu.Lock()
	f.items[kind] = items
	f.mu.Unlock()
}

func (f *fakeFetcher) fail(kind EventKind, err error) {
	f.mu.Lock()
	f.errs[kind] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(_ context.Context, res Resource, kind EventKind, since time.Time) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{Res: res, Kind: kind, Since: since})
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return slices.Clone(f.items[kind]), nil
}

func (f *fakeFetcher) callsFor(kind EventKind) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) all() []kit.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

type fakeSched struct {
	mu      sync.Mutex
	entries map[string]scheduler.Entry
	adds    int
	removes int
}

func newFakeSched() *fakeSched { return &fakeSched{entries: map[string]scheduler.Entry{}} }

func (s *fakeSched) Add(e scheduler.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Name] = e
	s.adds++
	return nil
}

func (s *fakeSched) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	s.removes++
	return ok
}

func (s *fakeSched) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return t0.Add(e.Offset)
}

func (s *fakeSched) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// syncRunner runs tasks inline.
type syncRunner struct {
	mu    sync.Mutex
	names []string
}

func (r *syncRunner) Do(ctx context.Context, t engine.Task) error {
	r.mu.Lock()
	r.names = append(r.names, t.Name)
	r.mu.Unlock()
	return t.Run(ctx)
}

type fakeResolver struct {
	m   map[string]string
	err error
}

func (r fakeResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	full, ok := r.m[name]
	return full, ok, nil
}

// brokenStore fails to load processed events.
type brokenStore struct {
	*storage.Memory
}

func (brokenStore) LoadProcessed(context.Context, string) ([]string, error) {
	return nil, errors.New("disk on fire")
}

type testEnv struct {
	clock    *clock
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	sched    *fakeSched
	runner   *syncRunner
	store    *storage.Memory
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		clock:    newClock(),
		fetcher:  newFakeFetcher(),
		notifier: &fakeNotifier{},
		sched:    newFakeSched(),
		runner:   &syncRunner{},
		store:    storage.NewMemory(),
	}
	e.deps = Deps{
		Fetcher:  e.fetcher,
		Resolver: fakeResolver{m: map[string]string{"express": "expressjs/express"}},
		Notifier: e.notifier,
		Store:    e.store,
		Engine:   e.runner,
		Sched:    e.sched,
		Now:      e.clock.Now,
	}
	return e
}

var repoRes = Resource{Kind: KindRepository, Name: "octo/hello", Target: kit.ChatTarget{ChatID: 42}}

func commitItem(repo, sha string, at time.Time, msg string) Item {
	c := &github.Commit{SHA: sha, HTMLURL: "https://github.com/" + repo + "/commit/" + sha}
	c.Commit.Message = msg
	c.Commit.Author = github.CommitAuthor{Name: "Ada", Date: at}
	return Item{Kind: EventCommits, Key: CommitKey(repo, sha), At: at, Commit: c}
}

func issueCommentItem(id int64, at time.Time, body string) Item {
	c := &github.IssueComment{
		ID:        id,
		Body:      body,
		HTMLURL:   "https://github.com/octo/hello/issues/7#issuecomment-1",
		IssueURL:  "https://api.github.com/repos/octo/hello/issues/7",
		CreatedAt: at,
		User:      github.User{Login: "bob"},
	}
	return Item{Kind: EventIssueComments, Key: IssueCommentKey(id), At: at, IssueComment: c}
}

func releaseItem(tag string, at time.Time) Item {
	r := &github.Release{TagName: tag, Body: "notes for " + tag, PublishedAt: at, HTMLURL: "https://github.com/expressjs/express/releases/tag/" + tag}
	return Item{Kind: EventRelease, At: at, Release: r}
}
