package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghwatch/internal/github"
	"ghwatch/internal/notifier"
	"ghwatch/internal/task/engine"
	kit "ghwatch/internal/transport"
	"ghwatch/internal/transport/telegram/router"
	"ghwatch/internal/watch"
)

var t0 = time.Date(2024, 9, 10, 8, 0, 0, 0, time.UTC)

type replyAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *replyAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(context.Context) error                     { return nil }

func (a *replyAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *replyAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.sent)
	return a.sent[len(a.sent)-1]
}

type trackCall struct {
	Op   string
	Kind watch.ResourceKind
	Name string
}

type fakeTracker struct {
	calls    []trackCall
	trackErr error
	checkRep watch.Report
	checkErr error
	statuses []watch.Status
}

func (f *fakeTracker) Track(_ context.Context, req watch.TrackRequest) (watch.Resource, error) {
	f.calls = append(f.calls, trackCall{"track", req.Kind, req.Name})
	if f.trackErr != nil {
		return watch.Resource{}, f.trackErr
	}
	res := watch.Resource{Kind: req.Kind, Name: watch.Key(req.Name), Target: req.Target, AddedBy: req.Actor.Username}
	if req.Kind == watch.KindPackage {
		res.Upstream = "expressjs/express"
	}
	return res, nil
}

func (f *fakeTracker) Untrack(_ context.Context, kind watch.ResourceKind, name string, _ watch.Actor, _ kit.ChatTarget) error {
	f.calls = append(f.calls, trackCall{"untrack", kind, name})
	return f.trackErr
}

func (f *fakeTracker) Check(_ context.Context, kind watch.ResourceKind, name string, _ watch.Actor, _ kit.ChatTarget) (watch.Report, error) {
	f.calls = append(f.calls, trackCall{"check", kind, name})
	return f.checkRep, f.checkErr
}

func (f *fakeTracker) List(keep func(watch.Resource) bool) []watch.Status {
	var out []watch.Status
	for _, st := range f.statuses {
		if keep == nil || keep(st.Resource) {
			out = append(out, st)
		}
	}
	return out
}

func (f *fakeTracker) Counts() map[watch.ResourceKind]int {
	out := map[watch.ResourceKind]int{}
	for _, st := range f.statuses {
		out[st.Resource.Kind]++
	}
	return out
}

type harness struct {
	tracker *fakeTracker
	adapter *replyAdapter
	cmds    map[string]router.Command
}

func newHarness(d Deps) *harness {
	h := &harness{tracker: &fakeTracker{}, adapter: &replyAdapter{}, cmds: map[string]router.Command{}}
	if d.Tracker == nil {
		d.Tracker = h.tracker
	}
	if d.Now == nil {
		d.Now = func() time.Time { return t0 }
	}
	for _, c := range Build(d) {
		h.cmds[c.Route] = c
	}
	return h
}

func (h *harness) run(t *testing.T, route string, args ...string) string {
	t.Helper()
	c, ok := h.cmds[route]
	require.True(t, ok, "route %q", route)
	req := &router.Request{
		Chat:    kit.ChatTarget{ChatID: 100},
		FromID:  7,
		From:    "alice",
		Command: route,
		Args:    args,
		Adapter: h.adapter,
	}
	require.NoError(t, c.Handle(context.Background(), req))
	return h.adapter.last(t)
}

func TestBuildAccess(t *testing.T) {
	open := newHarness(Deps{})
	for _, c := range open.cmds {
		assert.Equal(t, router.AccessEveryone, c.Access, c.Route)
	}

	restricted := newHarness(Deps{RestrictMutations: true})
	for route, c := range restricted.cmds {
		want := router.AccessOwnerOnly
		if route == "list" || route == "status" {
			want = router.AccessEveryone
		}
		assert.Equal(t, want, c.Access, route)
	}
}

func TestTrackRepository(t *testing.T) {
	h := newHarness(Deps{})
	out := h.run(t, "track", "Octo/Hello")
	assert.Contains(t, out, "Now tracking repository <code>octo/hello</code>")
	assert.Equal(t, []trackCall{{"track", watch.KindRepository, "Octo/Hello"}}, h.tracker.calls)
}

func TestTrackKindWord(t *testing.T) {
	h := newHarness(Deps{})
	h.run(t, "track", "repo", "octo/hello")
	out := h.run(t, "track", "pkg", "express")
	assert.Contains(t, out, "Now tracking package <code>express</code>")
	assert.Contains(t, out, "expressjs/express")
	assert.Equal(t, []trackCall{
		{"track", watch.KindRepository, "octo/hello"},
		{"track", watch.KindPackage, "express"},
	}, h.tracker.calls)
}

func TestTrackPackageRoute(t *testing.T) {
	h := newHarness(Deps{})
	out := h.run(t, "track package", "express")
	assert.Contains(t, out, "Upstream: <code>expressjs/express</code>")
	require.Len(t, h.tracker.calls, 1)
	assert.Equal(t, watch.KindPackage, h.tracker.calls[0].Kind)
}

func TestUsageWithoutArgs(t *testing.T) {
	h := newHarness(Deps{})
	assert.Contains(t, h.run(t, "track"), "/track owner/repository")
	assert.Contains(t, h.run(t, "untrack package"), "/untrack package &lt;name&gt;")
	assert.Empty(t, h.tracker.calls)
}

func TestExpectedErrorsBecomeReplies(t *testing.T) {
	cases := []struct {
		route string
		arg   string
		err   error
		want  string
	}{
		{"track", "nope", fmt.Errorf("%w: bad", watch.ErrInvalidName), "Invalid repository format"},
		{"track package", "bad name", fmt.Errorf("%w: bad", watch.ErrInvalidName), "Invalid package name"},
		{"track", "octo/hello", watch.ErrAlreadyTracked, "Repository <code>octo/hello</code> is already being tracked"},
		{"track package", "leftpadx", fmt.Errorf("leftpadx: %w", watch.ErrUnresolved), "Could not find a GitHub repository"},
		{"untrack", "Octo/Gone", fmt.Errorf("repo:octo/gone: %w", watch.ErrNotTracked), "<code>/track octo/gone</code>"},
		{"untrack package", "gone", watch.ErrNotTracked, "<code>/track package gone</code>"},
	}
	for _, tc := range cases {
		t.Run(tc.route+" "+tc.arg, func(t *testing.T) {
			h := newHarness(Deps{})
			h.tracker.trackErr = tc.err
			assert.Contains(t, h.run(t, tc.route, tc.arg), tc.want)
		})
	}
}

func TestUnexpectedErrorIsReturned(t *testing.T) {
	h := newHarness(Deps{})
	h.tracker.trackErr = errors.New("disk full")
	req := &router.Request{Chat: kit.ChatTarget{ChatID: 1}, Args: []string{"octo/hello"}, Adapter: h.adapter}
	err := h.cmds["track"].Handle(context.Background(), req)
	require.EqualError(t, err, "disk full")
}

func TestUntrack(t *testing.T) {
	h := newHarness(Deps{})
	out := h.run(t, "untrack", "Octo/Hello")
	assert.Equal(t, "🗑️ Stopped tracking repository <code>octo/hello</code>", out)
}

func TestCheckRendersReport(t *testing.T) {
	h := newHarness(Deps{})
	h.tracker.checkRep = watch.Report{
		Resource: watch.Resource{Kind: watch.KindRepository, Name: "octo/hello"},
		Took:     1500 * time.Millisecond,
		Kinds: []watch.KindReport{
			{Kind: watch.EventCommits, Fetched: 3, Notified: 2, Skipped: 1},
			{Kind: watch.EventIssueComments, PausedUntil: t0.Add(90 * time.Second)},
			{Kind: watch.EventPRComments, Err: errors.New("status 500 <html>")},
		},
	}
	h.tracker.checkErr = errors.New("status 500 <html>")

	out := h.run(t, "check", "octo/hello")
	assert.Contains(t, out, "<code>octo/hello</code> in 1.5s")
	assert.Contains(t, out, "• commits: 3 fetched, 2 new, 1 seen")
	assert.Contains(t, out, "⏸️ issue comments: rate limited, resumes in 1m30s")
	assert.Contains(t, out, "⚠️ pr comments: status 500 &lt;html&gt;")
	assert.Contains(t, out, "📨 2 new notification(s) queued")
}

func TestCheckReleaseRecorded(t *testing.T) {
	h := newHarness(Deps{})
	h.tracker.checkRep = watch.Report{
		Resource: watch.Resource{Kind: watch.KindPackage, Name: "express"},
		Kinds:    []watch.KindReport{{Kind: watch.EventRelease, Fetched: 1, Recorded: "v4.19.0"}},
	}
	out := h.run(t, "check package", "express")
	assert.Contains(t, out, "📌 release: recorded <code>v4.19.0</code> as the current version")
	assert.Contains(t, out, "✨ Nothing new")
	assert.Equal(t, watch.KindPackage, h.tracker.calls[0].Kind)
}

func TestCheckNotTracked(t *testing.T) {
	h := newHarness(Deps{})
	h.tracker.checkErr = fmt.Errorf("repo:x/y: %w", watch.ErrNotTracked)
	assert.Contains(t, h.run(t, "check", "x/y"), "is not being tracked")
}

func TestListCurrentChatOnly(t *testing.T) {
	h := newHarness(Deps{})
	here := kit.ChatTarget{ChatID: 100}
	h.tracker.statuses = []watch.Status{
		{Resource: watch.Resource{Kind: watch.KindRepository, Name: "octo/hello", Target: here}},
		{Resource: watch.Resource{Kind: watch.KindRepository, Name: "octo/paused", Target: here},
			Paused: map[watch.EventKind]time.Time{watch.EventCommits: t0.Add(time.Minute)}},
		{Resource: watch.Resource{Kind: watch.KindRepository, Name: "other/chat", Target: kit.ChatTarget{ChatID: 200}}},
		{Resource: watch.Resource{Kind: watch.KindPackage, Name: "express", Upstream: "expressjs/express", Target: here}, LastVersion: "v4.19.0"},
	}

	out := h.run(t, "list")
	assert.Contains(t, out, "Repositories (2)")
	assert.Contains(t, out, "• <code>octo/hello</code>\n")
	assert.Contains(t, out, "• <code>octo/paused</code> ⏸️")
	assert.Contains(t, out, "Packages (1)")
	assert.Contains(t, out, "• <code>express</code> → expressjs/express (<code>v4.19.0</code>)")
	assert.NotContains(t, out, "other/chat")
}

func TestListEmpty(t *testing.T) {
	h := newHarness(Deps{})
	assert.Contains(t, h.run(t, "list"), "Nothing is tracked in this chat yet")
}

type fakeEngine struct{ s engine.Snapshot }

func (f fakeEngine) Snapshot() engine.Snapshot { return f.s }

type fakeNotifier struct{ s notifier.Stats }

func (f fakeNotifier) Stats() notifier.Stats { return f.s }

func TestStatus(t *testing.T) {
	h := newHarness(Deps{
		Started:  t0.Add(-2 * time.Hour),
		Engine:   fakeEngine{engine.Snapshot{Enabled: true, Workers: 4, QueueLen: 1, QueueCap: 64, Dropped: 1200, DroppedQueueFull: 1200}},
		Notifier: fakeNotifier{notifier.Stats{Enabled: true, Running: true, Queued: 3, Cap: 512}},
		Rate: func() github.RateInfo {
			return github.RateInfo{Limit: 5000, Remaining: 4321, Reset: t0.Add(10 * time.Minute), Observed: t0}
		},
	})
	h.tracker.statuses = []watch.Status{
		{Resource: watch.Resource{Kind: watch.KindRepository, Name: "a/b"}, Loaded: true},
		{Resource: watch.Resource{Kind: watch.KindPackage, Name: "express"}, Loaded: true, LastError: "boom"},
	}

	out := h.run(t, "status")
	assert.Contains(t, out, "Uptime: 2h0m0s")
	assert.Contains(t, out, "• repositories: 1")
	assert.Contains(t, out, "• packages: 1")
	assert.Contains(t, out, "• last check failed: 1")
	assert.NotContains(t, out, "loading")
	assert.Contains(t, out, "• workers: 4, in flight: 0")
	assert.Contains(t, out, "• dropped: 1,200 (full 1,200, stale 0)")
	assert.Contains(t, out, "• queue: 3/512")
	assert.Contains(t, out, "• remaining: 4,321/5,000")
	assert.Contains(t, out, "from now")
}

func TestStatusWithoutOptionalDeps(t *testing.T) {
	h := newHarness(Deps{})
	out := h.run(t, "status")
	assert.Contains(t, out, "ghwatch status")
	assert.NotContains(t, out, "Task engine")
	assert.NotContains(t, out, "GitHub API")
}
