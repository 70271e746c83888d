package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ghwatch/internal/task/engine"
	"ghwatch/pkg/logx"
)

type fakeEngine struct {
	mu        sync.Mutex
	tasks     []engine.Task
	forgotten []string
	fired     chan string
	err       error
}

func newFakeEngine() *fakeEngine { return &fakeEngine{fired: make(chan string, 16)} }

func (f *fakeEngine) Enqueue(t engine.Task) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, t)
	err := f.err
	f.mu.Unlock()
	f.fired <- t.Name
	return err
}

func (f *fakeEngine) Forget(name string) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, name)
	f.mu.Unlock()
}

func noop(context.Context) error { return nil }

func TestOffsetScheduleFirstRun(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sched, spread := makeOffsetSchedule(5*time.Minute, 2*time.Minute, 0, now, "x")
	if spread != 0 {
		t.Fatalf("spread=%s", spread)
	}
	first := sched.Next(now)
	if want := now.Add(2 * time.Minute); !first.Equal(want) {
		t.Fatalf("first=%s want %s", first, want)
	}
	second := sched.Next(first)
	if want := first.Add(5 * time.Minute); !second.Equal(want) {
		t.Fatalf("second=%s want %s", second, want)
	}
}

func TestOffsetScheduleSpreadBounded(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for i := 0; i < 50; i++ {
		_, spread := makeOffsetSchedule(10*time.Second, 0, time.Minute, now, "tag")
		if spread < 0 || spread >= 10*time.Second {
			t.Fatalf("spread %s outside interval bound", spread)
		}
	}
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, newFakeEngine(), logx.Nop(), nil)
	cases := []Entry{
		{Name: "", Every: time.Second, Job: noop},
		{Name: "a", Every: 0, Job: noop},
		{Name: "a", Every: time.Second},
	}
	for i, e := range cases {
		if err := s.Add(e); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestFiresIntoEngineWithOverlapGate(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	s := New(Config{Enabled: true}, eng, logx.Nop(), nil)
	if err := s.Add(Entry{Name: "repo:a/b:commits", Every: time.Hour, Job: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case name := <-eng.fired:
		if name != "repo:a/b:commits" {
			t.Fatalf("fired %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("entry with zero offset did not fire")
	}

	eng.mu.Lock()
	task := eng.tasks[0]
	eng.mu.Unlock()
	if task.Opt.Overlap != engine.OverlapSkipIfRunning || task.State == nil {
		t.Fatalf("scheduled task must be overlap gated: %+v", task.Opt)
	}

	next := s.Next("repo:a/b:commits")
	if until := time.Until(next); until < 58*time.Minute || until > time.Hour {
		t.Fatalf("next fire in %s", until)
	}
}

func TestRemoveForgetsEngineState(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	s := New(Config{Enabled: true}, eng, logx.Nop(), nil)
	_ = s.Add(Entry{Name: "pkg:x:release", Every: time.Hour, Offset: time.Hour, Job: noop})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if !s.Remove("pkg:x:release") {
		t.Fatalf("remove reported false")
	}
	if s.Remove("pkg:x:release") {
		t.Fatalf("second remove reported true")
	}
	if !s.Next("pkg:x:release").IsZero() {
		t.Fatalf("removed entry still scheduled")
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.forgotten) != 1 || eng.forgotten[0] != "pkg:x:release" {
		t.Fatalf("forgotten=%v", eng.forgotten)
	}
}

func TestSnapshotAndRestart(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.err = errors.New("queue full")
	s := New(Config{Enabled: true}, eng, logx.Nop(), nil)
	_ = s.Add(Entry{Name: "b", Every: time.Hour, Offset: time.Hour, Job: noop})
	_ = s.Add(Entry{Name: "a", Every: time.Hour, Offset: 30 * time.Minute, Job: noop})

	snap := s.Snapshot()
	if snap.Running || len(snap.Schedules) != 2 || snap.Schedules[0].Name != "a" {
		t.Fatalf("snapshot before start: %+v", snap)
	}

	s.Start(context.Background())
	if !s.Snapshot().Running || s.Next("a").IsZero() {
		t.Fatalf("not running after start")
	}
	s.Stop(context.Background())
	if s.Snapshot().Running || !s.Next("a").IsZero() {
		t.Fatalf("still running after stop")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if s.Next("b").IsZero() {
		t.Fatalf("definitions not restored on restart")
	}
}
