package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/task/engine"
	"ghwatch/pkg/logx"
)

type Config struct {
	Enabled bool
	// StartupSpread caps the random delay added to each entry's first run.
	// 0 disables spreading.
	StartupSpread time.Duration
}

type TaskOptions = engine.TaskOptions

// Entry describes one periodic task.
type Entry struct {
	Name    string
	Every   time.Duration
	Offset  time.Duration
	Timeout time.Duration
	Opt     TaskOptions
	Job     func(ctx context.Context) error
}

type scheduleDef struct {
	Entry
	entryID cron.EntryID
	spread  time.Duration
	state   *engine.RunState
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
	Forget(name string)
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	engine Enqueuer

	c    *cron.Cron
	defs map[string]*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string
	Every   time.Duration
	Offset  time.Duration
	Timeout time.Duration
	Busy    bool
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Schedules []ScheduleInfo
}
