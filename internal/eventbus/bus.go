package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by ghwatch components.
const (
	TypePollCompleted   = "poll.completed"
	TypePollFailed      = "poll.failed"
	TypePollPaused      = "poll.paused"
	TypeResourceTracked = "resource.tracked"
	TypeResourceRemoved = "resource.removed"
	TypeNotifySent      = "notifier.sent"
	TypeNotifyFailed    = "notifier.failed"
	TypeTaskStarted     = "task.started"
	TypeTaskFinished    = "task.finished"
	TypeTaskFailed      = "task.failed"
	TypeTaskDropped     = "task.dropped"
	TypeConfigReloaded  = "config.reloaded"
	TypeSupervisorError = "supervisor.error"
)

// Event is a small in-memory signal used to decouple components.
//
// Publish never blocks; subscribers get buffered channels and a slow
// subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
