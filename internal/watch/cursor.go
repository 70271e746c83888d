package watch

import (
	"sync"
	"time"
)

// Cursors holds the last-checked time of every stream of one resource.
// They live in memory only; a restart looks back from the default again
// and the processed set filters what was already sent.
type Cursors struct {
	mu      sync.Mutex
	initial time.Time
	m       map[EventKind]time.Time
}

func NewCursors(initial time.Time) *Cursors {
	return &Cursors{initial: initial, m: map[EventKind]time.Time{}}
}

func (c *Cursors) Get(kind EventKind) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.m[kind]; ok {
		return t
	}
	return c.initial
}

// Advance moves the cursor forward to t. It never moves backwards and
// reports whether the value changed.
func (c *Cursors) Advance(kind EventKind, t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.m[kind]
	if !ok {
		cur = c.initial
	}
	if !t.After(cur) {
		return false
	}
	c.m[kind] = t
	return true
}
