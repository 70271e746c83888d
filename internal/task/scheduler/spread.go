package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// offsetSchedule answers the first Next with first (or t itself when first
// has already passed), then delegates to base. cron calls Next from its run
// goroutine only.
type offsetSchedule struct {
	base    cron.Schedule
	first   time.Time
	started bool
}

func (s *offsetSchedule) Next(t time.Time) time.Time {
	if !s.started {
		s.started = true
		if s.first.After(t) {
			return s.first
		}
		return t
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

// makeOffsetSchedule places the first run at now+offset plus a random spread
// below min(maxSpread, every). Entries sharing an offset still land apart.
func makeOffsetSchedule(every, offset, maxSpread time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(maxSpread, every)
	var spread time.Duration
	if spreadMax > 0 {
		seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
		spread = time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spreadMax)))
	}
	return &offsetSchedule{base: base, first: now.Add(offset + spread)}, spread
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
