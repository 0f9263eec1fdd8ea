package session

import (
	"sync"
	"time"
)

const (
	idTimeMask   = 0x1FFFFF // 21 bits of milliseconds
	idTimeShift  = 10
	idMaxCounter = 1<<idTimeShift - 1
)

// idGenerator hands out request ids of the form (ms & 0x1FFFFF) << 10 + n,
// where n counts the ids issued within the same millisecond. The time part
// lets a stray reply's age be estimated from its id alone. ms never moves
// backwards, so a clock step cannot reissue an id still in flight.
type idGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	lastMs  int64
	counter int32
}

func newIDGenerator(now func() time.Time) *idGenerator {
	return &idGenerator{now: now, lastMs: -1}
}

func (g *idGenerator) next() (int32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := max(g.now().UnixMilli(), g.lastMs)
	if ms != g.lastMs {
		g.lastMs = ms
		g.counter = 0
	}
	if g.counter > idMaxCounter {
		return 0, ErrRequestIDOverflow
	}
	id := int32(ms&idTimeMask)<<idTimeShift + g.counter
	g.counter++
	return id, nil
}

// idAge estimates how long ago id was issued, modulo the 21 bit wrap.
func idAge(id int32, now time.Time) time.Duration {
	age := now.UnixMilli()&idTimeMask - int64(id>>idTimeShift)
	if age < 0 {
		age += idTimeMask + 1
	}
	return time.Duration(age) * time.Millisecond
}
