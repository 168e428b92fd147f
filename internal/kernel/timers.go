package kernel

import (
	"sort"
	"sync"
	"time"
)

// timerSet tracks outstanding one-shot timers.
//
// Ids are monotonically increasing and never reused within a scheduler
// instance; the id is the only handle callers retain. Countdown happens on
// the tick path via advance, so timer resolution is tick granularity
// regardless of the requested duration.
type timerSet struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]time.Duration // remaining
}

func newTimerSet() *timerSet {
	return &timerSet{active: map[uint64]time.Duration{}}
}

// start registers a one-shot timer and returns its id immediately; it never
// blocks the caller. Non-positive durations fire on the next tick.
func (t *timerSet) start(d time.Duration) uint64 {
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.active[id] = d
	t.mu.Unlock()
	return id
}

// cancel removes an unfired timer from the active set. Canceling a timer
// that already fired (or never existed) is a no-op: a fired timer's event
// may already sit in the queue and is never retroactively removed.
func (t *timerSet) cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}

// advance subtracts delta from every active timer and returns the ids that
// fired, in start order. Each timer fires exactly once and is removed from
// the active set.
func (t *timerSet) advance(delta time.Duration) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fired []uint64
	for id, remaining := range t.active {
		remaining -= delta
		if remaining <= 0 {
			fired = append(fired, id)
			delete(t.active, id)
			continue
		}
		t.active[id] = remaining
	}
	// Map iteration order is random; fire in start order so two timers
	// expiring on the same tick enqueue deterministically.
	sort.Slice(fired, func(i, j int) bool { return fired[i] < fired[j] })
	return fired
}

func (t *timerSet) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
