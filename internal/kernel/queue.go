package kernel

import (
	"sync"

	"golang.org/x/time/rate"

	logx "pixos/pkg/logx"
)

// QueueStats is a point-in-time view of the event queue.
type QueueStats struct {
	Depth    int
	Enqueued uint64
	Dropped  uint64
}

// queue is the single FIFO holding pending events.
//
// enqueue is safe to call from any goroutine (devices, the tick driver, the
// running script); dequeue is only called by the scheduler's tick path. The
// queue is capped; overflow is reported to the producer and logged at a
// rate-limited Warn so a misbehaving producer can't flood the log either.
type queue struct {
	mu       sync.Mutex
	items    []*Event
	capacity int
	enqueued uint64
	dropped  uint64

	log     logx.Logger
	warnLim *rate.Limiter
}

const defaultQueueCap = 256

func newQueue(capacity int, log logx.Logger) *queue {
	if capacity <= 0 {
		capacity = defaultQueueCap
	}
	return &queue{
		capacity: capacity,
		log:      log,
		warnLim:  rate.NewLimiter(rate.Limit(1), 3),
	}
}

func (q *queue) enqueue(e *Event) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.dropped++
		dropped := q.dropped
		q.mu.Unlock()
		if q.warnLim.Allow() {
			q.log.Warn("event queue full, dropping event",
				logx.String("event", e.Name),
				logx.Uint64("dropped_total", dropped),
			)
		}
		return ErrQueueFull
	}
	q.items = append(q.items, e)
	q.enqueued++
	q.mu.Unlock()
	return nil
}

func (q *queue) dequeue() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	// Shift rather than re-slice so the backing array doesn't pin delivered
	// events.
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return e, true
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Depth: len(q.items), Enqueued: q.enqueued, Dropped: q.dropped}
}
