package kernel

import (
	"sync"
	"time"

	logx "pixos/pkg/logx"
)

// RunResult reports how a resume step ended.
type RunResult int

const (
	// RunSuspended: the context blocked in a pull and is waiting for the
	// next event.
	RunSuspended RunResult = iota
	// RunDone: the context completed normally.
	RunDone
	// RunFailed: an error escaped to the top of the context.
	RunFailed
)

// State of the execution context as tracked by the scheduler.
type State int

const (
	// StateIdle: no context bound yet (before Boot).
	StateIdle State = iota
	// StateRunning: currently executing between suspension points.
	StateRunning
	// StateSuspended: blocked in a pull, waiting for the next event.
	StateSuspended
	// StateDead: terminated, normally or by unhandled error.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Context is the opaque execution-context handle. Resume continues execution
// and delivers ev (nil on the very first resume); it returns when the
// context suspends again, completes, or fails. The scheduler never inspects
// interpreter internals.
type Context interface {
	Resume(ev *Event) (RunResult, error)
}

// Config for a scheduler instance.
type Config struct {
	// QueueCap bounds the event queue (default 256).
	QueueCap int
}

// Stats is a point-in-time operational view.
type Stats struct {
	State         State
	Ticks         uint64
	Delivered     uint64
	PendingTimers int
	Queue         QueueStats
}

// Scheduler owns the event queue, the timer registry and the single
// execution context. It is an explicit object so independent instances can
// coexist (the machine builds one per run; tests build many).
//
// Concurrency: Push, StartTimer and CancelTimer are safe from any goroutine.
// Tick must be called from a single driver goroutine. The context's Resume
// runs on the Tick goroutine with no scheduler lock held, so the script may
// re-enter Push/StartTimer freely.
type Scheduler struct {
	log    logx.Logger
	q      *queue
	timers *timerSet

	tickMu sync.Mutex // serializes Tick/Boot

	mu        sync.Mutex
	ctx       Context
	state     State
	booted    bool
	ticks     uint64
	delivered uint64
	haltErr   error

	haltOnce sync.Once
	onHalt   func(err error)
}

func New(cfg Config, log logx.Logger) *Scheduler {
	return &Scheduler{
		log:    log,
		q:      newQueue(cfg.QueueCap, log),
		timers: newTimerSet(),
		state:  StateIdle,
	}
}

// OnHalt installs the host callback invoked exactly once when the context
// dies. err is nil for a normal completion. Must be set before Boot.
func (s *Scheduler) OnHalt(fn func(err error)) {
	s.mu.Lock()
	s.onHalt = fn
	s.mu.Unlock()
}

// Boot binds the context and runs it to its first suspension point.
// Schedulers are single-shot: a second Boot returns ErrBooted.
func (s *Scheduler) Boot(c Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if s.booted {
		s.mu.Unlock()
		return ErrBooted
	}
	s.booted = true
	s.ctx = c
	s.state = StateRunning
	s.mu.Unlock()

	s.resume(c, nil)

	s.mu.Lock()
	err := s.haltErr
	dead := s.state == StateDead
	s.mu.Unlock()
	if dead {
		return err
	}
	return nil
}

// Push enqueues a normal event. The event is never delivered synchronously:
// a suspended consumer observes it on a later tick at the earliest.
func (s *Scheduler) Push(name string, args ...any) error {
	ev, err := NewEvent(name, args...)
	if err != nil {
		return err
	}
	return s.PushEvent(ev)
}

// PushEvent enqueues a pre-built event (used for the interrupt variant).
func (s *Scheduler) PushEvent(ev *Event) error {
	s.mu.Lock()
	dead := s.state == StateDead
	s.mu.Unlock()
	if dead {
		return ErrDeadContext
	}
	return s.q.enqueue(ev)
}

// Interrupt enqueues the privileged cancellation event. It travels the same
// FIFO as ordinary events; a filtering pull that receives it fails with
// ErrInterrupted.
func (s *Scheduler) Interrupt() error {
	return s.PushEvent(Interrupt())
}

// StartTimer registers a one-shot timer and returns its id without
// suspending the caller.
func (s *Scheduler) StartTimer(d time.Duration) uint64 {
	return s.timers.start(d)
}

// CancelTimer stops an unfired timer. It reports whether a timer was
// actually removed; canceling after fire is a no-op and never removes an
// already-enqueued timer event.
func (s *Scheduler) CancelTimer(id uint64) bool {
	return s.timers.cancel(id)
}

// Tick advances the machine by one step: expired timers enqueue their
// events, then at most one pending event is delivered if the context is
// suspended. delta is the real elapsed time since the previous tick.
// Returns the context state after the tick.
func (s *Scheduler) Tick(delta time.Duration) State {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()

	for _, id := range s.timers.advance(delta) {
		ev := &Event{Kind: KindNormal, Name: TimerEvent, Args: []any{id}}
		if err := s.q.enqueue(ev); err != nil {
			s.log.Warn("timer event lost to full queue", logx.Uint64("timer_id", id))
		}
	}

	s.mu.Lock()
	if s.state != StateSuspended {
		st := s.state
		s.mu.Unlock()
		return st
	}
	ev, ok := s.q.dequeue()
	if !ok {
		s.mu.Unlock()
		return StateSuspended
	}
	ctx := s.ctx
	s.state = StateRunning
	s.delivered++
	s.mu.Unlock()

	s.resume(ctx, ev)
	return s.State()
}

func (s *Scheduler) resume(c Context, ev *Event) {
	res, err := c.Resume(ev)

	s.mu.Lock()
	switch res {
	case RunSuspended:
		s.state = StateSuspended
	case RunDone:
		s.state = StateDead
	case RunFailed:
		s.state = StateDead
		s.haltErr = err
	}
	dead := s.state == StateDead
	onHalt := s.onHalt
	haltErr := s.haltErr
	s.mu.Unlock()

	if !dead {
		return
	}
	s.haltOnce.Do(func() {
		if haltErr != nil {
			s.log.Error("execution context failed", logx.Err(haltErr))
		} else {
			s.log.Debug("execution context completed")
		}
		if onHalt != nil {
			onHalt(haltErr)
		}
	})
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that killed the context, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltErr
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State:     s.state,
		Ticks:     s.ticks,
		Delivered: s.delivered,
	}
	s.mu.Unlock()
	st.PendingTimers = s.timers.pending()
	st.Queue = s.q.stats()
	return st
}
