package kernel

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Routine adapts a plain Go function to the Context resume protocol by
// running it on its own goroutine with a channel handshake: Resume hands an
// event to the goroutine and blocks until it suspends again (next Pull),
// completes, or fails. This is how host-side tasks run under the scheduler,
// and how the scheduler is tested without an interpreter.
type Routine struct {
	deliver chan *Event
	step    chan routineStep
	done    atomic.Bool
}

type routineStep struct {
	res RunResult
	err error
}

// Yielder is the suspension surface handed to a routine function. All
// methods must be called from the routine's own goroutine.
type Yielder struct {
	r *Routine
}

// NewRoutine starts fn on its own goroutine, parked until the scheduler's
// first resume. fn returning nil completes the context; a non-nil error or a
// panic fails it.
func NewRoutine(fn func(y *Yielder) error) *Routine {
	r := &Routine{
		deliver: make(chan *Event),
		step:    make(chan routineStep),
	}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.step <- routineStep{RunFailed, fmt.Errorf("panic: %v", p)}
			}
		}()
		// Park until Boot resumes us.
		<-r.deliver
		if err := fn(&Yielder{r: r}); err != nil {
			r.step <- routineStep{RunFailed, err}
			return
		}
		r.step <- routineStep{RunDone, nil}
	}()
	return r
}

// Resume implements Context.
func (r *Routine) Resume(ev *Event) (RunResult, error) {
	if r.done.Load() {
		return RunFailed, ErrDeadContext
	}
	r.deliver <- ev
	st := <-r.step
	if st.res != RunSuspended {
		r.done.Store(true)
	}
	return st.res, st.err
}

// Pull suspends until the next event is delivered. The filter names are
// advisory only: every delivery resumes the pull regardless of name, and
// callers wanting a selective wait must discard mismatches and pull again.
// Receiving the interrupt event fails the pull with ErrInterrupted.
func (y *Yielder) Pull(names ...string) (*Event, error) {
	ev := y.wait()
	if ev.IsInterrupt() {
		return nil, ErrInterrupted
	}
	return ev, nil
}

// PullRaw is Pull without interrupt interception: the interrupt event is
// returned as ordinary data under its reserved name.
func (y *Yielder) PullRaw(names ...string) *Event {
	return y.wait()
}

// Sleep is the correlated-sleep pattern: start a timer, then pull until the
// matching timer event arrives, silently discarding firings of other
// in-flight timers.
func (y *Yielder) Sleep(s *Scheduler, d time.Duration) error {
	id := s.StartTimer(d)
	for {
		ev, err := y.Pull(TimerEvent)
		if err != nil {
			return err
		}
		if ev.Name != TimerEvent || len(ev.Args) != 1 {
			continue
		}
		if got, ok := ev.Args[0].(uint64); ok && got == id {
			return nil
		}
	}
}

func (y *Yielder) wait() *Event {
	y.r.step <- routineStep{RunSuspended, nil}
	return <-y.r.deliver
}
