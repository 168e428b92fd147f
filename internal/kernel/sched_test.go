package kernel

import (
	"errors"
	"strings"
	"testing"
	"time"

	logx "pixos/pkg/logx"
)

const tick = 50 * time.Millisecond

func newTestSched() *Scheduler {
	return New(Config{}, logx.Nop())
}

// The Resume handshake means the routine only makes progress inside
// Boot/Tick calls, so test-side reads of captured variables are ordered
// after the Tick that produced them.

func TestOneEventPerTick(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	var got []string
	r := NewRoutine(func(y *Yielder) error {
		for i := 0; i < 3; i++ {
			ev, err := y.Pull()
			if err != nil {
				return err
			}
			got = append(got, ev.Name)
		}
		return nil
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	for _, name := range []string{"p1", "p2", "p3"} {
		if err := s.Push(name); err != nil {
			t.Fatalf("Push(%s): %v", name, err)
		}
	}

	// Delivery is never synchronous with the push.
	if len(got) != 0 {
		t.Fatalf("events delivered before any tick: %v", got)
	}

	// A burst of three queued events needs three ticks, one delivery each.
	for i := 1; i <= 3; i++ {
		s.Tick(tick)
		if len(got) != i {
			t.Fatalf("after tick %d: delivered %d events, want %d", i, len(got), i)
		}
	}

	// FIFO: the context observed push order.
	if got[0] != "p1" || got[1] != "p2" || got[2] != "p3" {
		t.Fatalf("delivery order = %v, want [p1 p2 p3]", got)
	}
	if s.State() != StateDead {
		t.Fatalf("state = %v, want dead", s.State())
	}
}

func TestPullFiltersAreAdvisory(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	// The pull asks for "key" events only; the scheduler must still hand it
	// whatever is next in the queue. Selection is the caller's job.
	var got string
	r := NewRoutine(func(y *Yielder) error {
		ev, err := y.Pull("key")
		if err != nil {
			return err
		}
		got = ev.Name
		return nil
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s.Push("redraw"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	s.Tick(tick)
	if got != "redraw" {
		t.Fatalf("filtered pull received %q, want the unfiltered head event %q", got, "redraw")
	}
}

func TestInterruptFailsFilteringPull(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	r := NewRoutine(func(y *Yielder) error {
		_, err := y.Pull()
		return err
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	if st := s.Tick(tick); st != StateDead {
		t.Fatalf("state after interrupt = %v, want dead", st)
	}
	if !errors.Is(s.Err(), ErrInterrupted) {
		t.Fatalf("Err() = %v, want ErrInterrupted", s.Err())
	}
}

func TestPullRawObservesInterrupt(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	var name string
	var args int
	r := NewRoutine(func(y *Yielder) error {
		ev := y.PullRaw()
		name = ev.Name
		args = len(ev.Args)
		return nil
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	if st := s.Tick(tick); st != StateDead {
		t.Fatalf("state = %v, want dead (clean return)", st)
	}
	if s.Err() != nil {
		t.Fatalf("raw pull turned interrupt into failure: %v", s.Err())
	}
	if name != InterruptName || args != 0 {
		t.Fatalf("raw pull saw (%q, %d args), want (%q, 0 args)", name, args, InterruptName)
	}
}

func TestCorrelatedSleepDiscardsOtherTimers(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	r := NewRoutine(func(y *Yielder) error {
		// An unrelated short timer is already in flight; the sleep below
		// waits on a longer one and must not wake on the short firing.
		s.StartTimer(30 * time.Millisecond)
		return y.Sleep(s, 120*time.Millisecond)
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	// Tick 1 (50ms): short timer fires and is delivered; sleep discards it.
	if st := s.Tick(tick); st != StateSuspended {
		t.Fatalf("after short firing: state = %v, want suspended (discarded)", st)
	}
	// Tick 2 (100ms total): sleep timer still pending.
	if st := s.Tick(tick); st != StateSuspended {
		t.Fatalf("tick 2: state = %v, want suspended", st)
	}
	// Tick 3 (150ms total): sleep timer fires and is delivered.
	if st := s.Tick(tick); st != StateDead {
		t.Fatalf("tick 3: state = %v, want dead (sleep done)", st)
	}
	if s.Err() != nil {
		t.Fatalf("sleep failed: %v", s.Err())
	}
}

func TestSchedulerTimerIDsMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestSched()
	a := s.StartTimer(3 * time.Second)
	b := s.StartTimer(time.Second)
	c := s.StartTimer(2 * time.Second)
	if !(a < b && b < c) {
		t.Fatalf("ids not strictly increasing: %d %d %d", a, b, c)
	}
}

func TestCancelAfterEnqueueIsNoOp(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	var woke bool
	r := NewRoutine(func(y *Yielder) error {
		for i := 0; i < 2; i++ {
			ev, err := y.Pull()
			if err != nil {
				return err
			}
			if ev.Name == TimerEvent {
				woke = true
			}
		}
		return nil
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	id := s.StartTimer(10 * time.Millisecond)

	// The pad event occupies the first delivery slot, so after this tick the
	// fired timer's event sits in the queue, already enqueued but undelivered.
	if err := s.Push("pad"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	s.Tick(tick)

	if s.CancelTimer(id) {
		t.Fatal("cancel after fire returned true")
	}
	if st := s.Tick(tick); st != StateDead {
		t.Fatalf("state = %v, want dead", st)
	}
	if !woke {
		t.Fatal("enqueued timer event was retroactively removed by cancel")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	s := newTestSched()
	id := s.StartTimer(time.Hour)
	if !s.CancelTimer(id) {
		t.Fatal("cancel of pending timer returned false")
	}
	if got := s.Stats().PendingTimers; got != 0 {
		t.Fatalf("pending timers = %d, want 0", got)
	}
}

func TestHaltCallbackOnFailure(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	boom := errors.New("boom")
	var haltErr error
	calls := 0
	s.OnHalt(func(err error) {
		haltErr = err
		calls++
	})

	r := NewRoutine(func(y *Yielder) error {
		if _, err := y.Pull(); err != nil {
			return err
		}
		return boom
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s.Push("go"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	s.Tick(tick)

	if !errors.Is(haltErr, boom) {
		t.Fatalf("halt err = %v, want boom", haltErr)
	}
	if calls != 1 {
		t.Fatalf("halt callback called %d times, want 1", calls)
	}
	// Pushes against a dead context are rejected, not silently queued.
	if err := s.Push("late"); !errors.Is(err, ErrDeadContext) {
		t.Fatalf("push after death = %v, want ErrDeadContext", err)
	}
}

func TestHaltCallbackOnCompletion(t *testing.T) {
	t.Parallel()
	s := newTestSched()

	var haltErr = errors.New("sentinel")
	s.OnHalt(func(err error) { haltErr = err })

	r := NewRoutine(func(y *Yielder) error { return nil })
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if haltErr != nil {
		t.Fatalf("halt err on clean completion = %v, want nil", haltErr)
	}
}

func TestRoutinePanicFailsContext(t *testing.T) {
	t.Parallel()
	s := newTestSched()
	r := NewRoutine(func(y *Yielder) error {
		panic("script exploded")
	})
	err := s.Boot(r)
	if err == nil || !strings.Contains(err.Error(), "script exploded") {
		t.Fatalf("Boot = %v, want panic error", err)
	}
	if s.State() != StateDead {
		t.Fatalf("state = %v, want dead", s.State())
	}
}

func TestBootTwice(t *testing.T) {
	t.Parallel()
	s := newTestSched()
	r := NewRoutine(func(y *Yielder) error {
		_, err := y.Pull()
		return err
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s.Boot(r); !errors.Is(err, ErrBooted) {
		t.Fatalf("second Boot = %v, want ErrBooted", err)
	}
}

func TestIndependentSchedulers(t *testing.T) {
	t.Parallel()
	s1 := newTestSched()
	s2 := newTestSched()

	// Timer ids and queues are per-instance.
	a := s1.StartTimer(time.Second)
	b := s2.StartTimer(time.Second)
	if a != 1 || b != 1 {
		t.Fatalf("fresh schedulers share timer state: %d, %d", a, b)
	}

	var got string
	r := NewRoutine(func(y *Yielder) error {
		ev, err := y.Pull()
		if err != nil {
			return err
		}
		got = ev.Name
		return nil
	})
	if err := s1.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := s1.Push("only-s1"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Ticking the other scheduler must not deliver s1's event.
	s2.Tick(tick)
	if got != "" {
		t.Fatal("event leaked across scheduler instances")
	}
	s1.Tick(tick)
	if got != "only-s1" {
		t.Fatalf("got %q, want only-s1", got)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestSched()
	r := NewRoutine(func(y *Yielder) error {
		for {
			if _, err := y.Pull(); err != nil {
				return err
			}
		}
	})
	if err := s.Boot(r); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	_ = s.Push("a")
	_ = s.Push("b")
	s.StartTimer(time.Hour)
	s.Tick(tick)

	st := s.Stats()
	if st.State != StateSuspended {
		t.Fatalf("state = %v, want suspended", st.State)
	}
	if st.Ticks != 1 || st.Delivered != 1 {
		t.Fatalf("ticks/delivered = %d/%d, want 1/1", st.Ticks, st.Delivered)
	}
	if st.PendingTimers != 1 {
		t.Fatalf("pending timers = %d, want 1", st.PendingTimers)
	}
	if st.Queue.Depth != 1 {
		t.Fatalf("queue depth = %d, want 1", st.Queue.Depth)
	}
}
