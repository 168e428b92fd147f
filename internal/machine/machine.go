// Package machine binds the kernel, the Lua VM and the host devices into a
// runnable fantasy computer. One Machine owns at most one running cartridge;
// a restart builds a fresh scheduler and VM so no events leak across runs.
package machine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pixos/internal/kernel"
	"pixos/internal/script/luavm"
	"pixos/internal/storage"
	logx "pixos/pkg/logx"
)

type State int

const (
	StateOff State = iota
	StateRunning
	StateHalted  // cartridge completed normally
	StateCrashed // cartridge failed; overlay rendered
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

type Config struct {
	Cartridge string
	TickHz    int // default 20
	QueueCap  int
}

// Machine drives the scheduler at a fixed tick rate.
type Machine struct {
	store storage.Store
	logs  *logx.Service // nil in tests; used for the crash overlay ring
	log   logx.Logger

	// state is atomic: OnHalt fires on the tick goroutine (or inside Boot,
	// with mu held), so it must not need mu.
	state atomic.Int32

	mu       sync.Mutex
	cfg      Config
	sched    *kernel.Scheduler
	vm       *luavm.VM
	cancel   context.CancelFunc
	loopDone chan struct{}
	bootedAt time.Time
	restarts uint64
}

func New(cfg Config, store storage.Store, logs *logx.Service, log logx.Logger) *Machine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Machine{cfg: cfg, store: store, logs: logs, log: log}
}

// Apply swaps the config used by the next boot. The running cartridge is not
// affected; callers decide whether the change warrants a Restart.
func (m *Machine) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Start boots the cartridge and begins ticking. No-op when already running.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Machine) startLocked(ctx context.Context) error {
	if m.State() == StateRunning {
		return nil
	}

	sched := kernel.New(kernel.Config{QueueCap: m.cfg.QueueCap}, m.log)
	vm, err := luavm.New(luavm.Config{
		Path:  m.cfg.Cartridge,
		Host:  sched,
		Store: m.store,
		Log:   m.log,
	})
	if err != nil {
		return fmt.Errorf("machine: %w", err)
	}

	bootedAt := time.Now()
	cartridge := m.cfg.Cartridge
	sched.OnHalt(func(haltErr error) {
		m.onHalt(cartridge, bootedAt, haltErr)
	})

	m.sched = sched
	m.vm = vm
	m.bootedAt = bootedAt
	m.state.Store(int32(StateRunning))

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.loopDone = make(chan struct{})

	m.log.Info("machine booting",
		logx.String("cartridge", cartridge),
		logx.Int("tick_hz", m.tickHzLocked()),
	)

	if err := sched.Boot(vm); err != nil {
		// The cartridge died during boot; onHalt already ran.
		cancel()
		close(m.loopDone)
		m.cancel = nil
		return nil
	}
	if sched.State() == kernel.StateDead {
		cancel()
		close(m.loopDone)
		m.cancel = nil
		return nil
	}

	go m.run(runCtx, sched, m.loopDone)
	return nil
}

func (m *Machine) tickHzLocked() int {
	if m.cfg.TickHz > 0 {
		return m.cfg.TickHz
	}
	return 20
}

// run is the tick loop. delta is measured wall time so timers stay accurate
// even when the host stalls.
func (m *Machine) run(ctx context.Context, sched *kernel.Scheduler, done chan struct{}) {
	defer close(done)

	m.mu.Lock()
	hz := m.tickHzLocked()
	m.mu.Unlock()

	tk := time.NewTicker(time.Second / time.Duration(hz))
	defer tk.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			delta := now.Sub(last)
			last = now
			if sched.Tick(delta) == kernel.StateDead {
				return
			}
		}
	}
}

// onHalt runs on the tick goroutine (or the Boot caller) exactly once per
// cartridge run.
func (m *Machine) onHalt(cartridge string, bootedAt time.Time, haltErr error) {
	uptime := time.Since(bootedAt)

	if haltErr != nil {
		m.state.Store(int32(StateCrashed))
	} else {
		m.state.Store(int32(StateHalted))
	}

	if haltErr == nil {
		m.log.Info("cartridge completed", logx.Duration("uptime", uptime))
		return
	}

	m.log.Error("cartridge crashed",
		logx.Err(haltErr),
		logx.String("cartridge", cartridge),
		logx.Duration("uptime", uptime),
	)

	screen := m.renderCrashOverlay(haltErr)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := m.store.AppendCrash(ctx, storage.CrashEntry{
			At:        time.Now(),
			Cartridge: cartridge,
			Error:     haltErr.Error(),
			Screen:    screen,
			UptimeMS:  uptime.Milliseconds(),
		})
		if err != nil {
			m.log.Warn("crash row not recorded", logx.Err(err))
		}
	}
}

// renderCrashOverlay prints the classic blue-box crash screen from the logx
// screen ring and returns the newline-joined contents for the crash store.
func (m *Machine) renderCrashOverlay(haltErr error) string {
	var lines []string
	if m.logs != nil {
		lines = m.logs.Screen()
	}

	var b strings.Builder
	b.WriteString("+-- machine crashed ")
	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n")
	for _, l := range strings.Split(haltErr.Error(), "\n") {
		b.WriteString("| " + l + "\n")
	}
	if len(lines) > 0 {
		b.WriteString("|\n")
		for _, l := range lines {
			b.WriteString("| " + l + "\n")
		}
	}
	b.WriteString("+" + strings.Repeat("-", 59) + "\n")
	_, _ = os.Stdout.WriteString(b.String())

	return strings.Join(lines, "\n")
}

// Stop halts ticking and tears down the VM. The machine can be started again.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.loopDone
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vm != nil {
		m.vm.Close()
		m.vm = nil
	}
	m.sched = nil
	m.state.CompareAndSwap(int32(StateRunning), int32(StateOff))
	return nil
}

// Restart reboots the cartridge on a fresh scheduler and VM. Undelivered
// events from the previous run are discarded.
func (m *Machine) Restart(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(int32(StateOff))
	m.restarts++
	return m.startLocked(ctx)
}

// Interrupt enqueues the privileged cancellation event for the cartridge.
func (m *Machine) Interrupt() {
	m.mu.Lock()
	sched := m.sched
	m.mu.Unlock()
	if sched == nil {
		return
	}
	if err := sched.Interrupt(); err != nil && !errors.Is(err, kernel.ErrDeadContext) {
		m.log.Warn("interrupt not delivered", logx.Err(err))
	}
}

// Push enqueues a device event for the running cartridge.
func (m *Machine) Push(name string, args ...any) error {
	m.mu.Lock()
	sched := m.sched
	m.mu.Unlock()
	if sched == nil || m.State() != StateRunning {
		return kernel.ErrDeadContext
	}
	ev, err := kernel.NewEvent(name, args...)
	if err != nil {
		// Device payloads are host-built; fall back to a bare event rather
		// than dropping the signal entirely.
		m.log.Debug("event arguments dropped",
			logx.String("event", name),
			logx.Int("args", len(args)),
			logx.Err(err),
		)
		ev, _ = kernel.NewEvent(name)
	}
	return sched.PushEvent(ev)
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

// StatsFields is the jobs snapshot payload.
func (m *Machine) StatsFields() []logx.Field {
	m.mu.Lock()
	sched := m.sched
	restarts := m.restarts
	bootedAt := m.bootedAt
	m.mu.Unlock()
	state := m.State()

	fields := []logx.Field{
		logx.String("state", state.String()),
		logx.Uint64("restarts", restarts),
	}
	if state == StateRunning {
		fields = append(fields, logx.Duration("uptime", time.Since(bootedAt)))
	}
	if sched != nil {
		st := sched.Stats()
		fields = append(fields,
			logx.Uint64("ticks", st.Ticks),
			logx.Uint64("delivered", st.Delivered),
			logx.Int("queue_depth", st.Queue.Depth),
			logx.Uint64("queue_dropped", st.Queue.Dropped),
			logx.Int("pending_timers", st.PendingTimers),
		)
	}
	return fields
}
