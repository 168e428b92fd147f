package machine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pixos/internal/kernel"
	"pixos/internal/storage"
	logx "pixos/pkg/logx"
)

func writeCart(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cart.lua")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write cartridge: %v", err)
	}
	return path
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()
	cart := writeCart(t, `
		local name, arg = os.pull()
		assert(name == "go" and arg == "now", "got " .. tostring(name))
	`)
	m := New(Config{Cartridge: cart, TickHz: 200}, nil, nil, logx.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	if m.State() != StateRunning {
		t.Fatalf("state after start = %v, want running", m.State())
	}
	if err := m.Push("go", "now"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitState(t, m, StateHalted)
}

func TestCrashIsRecorded(t *testing.T) {
	t.Parallel()
	store, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "pixos_store"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	defer store.Close()

	cart := writeCart(t, `error("bang")`)
	m := New(Config{Cartridge: cart, TickHz: 200}, store, nil, logx.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	// The cartridge dies during boot, synchronously.
	if m.State() != StateCrashed {
		t.Fatalf("state = %v, want crashed", m.State())
	}

	// Pruning to zero reports exactly the crash row written above.
	removed, err := store.PruneCrashes(ctx, 0)
	if err != nil {
		t.Fatalf("PruneCrashes: %v", err)
	}
	if removed != 1 {
		t.Fatalf("crash rows = %d, want 1", removed)
	}
}

func TestInterruptCrashesPullingCartridge(t *testing.T) {
	t.Parallel()
	cart := writeCart(t, `os.pull()`)
	m := New(Config{Cartridge: cart, TickHz: 200}, nil, nil, logx.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	m.Interrupt()
	waitState(t, m, StateCrashed)
}

func TestRestartAfterCrash(t *testing.T) {
	t.Parallel()
	cart := writeCart(t, `
		local name = os.pull()
		if name == "die" then error("told to") end
	`)
	m := New(Config{Cartridge: cart, TickHz: 200}, nil, nil, logx.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	if err := m.Push("die"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitState(t, m, StateCrashed)

	// A fresh boot gets a fresh queue and can complete cleanly.
	if err := m.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("state after restart = %v, want running", m.State())
	}
	if err := m.Push("live"); err != nil {
		t.Fatalf("Push after restart: %v", err)
	}
	waitState(t, m, StateHalted)
}

func TestPushBadArgumentDegradesToBareEvent(t *testing.T) {
	t.Parallel()
	cart := writeCart(t, `
		local name, arg = os.pull()
		assert(name == "weird" and arg == nil, "degraded event kept args")
	`)
	m := New(Config{Cartridge: cart, TickHz: 200}, nil, nil, logx.Nop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	// A payload the event carrier cannot copy still delivers the signal.
	if err := m.Push("weird", struct{ X int }{1}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitState(t, m, StateHalted)
}

func TestPushWhileOff(t *testing.T) {
	t.Parallel()
	cart := writeCart(t, `os.pull()`)
	m := New(Config{Cartridge: cart, TickHz: 200}, nil, nil, logx.Nop())
	if err := m.Push("x"); !errors.Is(err, kernel.ErrDeadContext) {
		t.Fatalf("Push while off = %v, want ErrDeadContext", err)
	}
}

func TestStartMissingCartridge(t *testing.T) {
	t.Parallel()
	m := New(Config{Cartridge: filepath.Join(t.TempDir(), "nope.lua")}, nil, nil, logx.Nop())
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("missing cartridge accepted")
	}
	if m.State() != StateOff {
		t.Fatalf("state = %v, want off", m.State())
	}
}
