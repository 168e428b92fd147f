package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pixos/internal/machine"
)

func writeAppFixture(t *testing.T, cartSource string) string {
	t.Helper()
	dir := t.TempDir()
	cart := filepath.Join(dir, "cart.lua")
	if err := os.WriteFile(cart, []byte(cartSource), 0o644); err != nil {
		t.Fatalf("write cartridge: %v", err)
	}
	cfg := fmt.Sprintf(`machine:
  cartridge: %q
  tick_hz: 200
logging:
  level: error
  console: false
devices:
  terminal:
    enabled: false
  cartwatch:
    enabled: false
`, cart)
	cfgPath := filepath.Join(dir, "pixos.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func waitMachineState(t *testing.T, m *machine.Machine, want machine.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine state = %v, want %v", m.State(), want)
}

func TestAppLifecycle(t *testing.T) {
	t.Parallel()
	cfgPath := writeAppFixture(t, `os.pull()`)

	app, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if app.Machine().State() != machine.StateRunning {
		t.Fatalf("machine state = %v, want running", app.Machine().State())
	}
	if err := app.Machine().Push("go"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitMachineState(t, app.Machine(), machine.StateHalted)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pixos.yaml")
	if err := os.WriteFile(cfgPath, []byte("machine:\n  cartridge: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewApp(cfgPath); err == nil {
		t.Fatal("config without a cartridge accepted")
	}
}

func TestAppInterruptCrashesCartridge(t *testing.T) {
	t.Parallel()
	cfgPath := writeAppFixture(t, `os.pull()`)

	app, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	app.Interrupt()
	waitMachineState(t, app.Machine(), machine.StateCrashed)
}
