package luavm

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"pixos/internal/kernel"
	"pixos/internal/storage"
	logx "pixos/pkg/logx"
)

//go:embed prelude.lua
var preludeSource string

// Host is the scheduler surface the cartridge may call without suspending.
// *kernel.Scheduler satisfies it.
type Host interface {
	Push(name string, args ...any) error
	StartTimer(d time.Duration) uint64
	CancelTimer(id uint64) bool
}

type Config struct {
	// Path to the cartridge file. Ignored when Source is set.
	Path string
	// Source is an inline cartridge (tests).
	Source string

	Host  Host
	Store storage.Store // nil disables os.save/os.load
	Log   logx.Logger
}

// VM implements kernel.Context over a gopher-lua coroutine.
//
// Not safe for concurrent use; the scheduler serializes Resume on the tick
// goroutine.
type VM struct {
	L    *lua.LState
	co   *lua.LState
	fn   *lua.LFunction
	stop context.CancelFunc

	host  Host
	store storage.Store
	log   logx.Logger

	booted time.Time
	dead   bool
}

func New(cfg Config) (*VM, error) {
	if cfg.Host == nil {
		return nil, errors.New("luavm: host is required")
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	vm := &VM{
		L:      L,
		host:   cfg.Host,
		store:  cfg.Store,
		log:    log,
		booted: time.Now(),
	}

	// Sandbox: data libraries plus coroutine (the prelude suspends through
	// coroutine.yield). No io, no real os, no package loading beyond what
	// OpenBase needs.
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.CoroutineLibName, lua.OpenCoroutine},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("luavm: open %s: %w", lib.name, err)
		}
	}

	vm.installOS()

	if err := L.DoString(preludeSource); err != nil {
		L.Close()
		return nil, fmt.Errorf("luavm: prelude: %w", err)
	}

	var fn *lua.LFunction
	var err error
	if cfg.Source != "" {
		fn, err = L.LoadString(cfg.Source)
	} else {
		fn, err = L.LoadFile(cfg.Path)
	}
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("luavm: compile cartridge: %w", err)
	}
	vm.fn = fn
	vm.co, vm.stop = L.NewThread()
	return vm, nil
}

// installOS replaces the standard os library with the machine's surface.
// os.pull/os.pullRaw/os.sleep come from the prelude.
func (vm *VM) installOS() {
	t := vm.L.NewTable()
	vm.L.SetFuncs(t, map[string]lua.LGFunction{
		"push":        vm.osPush,
		"startTimer":  vm.osStartTimer,
		"cancelTimer": vm.osCancelTimer,
		"clock":       vm.osClock,
		"save":        vm.osSave,
		"load":        vm.osLoad,
	})
	vm.L.SetGlobal("os", t)
}

// Resume implements kernel.Context. ev is nil on the boot resume.
func (vm *VM) Resume(ev *kernel.Event) (kernel.RunResult, error) {
	if vm.dead {
		return kernel.RunFailed, kernel.ErrDeadContext
	}

	var args []lua.LValue
	if ev != nil {
		args = make([]lua.LValue, 0, 1+len(ev.Args))
		args = append(args, lua.LString(ev.Name))
		for _, a := range ev.Args {
			args = append(args, goToLua(vm.L, a))
		}
	}

	st, err, _ := vm.L.Resume(vm.co, vm.fn, args...)
	switch st {
	case lua.ResumeYield:
		return kernel.RunSuspended, nil
	case lua.ResumeOK:
		vm.dead = true
		return kernel.RunDone, nil
	default:
		vm.dead = true
		return kernel.RunFailed, vm.mapError(err)
	}
}

// mapError turns a coroutine error into the kernel's error surface. The
// prelude signals interrupt interception with a bare "interrupted" error.
func (vm *VM) mapError(err error) error {
	if err == nil {
		return errors.New("lua: coroutine failed")
	}
	ae, ok := err.(*lua.ApiError)
	if !ok {
		return fmt.Errorf("lua: %w", err)
	}
	if s, ok := ae.Object.(lua.LString); ok && string(s) == "interrupted" {
		return kernel.ErrInterrupted
	}
	msg := ae.Object.String()
	if ae.StackTrace != "" {
		return fmt.Errorf("lua: %s\n%s", msg, ae.StackTrace)
	}
	return fmt.Errorf("lua: %s", msg)
}

// Close tears down the interpreter. The VM must not be resumed afterwards.
func (vm *VM) Close() {
	vm.dead = true
	if vm.stop != nil {
		vm.stop()
	}
	vm.L.Close()
}

// ---- os.* bindings ----

func (vm *VM) osPush(L *lua.LState) int {
	name := L.CheckString(1)
	n := L.GetTop()
	args := make([]any, 0, n-1)
	for i := 2; i <= n; i++ {
		gv, err := luaToGo(L.Get(i))
		if err != nil {
			L.RaiseError("bad event argument #%d: %v", i-1, err)
			return 0
		}
		args = append(args, gv)
	}
	if err := vm.host.Push(name, args...); err != nil {
		if errors.Is(err, kernel.ErrBadArgument) {
			L.RaiseError("bad event argument: %v", err)
			return 0
		}
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (vm *VM) osStartTimer(L *lua.LState) int {
	sec := float64(L.CheckNumber(1))
	id := vm.host.StartTimer(time.Duration(sec * float64(time.Second)))
	L.Push(lua.LNumber(id))
	return 1
}

func (vm *VM) osCancelTimer(L *lua.LState) int {
	id := uint64(L.CheckNumber(1))
	L.Push(lua.LBool(vm.host.CancelTimer(id)))
	return 1
}

func (vm *VM) osClock(L *lua.LState) int {
	L.Push(lua.LNumber(time.Since(vm.booted).Seconds()))
	return 1
}

// os.save(slot, value) persists any data value under a named slot. Values
// round-trip through JSON, so the slot is opaque to the host.
func (vm *VM) osSave(L *lua.LState) int {
	slot := L.CheckString(1)
	if vm.store == nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString("storage disabled"))
		return 2
	}
	gv, err := luaToGo(L.Get(2))
	if err != nil {
		L.RaiseError("bad save value: %v", err)
		return 0
	}
	b, err := json.Marshal(gv)
	if err != nil {
		L.RaiseError("bad save value: %v", err)
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := vm.store.PutSave(ctx, slot, string(b)); err != nil {
		vm.log.Warn("save failed", logx.String("slot", slot), logx.Err(err))
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// os.load(slot) returns the saved value, or nil when the slot is empty.
func (vm *VM) osLoad(L *lua.LState) int {
	slot := L.CheckString(1)
	if vm.store == nil {
		L.Push(lua.LNil)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, ok, err := vm.store.GetSave(ctx, slot)
	if err != nil {
		vm.log.Warn("load failed", logx.String("slot", slot), logx.Err(err))
		L.Push(lua.LNil)
		return 1
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	var gv any
	if err := json.Unmarshal([]byte(raw), &gv); err != nil {
		vm.log.Warn("save slot corrupted", logx.String("slot", slot), logx.Err(err))
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, gv))
	return 1
}
