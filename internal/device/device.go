// Package device hosts the event producers attached to the machine. Devices
// push named events into the scheduler and never call into the interpreter.
package device

import (
	"context"
	"fmt"
	"sync"

	logx "pixos/pkg/logx"
)

// PushFunc enqueues an event for the running cartridge. Implementations must
// be safe from any goroutine; kernel.ErrDeadContext and kernel.ErrQueueFull
// are expected during shutdown or overload and devices treat them as
// non-fatal.
type PushFunc func(name string, args ...any) error

// Deps is what a device gets to work with.
type Deps struct {
	Push PushFunc
	Log  logx.Logger
}

// Device is a host-side event producer.
//
// Lifecycle: Init once, then Start/Stop possibly many times (the machine
// restarts devices across cartridge reboots).
type Device interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry owns the configured devices and reconciles them against enable
// flags.
type Registry struct {
	log logx.Logger

	mu      sync.Mutex
	devices []Device
	running map[string]bool
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log, running: map[string]bool{}}
}

func (r *Registry) Register(d Device) {
	r.mu.Lock()
	r.devices = append(r.devices, d)
	r.mu.Unlock()
}

// Init initializes every registered device.
func (r *Registry) Init(ctx context.Context, deps Deps) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if err := d.Init(ctx, deps); err != nil {
			return fmt.Errorf("device %s: init: %w", d.Name(), err)
		}
	}
	return nil
}

// Reconcile starts devices whose flag is true and stops the rest. Unknown
// names in enabled are ignored.
func (r *Registry) Reconcile(ctx context.Context, enabled map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		name := d.Name()
		want := enabled[name]
		if want == r.running[name] {
			continue
		}
		if want {
			if err := d.Start(ctx); err != nil {
				r.log.Warn("device start failed", logx.String("device", name), logx.Err(err))
				continue
			}
			r.running[name] = true
			r.log.Debug("device started", logx.String("device", name))
		} else {
			if err := d.Stop(ctx); err != nil {
				r.log.Warn("device stop failed", logx.String("device", name), logx.Err(err))
			}
			r.running[name] = false
			r.log.Debug("device stopped", logx.String("device", name))
		}
	}
}

// StopAll stops every running device (shutdown path).
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if !r.running[d.Name()] {
			continue
		}
		if err := d.Stop(ctx); err != nil {
			r.log.Warn("device stop failed", logx.String("device", d.Name()), logx.Err(err))
		}
		r.running[d.Name()] = false
	}
}
