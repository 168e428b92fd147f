package device

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "pixos/pkg/logx"
)

// Cartwatch watches the cartridge file and pushes {"file", name, op} events.
// When OnChange is set it also fires after the debounce window, which the
// machine uses for restart-on-change.
type Cartwatch struct {
	path     string
	OnChange func()

	mu     sync.Mutex
	deps   Deps
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCartwatch(path string) *Cartwatch {
	return &Cartwatch{path: path}
}

func (c *Cartwatch) Name() string { return "cartwatch" }

func (c *Cartwatch) Init(ctx context.Context, deps Deps) error {
	c.mu.Lock()
	c.deps = deps
	c.mu.Unlock()
	return nil
}

func (c *Cartwatch) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	deps := c.deps
	done := c.done
	file := filepath.Base(c.path)
	onChange := c.OnChange

	go func() {
		defer close(done)
		defer w.Close()

		// Debounce editor write bursts into one event.
		var (
			timerMu sync.Mutex
			timer   *time.Timer
		)
		fire := func(op string) {
			timerMu.Lock()
			defer timerMu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				if runCtx.Err() != nil {
					return
				}
				if err := deps.Push("file", file, op); err != nil {
					deps.Log.Debug("file event dropped", logx.String("file", file), logx.Err(err))
				}
				if onChange != nil {
					onChange()
				}
			})
		}

		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					fire(strings.ToLower(ev.Op.String()))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if err != nil {
					deps.Log.Warn("cartridge watch error", logx.Err(err))
				}
			}
		}
	}()
	return nil
}

func (c *Cartwatch) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}
