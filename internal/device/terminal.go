package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"pixos/internal/kernel"
	logx "pixos/pkg/logx"
)

// Terminal reads from the host terminal and pushes input events: in line mode
// (default) one {"line", text} event per line; in raw mode one {"key", code}
// event per rune.
type Terminal struct {
	in  io.Reader // defaults to os.Stdin
	raw bool

	mu     sync.Mutex
	deps   Deps
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTerminal() *Terminal { return &Terminal{in: os.Stdin} }

// NewTerminalFrom reads from an arbitrary source instead of stdin (tests).
func NewTerminalFrom(in io.Reader) *Terminal { return &Terminal{in: in} }

// SetRaw switches to per-rune key events. Must be called before Start.
func (t *Terminal) SetRaw(raw bool) { t.raw = raw }

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Init(ctx context.Context, deps Deps) error {
	t.mu.Lock()
	t.deps = deps
	t.mu.Unlock()
	return nil
}

func (t *Terminal) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	deps := t.deps
	done := t.done
	in := t.in
	if t.raw {
		go t.readKeys(runCtx, in, deps, done)
	} else {
		go t.readLines(runCtx, in, deps, done)
	}
	return nil
}

func (t *Terminal) readLines(ctx context.Context, in io.Reader, deps Deps, done chan struct{}) {
	defer close(done)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		t.push(deps, "line", sc.Text())
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		deps.Log.Warn("terminal read failed", logx.Err(err))
	}
}

func (t *Terminal) readKeys(ctx context.Context, in io.Reader, deps Deps, done chan struct{}) {
	defer close(done)
	br := bufio.NewReader(in)
	for {
		r, _, err := br.ReadRune()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				deps.Log.Warn("terminal read failed", logx.Err(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.push(deps, "key", int(r))
	}
}

func (t *Terminal) push(deps Deps, name string, arg any) {
	err := deps.Push(name, arg)
	switch {
	case err == nil:
	case errors.Is(err, kernel.ErrDeadContext):
		// No consumer; keep reading so the reboot gets fresh input.
	case errors.Is(err, kernel.ErrQueueFull):
		deps.Log.Warn("terminal input dropped (queue full)", logx.String("event", name))
	default:
		deps.Log.Warn("terminal push failed", logx.Err(err))
	}
}

func (t *Terminal) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	// Reader goroutines blocked on stdin cannot be unblocked portably; wait
	// briefly, then abandon the goroutine (it exits on the next line/EOF).
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
	}
	return nil
}
