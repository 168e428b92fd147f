package kernel

import "errors"

var (
	// ErrInterrupted is how a filtering pull observes the interrupt event.
	// It propagates like any other script-level failure; an uncaught
	// interrupt terminates the execution context.
	ErrInterrupted = errors.New("kernel: interrupted")

	// ErrQueueFull reports that an event was rejected because the queue is
	// at capacity. The event is dropped, never partially enqueued.
	ErrQueueFull = errors.New("kernel: event queue full")

	// ErrDeadContext reports a push or resume against a terminated context.
	ErrDeadContext = errors.New("kernel: execution context is dead")

	// ErrBadArgument reports an event argument that cannot be copied into an
	// isolated carrier (unsupported type, excessive nesting).
	ErrBadArgument = errors.New("kernel: invalid event argument")

	// ErrBooted reports a second Boot on the same scheduler instance.
	// Schedulers are single-shot; the machine builds a fresh one per run.
	ErrBooted = errors.New("kernel: scheduler already booted")
)
