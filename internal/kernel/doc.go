// Package kernel implements the event-correlated cooperative scheduler at
// the heart of the pixos machine.
//
// # Model
//
// One execution context (the cartridge program) runs cooperatively: it
// suspends by pulling for the next event and resumes when the scheduler
// delivers one. Host producers (devices, timers, the script itself via push)
// enqueue named events into a single bounded FIFO queue; the tick driver
// gives the scheduler one delivery opportunity per tick.
//
// Guarantees:
//   - Delivery order equals push order (single FIFO, no priorities).
//   - At most one event is delivered per tick; bursts drain one per tick.
//   - A push is never visible to the consumer within the same call; delivery
//     happens on a later tick.
//   - Timer events carry the id returned by StartTimer, so callers can build
//     correlated waits (start a timer, pull until the matching id arrives,
//     discard firings of other timers).
//
// The interrupt event is a tagged variant rather than a magic string: a
// filtering pull converts it into ErrInterrupted, a raw pull observes it as
// an ordinary event named "interrupt".
//
// The scheduler treats the interpreter as opaque: anything implementing
// Context (Resume(event) -> suspended/done/failed) can be scheduled.
// Routine adapts plain Go functions to that protocol for host-side tasks
// and tests; internal/script/luavm adapts a Lua coroutine.
package kernel
