package kernel

import "fmt"

// Kind tags an event at the type level so the scheduler and bindings can
// branch without string comparison. Raw consumers still see the reserved
// name for interrupts, so the wire contract is unchanged.
type Kind uint8

const (
	KindNormal Kind = iota
	KindInterrupt
)

// InterruptName is the reserved event name a raw pull observes for the
// interrupt event.
const InterruptName = "interrupt"

// TimerEvent is the name of events emitted by the timer registry. The single
// argument is the uint64 id returned by StartTimer.
const TimerEvent = "timer"

// Event is a named message delivered to the suspended execution context.
// Args are plain Go values copied into the event at construction time, so
// producer and consumer never alias mutable state. Events are immutable once
// enqueued.
type Event struct {
	Kind Kind
	Name string
	Args []any
}

func (e *Event) IsInterrupt() bool { return e != nil && e.Kind == KindInterrupt }

// Interrupt returns the privileged cancellation event.
func Interrupt() *Event {
	return &Event{Kind: KindInterrupt, Name: InterruptName}
}

// NewEvent builds a normal event, deep-copying args into an isolated
// carrier. Unsupported argument types are rejected with ErrBadArgument.
func NewEvent(name string, args ...any) (*Event, error) {
	copied, err := copyArgs(args)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: KindNormal, Name: name, Args: copied}, nil
}

// Nesting deeper than this is treated as a cycle.
const maxArgDepth = 32

func copyArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		v, err := copyValue(a, 0)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func copyValue(v any, depth int) (any, error) {
	if depth > maxArgDepth {
		return nil, fmt.Errorf("%w: nesting too deep (cycle?)", ErrBadArgument)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int, int64, uint64, float64:
		return t, nil
	case []byte:
		return append([]byte(nil), t...), nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			c, err := copyValue(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			c, err := copyValue(e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrBadArgument, v)
	}
}
