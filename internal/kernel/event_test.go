package kernel

import (
	"errors"
	"testing"
)

func TestEventArgsIsolated(t *testing.T) {
	t.Parallel()
	m := map[string]any{"hp": int64(10)}
	list := []any{"a", "b"}

	ev, err := NewEvent("state", m, list)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	// Producer mutations after the push must not be observable.
	m["hp"] = int64(0)
	list[0] = "x"

	got := ev.Args[0].(map[string]any)
	if got["hp"] != int64(10) {
		t.Fatalf("map arg aliased producer state: %v", got["hp"])
	}
	if ev.Args[1].([]any)[0] != "a" {
		t.Fatalf("slice arg aliased producer state")
	}
}

func TestEventArgTypes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		arg  any
		ok   bool
	}{
		{name: "nil", arg: nil, ok: true},
		{name: "bool", arg: true, ok: true},
		{name: "string", arg: "s", ok: true},
		{name: "int", arg: 7, ok: true},
		{name: "float", arg: 1.5, ok: true},
		{name: "bytes", arg: []byte{1, 2}, ok: true},
		{name: "nested", arg: []any{map[string]any{"k": []any{1}}}, ok: true},
		{name: "chan", arg: make(chan int), ok: false},
		{name: "func", arg: func() {}, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewEvent("e", tt.arg)
			if tt.ok && err != nil {
				t.Fatalf("NewEvent(%T) error: %v", tt.arg, err)
			}
			if !tt.ok && !errors.Is(err, ErrBadArgument) {
				t.Fatalf("NewEvent(%T) = %v, want ErrBadArgument", tt.arg, err)
			}
		})
	}
}

func TestEventArgCycleRejected(t *testing.T) {
	t.Parallel()
	self := map[string]any{}
	self["me"] = self
	if _, err := NewEvent("e", self); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("cyclic arg = %v, want ErrBadArgument", err)
	}
}

func TestInterruptEvent(t *testing.T) {
	t.Parallel()
	ev := Interrupt()
	if !ev.IsInterrupt() {
		t.Fatal("Interrupt() not tagged as interrupt")
	}
	if ev.Name != InterruptName {
		t.Fatalf("interrupt name = %q, want %q", ev.Name, InterruptName)
	}
}
