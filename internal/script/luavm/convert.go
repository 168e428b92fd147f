package luavm

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds nested tables at the boundary. Deep enough for any
// sane event payload, shallow enough to fail fast on cycles that slip past
// the seen-set (shared subtables).
const maxConvertDepth = 32

// luaToGo converts a Lua value into a plain Go value for an event payload.
// Tables become []any (sequences) or map[string]any. Cyclic tables and
// non-data values (functions, userdata, threads) are rejected.
func luaToGo(lv lua.LValue) (any, error) {
	return luaToGoDepth(lv, map[*lua.LTable]bool{}, 0)
}

func luaToGoDepth(lv lua.LValue, seen map[*lua.LTable]bool, depth int) (any, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxConvertDepth)
	}
	switch v := lv.(type) {
	case *lua.LNilType, nil:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		f := float64(v)
		// Preserve integral numbers as int64 so ids survive the round trip.
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if seen[v] {
			return nil, fmt.Errorf("cyclic table")
		}
		seen[v] = true
		defer delete(seen, v)

		n := v.Len()
		if n > 0 {
			// Sequence part only; a mixed table loses its hash part, which
			// is the usual Lua convention for array payloads.
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				gv, err := luaToGoDepth(v.RawGetInt(i), seen, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, gv)
			}
			return out, nil
		}

		out := map[string]any{}
		var convErr error
		v.ForEach(func(k, val lua.LValue) {
			if convErr != nil {
				return
			}
			ks, ok := k.(lua.LString)
			if !ok {
				convErr = fmt.Errorf("table key %s is not a string", k.Type())
				return
			}
			gv, err := luaToGoDepth(val, seen, depth+1)
			if err != nil {
				convErr = err
				return
			}
			out[string(ks)] = gv
		})
		if convErr != nil {
			return nil, convErr
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", lv.Type())
	}
}

// goToLua converts an event payload value back into a Lua value on L.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := L.NewTable()
		for _, item := range x {
			t.Append(goToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range x {
			t.RawSetString(k, goToLua(L, item))
		}
		return t
	default:
		// Payloads are built from the same closed set by the kernel, so
		// this only fires on a host-side programming error.
		return lua.LString(fmt.Sprintf("%v", x))
	}
}
