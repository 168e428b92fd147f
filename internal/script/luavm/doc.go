// Package luavm runs a cartridge as a Lua coroutine and adapts it to the
// kernel's resume protocol.
//
// The cartridge suspends by calling os.pull/os.pullRaw/os.sleep, which are
// defined in an embedded Lua prelude layered over coroutine.yield, so
// suspension crosses the interpreter boundary exactly once per pull. The Go
// side only ever calls Resume on the coroutine and converts values at the
// boundary; Lua values never escape the state.
package luavm
