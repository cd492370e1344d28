package config

import (
	lua "github.com/yuin/gopher-lua"
)

// unsafeGlobals are removed before user code runs: process control,
// filesystem access, code loading and the debug library.
var unsafeGlobals = []string{
	"os", "io", "debug",
	"require", "dofile", "loadfile", "load", "loadstring",
}

// newSandboxedVM returns a Lua state with only string, table, math and the
// basic functions available. The caller must Close it.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
