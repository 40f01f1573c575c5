package lua

import (
	"strings"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// removedGlobals can load code from disk or from strings.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
	"collectgarbage",
}

// Sandbox restricts a Lua state to the functions scripts need.
type Sandbox struct {
	L   *lua.LState
	log zerolog.Logger
}

// NewSandbox creates a sandbox for L. print writes to log.
func NewSandbox(L *lua.LState, log zerolog.Logger) *Sandbox {
	return &Sandbox{L: L, log: log}
}

// Install removes unsafe globals and redirects print.
func (s *Sandbox) Install() {
	for _, name := range removedGlobals {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.print))
}

// Removed reports whether a global is removed by Install.
func (s *Sandbox) Removed(name string) bool {
	for _, n := range removedGlobals {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Sandbox) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.log.Info().Str("source", "print").Msg(strings.Join(parts, "\t"))
	return 0
}
