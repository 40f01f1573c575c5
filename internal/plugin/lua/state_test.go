package lua

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhook/internal/lifecycle/event"
)

func TestState_SafeLibrariesOnly(t *testing.T) {
	s := NewState()
	defer s.Close()

	tests := []struct {
		name string
		code string
	}{
		{"string", `assert(string.upper("a") == "A")`},
		{"table", `local t = {} table.insert(t, 1) assert(#t == 1)`},
		{"math", `assert(math.floor(1.5) == 1)`},
		{"base", `assert(tostring(1) == "1")`},
	}
	for _, tt := range tests {
		if err := s.DoString(tt.code); err != nil {
			t.Errorf("%s: %v", tt.name, err)
		}
	}

	for _, global := range []string{"io", "os", "debug", "package"} {
		if err := s.DoString(`assert(` + global + ` == nil)`); err != nil {
			t.Errorf("%s should not be available: %v", global, err)
		}
	}
}

func TestSandbox_RemovesLoaders(t *testing.T) {
	s := NewState()
	defer s.Close()

	for _, name := range removedGlobals {
		if !s.Sandbox().Removed(name) {
			t.Errorf("Removed(%q) = false", name)
		}
		if err := s.DoString(`assert(` + name + ` == nil)`); err != nil {
			t.Errorf("%s should be removed: %v", name, err)
		}
	}
	if s.Sandbox().Removed("print") {
		t.Error("print is redirected, not removed")
	}
}

func TestSandbox_PrintGoesToLogger(t *testing.T) {
	var buf strings.Builder
	s := NewState(WithStateLogger(zerolog.New(&buf)))
	defer s.Close()

	if err := s.DoString(`print("a", 1, true)`); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"message":"a\t1\ttrue"`) {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestState_Timeout(t *testing.T) {
	s := NewState(WithExecutionTimeout(20 * time.Millisecond))
	defer s.Close()

	start := time.Now()
	err := s.DoString(`while true do end`)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("expected ErrExecutionTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not interrupt the loop")
	}

	if err := s.DoString(`x = 1`); err != nil {
		t.Errorf("state should be usable after a timeout: %v", err)
	}
}

func TestState_Call(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.DoString(`function double(n) result = n * 2 end`); err != nil {
		t.Fatal(err)
	}

	var fn *lua.LFunction
	_ = s.Do(func(L *lua.LState) error {
		fn = L.GetGlobal("double").(*lua.LFunction)
		return nil
	})
	if err := s.Call(fn, lua.LNumber(21)); err != nil {
		t.Fatal(err)
	}

	var result lua.LValue
	_ = s.Do(func(L *lua.LState) error {
		result = L.GetGlobal("result")
		return nil
	})
	if result != lua.LNumber(42) {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestState_RegisterModule(t *testing.T) {
	s := NewState()
	defer s.Close()

	err := s.RegisterModule("host", map[string]lua.LGFunction{
		"answer": func(L *lua.LState) int {
			L.Push(lua.LNumber(42))
			return 1
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DoString(`assert(host.answer() == 42)`); err != nil {
		t.Error(err)
	}
}

func TestState_Close(t *testing.T) {
	s := NewState()
	if s.IsClosed() {
		t.Fatal("new state reports closed")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if !s.IsClosed() {
		t.Error("IsClosed = false after Close")
	}
	if err := s.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString after Close = %v, want ErrStateClosed", err)
	}
}

func TestToGoValue(t *testing.T) {
	s := NewState()
	defer s.Close()

	var got any
	err := s.Do(func(L *lua.LState) error {
		if err := L.DoString(`v = { name = "Inventory", flags = { 1, 2.5 }, ok = true }`); err != nil {
			return err
		}
		got = ToGoValue(L.GetGlobal("v"))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map", got)
	}
	if m["name"] != "Inventory" || m["ok"] != true {
		t.Errorf("map = %v", m)
	}
	flags, ok := m["flags"].([]any)
	if !ok || len(flags) != 2 || flags[0] != int64(1) || flags[1] != 2.5 {
		t.Errorf("flags = %v", m["flags"])
	}
}

func TestFieldNames(t *testing.T) {
	names := FieldNames(event.Show)
	want := []string{"addon", "addon_name", "family", "open_silently", "unset_show_hide_flags"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("FieldNames(Show) = %v, want %v", names, want)
	}
}
