package lua

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhook/internal/lifecycle/args"
	"github.com/dshills/addonhook/internal/lifecycle/event"
	"github.com/dshills/addonhook/internal/native"
)

const argsTypeName = "lifecycle.args"

// field exposes one argument property to Lua. A nil set makes it read-only.
type field struct {
	get func(a args.Args) lua.LValue
	set func(a args.Args, v lua.LValue) bool
}

type number interface {
	~uint16 | ~int32 | ~uint32 | ~uintptr
}

func numField[T number](ptr func(a args.Args) *T) field {
	return field{
		get: func(a args.Args) lua.LValue { return lua.LNumber(*ptr(a)) },
		set: func(a args.Args, v lua.LValue) bool {
			n, ok := v.(lua.LNumber)
			if !ok {
				return false
			}
			*ptr(a) = T(int64(n))
			return true
		},
	}
}

func boolField(ptr func(a args.Args) *bool) field {
	return field{
		get: func(a args.Args) lua.LValue { return lua.LBool(*ptr(a)) },
		set: func(a args.Args, v lua.LValue) bool {
			b, ok := v.(lua.LBool)
			if !ok {
				return false
			}
			*ptr(a) = bool(b)
			return true
		},
	}
}

func readOnly(get func(a args.Args) lua.LValue) field {
	return field{get: get}
}

var commonFields = map[string]field{
	"addon_name": readOnly(func(a args.Args) lua.LValue { return lua.LString(a.AddonName()) }),
	"addon":      readOnly(func(a args.Args) lua.LValue { return lua.LNumber(a.Addon()) }),
	"family":     readOnly(func(a args.Args) lua.LValue { return lua.LString(a.Family().String()) }),
}

var familyFields = map[event.Family]map[string]field{
	event.Setup: {
		"value_count": numField(func(a args.Args) *uint32 { return &a.(*args.SetupArgs).ValueCount }),
		"values":      numField(func(a args.Args) *native.Addr { return &a.(*args.SetupArgs).Values }),
	},
	event.Update: {
		"time_delta": readOnly(func(a args.Args) lua.LValue { return lua.LNumber(a.(*args.UpdateArgs).TimeDelta()) }),
	},
	event.Refresh: {
		"value_count": numField(func(a args.Args) *uint32 { return &a.(*args.RefreshArgs).ValueCount }),
		"values":      numField(func(a args.Args) *native.Addr { return &a.(*args.RefreshArgs).Values }),
	},
	event.RequestedUpdate: {
		"number_array_data": numField(func(a args.Args) *native.Addr { return &a.(*args.RequestedUpdateArgs).NumberArrayData }),
		"string_array_data": numField(func(a args.Args) *native.Addr { return &a.(*args.RequestedUpdateArgs).StringArrayData }),
	},
	event.ReceiveEvent: {
		"event_type":  numField(func(a args.Args) *uint16 { return &a.(*args.ReceiveEventArgs).EventType }),
		"event_param": numField(func(a args.Args) *int32 { return &a.(*args.ReceiveEventArgs).EventParam }),
		"event":       numField(func(a args.Args) *native.Addr { return &a.(*args.ReceiveEventArgs).Event }),
		"data":        numField(func(a args.Args) *native.Addr { return &a.(*args.ReceiveEventArgs).Data }),
	},
	event.Show: {
		"open_silently":         boolField(func(a args.Args) *bool { return &a.(*args.ShowArgs).OpenSilently }),
		"unset_show_hide_flags": numField(func(a args.Args) *uint32 { return &a.(*args.ShowArgs).UnsetShowHideFlags }),
	},
	event.Hide: {
		"call_hide_callback":  boolField(func(a args.Args) *bool { return &a.(*args.HideArgs).CallHideCallback }),
		"set_show_hide_flags": numField(func(a args.Args) *uint32 { return &a.(*args.HideArgs).SetShowHideFlags }),
	},
	event.Open: {
		"depth_layer": numField(func(a args.Args) *uint32 { return &a.(*args.OpenArgs).DepthLayer }),
	},
	event.Close: {
		"fire_callback": boolField(func(a args.Args) *bool { return &a.(*args.CloseArgs).FireCallback }),
	},
}

func lookupField(a args.Args, name string) (field, bool) {
	if f, ok := commonFields[name]; ok {
		return f, true
	}
	f, ok := familyFields[a.Family()][name]
	return f, ok
}

// FieldNames returns the Lua field names of family f's argument object.
func FieldNames(f event.Family) []string {
	names := make([]string, 0, len(commonFields)+len(familyFields[f]))
	for name := range commonFields {
		names = append(names, name)
	}
	for name := range familyFields[f] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerArgsType installs the metatable shared by argument userdata.
func registerArgsType(L *lua.LState) {
	mt := L.NewTypeMetatable(argsTypeName)
	L.SetField(mt, "__index", L.NewFunction(argsIndex))
	L.SetField(mt, "__newindex", L.NewFunction(argsNewIndex))
	L.SetField(mt, "__tostring", L.NewFunction(argsToString))
}

// newArgs wraps a for the duration of one callback. The caller expires the
// userdata when the callback returns.
func newArgs(L *lua.LState, a args.Args) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = a
	L.SetMetatable(ud, L.GetTypeMetatable(argsTypeName))
	return ud
}

func expireArgs(ud *lua.LUserData) {
	ud.Value = nil
}

func checkArgs(L *lua.LState) args.Args {
	ud := L.CheckUserData(1)
	a, ok := ud.Value.(args.Args)
	if !ok {
		L.RaiseError("%s", ErrArgsExpired.Error())
	}
	return a
}

func argsIndex(L *lua.LState) int {
	a := checkArgs(L)
	name := L.CheckString(2)
	f, ok := lookupField(a, name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(f.get(a))
	return 1
}

func argsNewIndex(L *lua.LState) int {
	a := checkArgs(L)
	name := L.CheckString(2)
	f, ok := lookupField(a, name)
	switch {
	case !ok:
		L.RaiseError("%s arguments have no field %q", a.Family(), name)
	case f.set == nil:
		L.RaiseError("%s.%s is read-only", a.Family(), name)
	case !f.set(a, L.Get(3)):
		L.RaiseError("%s.%s: unexpected %s", a.Family(), name, L.Get(3).Type())
	}
	return 0
}

func argsToString(L *lua.LState) int {
	ud := L.CheckUserData(1)
	if a, ok := ud.Value.(args.Args); ok {
		L.Push(lua.LString(a.Family().String() + "Args(" + a.AddonName() + ")"))
	} else {
		L.Push(lua.LString("Args(expired)"))
	}
	return 1
}

// ToGoValue converts a Lua value to a Go value. Tables with keys 1..n
// become slices, other tables maps with string keys. Functions and
// cyclic references become nil.
func ToGoValue(lv lua.LValue) any {
	return toGoValue(lv, make(map[*lua.LTable]bool))
}

func toGoValue(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	if n := t.Len(); n > 0 {
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		if count == n {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = toGoValue(t.RawGetInt(i), visited)
			}
			return arr
		}
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = toGoValue(v, visited)
	})
	return m
}
