package luaworker

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a canonical Go value into its Lua form. Slices become
// 1-based tables; string-keyed maps become tables.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a plain Go value for transport. Tables
// with contiguous 1..n integer keys become slices, others become maps.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return val.String()
	}
}

func tableToGo(t *lua.LTable) any {
	n := t.Len()
	if n > 0 {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, fromLua(t.RawGetInt(i)))
		}
		return arr
	}
	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = fromLua(v)
	})
	return m
}
