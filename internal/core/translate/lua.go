package translate

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/howard-nolan/llmrouter/internal/core/jsonnode"
)

// applyTransform runs a provider template's optional Lua escape hatch over
// the request body built so far. The script reads and
// reassigns the global "body" table; whatever it leaves there replaces *body
// on return. This exists for provider quirks the declarative path descriptors
// can't express (conditional fields, reshaping nested structures) without
// forcing every such quirk into a Go code change.
//
// Each call gets its own *lua.LState: templates run concurrently across
// goroutines and gopher-lua states aren't safe to share.
func applyTransform(body **jsonnode.Node, script string) error {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("body", goToLua(L, (*body).ToAny()))

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("lua transform: %w", err)
	}

	result := L.GetGlobal("body")
	*body = jsonnode.FromAny(luaToGo(result))
	return nil
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case string:
		return lua.LString(t)
	case map[string]any:
		tbl := L.NewTable()
		for k, e := range t {
			tbl.RawSetString(k, goToLua(L, e))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, e := range t {
			tbl.RawSetInt(i+1, goToLua(L, e))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

// luaToGo converts a table back to plain Go values, distinguishing a
// Lua array (consecutive integer keys starting at 1, nothing else set) from a
// map by checking whether Len() accounts for every entry.
func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		n := t.Len()
		count := 0
		t.ForEach(func(_, _ lua.LValue) { count++ })
		if n == count {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any, count)
		t.ForEach(func(k, val lua.LValue) {
			m[k.String()] = luaToGo(val)
		})
		return m
	default:
		return nil
	}
}
