package workflow

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/BaSui01/agentmesh/types"
)

// executeLua runs a node's inline Lua code in a sandboxed interpreter with
// an explicit, minimal global namespace: only the base, table, string, and
// math libraries plus the node-context bindings are visible. Each
// invocation gets a fresh interpreter, so scripts cannot leak state into
// each other.
func (r *Runtime) executeLua(ctx context.Context, nc *NodeContext, node *types.Node) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	bindNodeContext(L, nc)

	if err := L.DoString(node.Code); err != nil {
		return types.NewError(types.ErrScriptFailed, "lua execution failed").WithCause(err)
	}
	return nil
}

// bindNodeContext exposes the node-handler contract to the script.
func bindNodeContext(L *lua.LState, nc *NodeContext) {
	L.SetGlobal("agent_id", lua.LString(nc.AgentID()))
	L.SetGlobal("node_id", lua.LString(nc.NodeID()))
	L.SetGlobal("execution_id", lua.LString(nc.ExecutionID()))

	if msg := nc.Message(); msg != nil {
		mt := L.NewTable()
		L.SetField(mt, "sender", lua.LString(msg.Sender))
		L.SetField(mt, "receiver", lua.LString(msg.Receiver))
		L.SetField(mt, "performative", lua.LString(msg.Performative))
		L.SetField(mt, "conversation_id", lua.LString(msg.ConversationID))
		L.SetField(mt, "content", goToLua(L, msg.Content))
		L.SetGlobal("message", mt)
	}

	inputs := L.NewTable()
	for k, v := range nc.StaticInput() {
		L.SetField(inputs, k, lua.LString(v))
	}
	L.SetGlobal("static_input", inputs)

	L.SetGlobal("get_input", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if v, ok := nc.StaticInput()[key]; ok {
			L.Push(lua.LString(v))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("write_output", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		nc.WriteOutput(key, luaToGo(L.CheckAny(2)))
		return 0
	}))

	L.SetGlobal("get_run_var", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		L.Push(goToLua(L, nc.GetRunVar(key, nil)))
		return 1
	}))

	L.SetGlobal("set_run_var", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		nc.SetRunVar(key, luaToGo(L.CheckAny(2)))
		return 0
	}))

	L.SetGlobal("get_var", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if v, ok := nc.Vars().Get(key); ok {
			L.Push(goToLua(L, v))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("set_var", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		nc.Vars().Set(key, luaToGo(L.CheckAny(2)))
		return 0
	}))

	L.SetGlobal("get_parent_output", L.NewFunction(func(L *lua.LState) int {
		list := L.NewTable()
		for _, item := range nc.ParentOutputs() {
			entry := L.NewTable()
			L.SetField(entry, "key", lua.LString(item.Key))
			L.SetField(entry, "value", goToLua(L, item.Value))
			list.Append(entry)
		}
		L.Push(list)
		return 1
	}))

	L.SetGlobal("get_parent_output_by_key", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		list := L.NewTable()
		for _, v := range nc.ParentOutputsByKey(key) {
			list.Append(goToLua(L, v))
		}
		L.Push(list)
		return 1
	}))

	L.SetGlobal("get_single_parent_output", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		L.Push(goToLua(L, nc.SingleParentOutput(key, nil)))
		return 1
	}))

	L.SetGlobal("pass_output", L.NewFunction(func(L *lua.LState) int {
		if err := nc.PassOutput(); err != nil {
			L.RaiseError("pass_output: %v", err)
		}
		return 0
	}))

	L.SetGlobal("request_stop_path", L.NewFunction(func(L *lua.LState) int {
		nc.RequestStopPath()
		return 0
	}))

	L.SetGlobal("request_session_stop", L.NewFunction(func(L *lua.LState) int {
		nc.RequestSessionStop()
		return 0
	}))

	L.SetGlobal("publish", L.NewFunction(func(L *lua.LState) int {
		topic := L.CheckString(1)
		content := luaToGo(L.CheckAny(2))
		nc.Publish(topic, types.NewMessage("/agent:"+nc.AgentID(), content))
		return 0
	}))
}

// goToLua converts a Go value into its Lua representation.
func goToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case types.OutputItem:
		t := L.NewTable()
		L.SetField(t, "key", lua.LString(v.Key))
		L.SetField(t, "value", goToLua(L, v.Value))
		return t
	case []any:
		t := L.NewTable()
		for _, e := range v {
			t.Append(goToLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range v {
			L.SetField(t, k, goToLua(L, e))
		}
		return t
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value into a plain Go value. Array-like tables
// become []any, everything else becomes map[string]any.
func luaToGo(value lua.LValue) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		maxN := v.MaxN()
		if maxN > 0 {
			list := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				list = append(list, luaToGo(v.RawGetInt(i)))
			}
			return list
		}
		m := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			if ks, ok := key.(lua.LString); ok {
				m[string(ks)] = luaToGo(val)
			}
		})
		return m
	default:
		return nil
	}
}
