// Package luaworker runs Lua workloads against a coordinator through the
// bridge. Scripts consume variables, report usage and impact, and react to
// update notifications without linking against Go.
package luaworker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	varbridge "github.com/varhub/varhub/lib/go"
)

// Worker owns one Lua state bound to one bridge connection. The state is
// not goroutine-safe, so every entry into Lua, including notification
// callbacks arriving on the bridge's read goroutine, goes through mu.
type Worker struct {
	bridge *varbridge.Bridge
	log    zerolog.Logger

	mu    sync.Mutex
	state *lua.LState
}

// New creates a worker with the vars module preloaded.
func New(b *varbridge.Bridge, log zerolog.Logger) *Worker {
	L := lua.NewState()
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	w := &Worker{
		bridge: b,
		log:    log.With().Str("component", "luaworker").Logger(),
		state:  L,
	}
	L.PreloadModule("vars", w.loadVarsModule)
	return w
}

// RunFile executes a script file.
func (w *Worker) RunFile(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state.DoFile(path); err != nil {
		return fmt.Errorf("lua script %s: %w", path, err)
	}
	return nil
}

// RunString executes inline Lua source.
func (w *Worker) RunString(src string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state.DoString(src); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

// Close shuts down the Lua state. The bridge stays open; the caller owns it.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Close()
}

// loadVarsModule registers the vars table.
//
//	vars.get(key) -> value          fetch through the bridge cache
//	vars.update(key, value)         commit a new value
//	vars.invalidate(key)            drop one cached variable
//	vars.invalidate_all()           empty the cache
//	vars.observe(key, fn)           fn(value, cause_table) per committed update
//	vars.report(id, value, site)    buffer one usage record
//	vars.impact(id, metric, v, n)   buffer one impact record
//	vars.flush()                    send partial report batches
func (w *Worker) loadVarsModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get":            w.luaGet,
		"update":         w.luaUpdate,
		"invalidate":     w.luaInvalidate,
		"invalidate_all": w.luaInvalidateAll,
		"observe":        w.luaObserve,
		"report":         w.luaReport,
		"impact":         w.luaImpact,
		"flush":          w.luaFlush,
	})
	L.Push(mod)
	return 1
}

func (w *Worker) luaGet(L *lua.LState) int {
	key := L.CheckString(1)
	v, err := w.bridge.Get(key)
	if err != nil {
		L.RaiseError("get %s: %s", key, err.Error())
		return 0
	}
	L.Push(toLua(L, v.Value))
	return 1
}

func (w *Worker) luaUpdate(L *lua.LState) int {
	key := L.CheckString(1)
	value := fromLua(L.CheckAny(2))
	if err := w.bridge.Update(key, value, map[string]string{"cause": "lua"}); err != nil {
		L.RaiseError("update %s: %s", key, err.Error())
		return 0
	}
	return 0
}

func (w *Worker) luaInvalidate(L *lua.LState) int {
	w.bridge.Invalidate(L.CheckString(1))
	return 0
}

func (w *Worker) luaInvalidateAll(L *lua.LState) int {
	w.bridge.InvalidateAll()
	return 0
}

func (w *Worker) luaObserve(L *lua.LState) int {
	key := L.CheckString(1)
	fn := L.CheckFunction(2)
	err := w.bridge.Observe(key, func(v varbridge.Variable, cause map[string]string) {
		w.mu.Lock()
		defer w.mu.Unlock()
		causeTable := w.state.NewTable()
		for k, c := range cause {
			causeTable.RawSetString(k, lua.LString(c))
		}
		if err := w.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			toLua(w.state, v.Value), causeTable); err != nil {
			w.log.Warn().Err(err).Str("variable", v.Name).Msg("observer callback failed")
		}
	})
	if err != nil {
		L.RaiseError("observe %s: %s", key, err.Error())
		return 0
	}
	return 0
}

func (w *Worker) luaReport(L *lua.LState) int {
	id := L.CheckString(1)
	value := fromLua(L.CheckAny(2))
	site := L.OptString(3, "lua")
	if err := w.bridge.ReportUsage(id, value, site); err != nil {
		L.RaiseError("report %s: %s", id, err.Error())
		return 0
	}
	return 0
}

func (w *Worker) luaImpact(L *lua.LState) int {
	id := L.CheckString(1)
	metric := L.CheckString(2)
	value := float64(L.CheckNumber(3))
	samples := L.OptInt(4, 1)
	if err := w.bridge.ReportImpact(id, metric, value, samples); err != nil {
		L.RaiseError("impact %s: %s", id, err.Error())
		return 0
	}
	return 0
}

func (w *Worker) luaFlush(L *lua.LState) int {
	if err := w.bridge.Flush(); err != nil {
		L.RaiseError("flush: %s", err.Error())
	}
	return 0
}
