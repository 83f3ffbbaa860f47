package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
)

// LuaOptions configures the embedded Lua VM.
type LuaOptions struct {
	// Preload registers host modules (require-able by name) when the VM starts.
	Preload []func(L *lua.LState)
	// CallStackSize and RegistrySize are passed to gopher-lua; zero keeps its defaults.
	CallStackSize int
	RegistrySize  int
}

// LuaInterpreter implements Interpreter on a single gopher-lua state.
type LuaInterpreter struct {
	opts LuaOptions
	L    *lua.LState
}

func NewLuaInterpreter(opts LuaOptions) *LuaInterpreter {
	return &LuaInterpreter{opts: opts}
}

// State exposes the underlying VM. Callers must hold the runtime's access token.
func (li *LuaInterpreter) State() *lua.LState {
	return li.L
}

func (li *LuaInterpreter) Start() error {
	if li.L != nil {
		return nil
	}

	L := lua.NewState(lua.Options{
		CallStackSize: li.opts.CallStackSize,
		RegistrySize:  li.opts.RegistrySize,
	})
	luajson.Preload(L)
	for _, preload := range li.opts.Preload {
		if preload != nil {
			preload(L)
		}
	}

	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		L.Close()
		return fmt.Errorf("lua package library is not available")
	}
	if _, ok := L.GetField(pkg, "loaded").(*lua.LTable); !ok {
		L.Close()
		return fmt.Errorf("lua module cache is not available")
	}

	li.L = L
	return nil
}

func (li *LuaInterpreter) PrependSearchPath(dir string) error {
	if li.L == nil {
		return fmt.Errorf("lua state is not started")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve search dir: %w", err)
	}
	abs = filepath.ToSlash(abs)

	pkg := li.L.GetGlobal("package")
	current := ""
	if s, ok := li.L.GetField(pkg, "path").(lua.LString); ok {
		current = string(s)
	}

	entries := []string{abs + "/?.lua", abs + "/?/init.lua"}
	if current != "" {
		entries = append(entries, current)
	}
	li.L.SetField(pkg, "path", lua.LString(strings.Join(entries, ";")))
	return nil
}

func (li *LuaInterpreter) Evict(modules ...string) {
	if li.L == nil {
		return
	}
	loaded, ok := li.L.GetField(li.L.GetGlobal("package"), "loaded").(*lua.LTable)
	if !ok {
		return
	}
	for _, name := range modules {
		loaded.RawSetString(name, lua.LNil)
	}
}

func (li *LuaInterpreter) Import(module string) (Value, error) {
	if li.L == nil {
		return nil, fmt.Errorf("lua state is not started")
	}
	return li.call(li.L.GetGlobal("require"), lua.LString(module))
}

func (li *LuaInterpreter) Lookup(module Value, name string) (Value, error) {
	tbl, ok := module.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("module is a %s, not a table", typeName(module))
	}
	v := li.L.GetField(tbl, name)
	if v == lua.LNil {
		return nil, fmt.Errorf("module has no attribute %q", name)
	}
	return v, nil
}

// Instantiate accepts either a factory function or a class table with a new
// constructor, which is called method style (Class:new()).
func (li *LuaInterpreter) Instantiate(factory Value) (Value, error) {
	var (
		instance lua.LValue
		err      error
	)
	switch f := factory.(type) {
	case *lua.LFunction:
		instance, err = li.call(f)
	case *lua.LTable:
		ctor, ok := li.L.GetField(f, "new").(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("class table has no new constructor")
		}
		instance, err = li.call(ctor, f)
	default:
		return nil, fmt.Errorf("%s is not constructible", typeName(factory))
	}
	if err != nil {
		return nil, err
	}
	if instance == lua.LNil {
		return nil, fmt.Errorf("constructor returned nil")
	}
	return instance, nil
}

func (li *LuaInterpreter) Invoke(instance Value, method string, args ...string) (Value, error) {
	var self lua.LValue
	switch v := instance.(type) {
	case *lua.LTable:
		self = v
	case *lua.LUserData:
		self = v
	default:
		return nil, fmt.Errorf("executor is a %s, not an object", typeName(instance))
	}
	fn, ok := li.L.GetField(self, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("executor has no %s method", method)
	}

	callArgs := make([]lua.LValue, 0, len(args)+1)
	callArgs = append(callArgs, self)
	for _, a := range args {
		callArgs = append(callArgs, lua.LString(a))
	}
	return li.call(fn, callArgs...)
}

func (li *LuaInterpreter) Encode(v Value) ([]byte, error) {
	lv, ok := v.(lua.LValue)
	if !ok {
		return nil, fmt.Errorf("%s is not a lua value", typeName(v))
	}
	return luajson.Encode(lv)
}

func (li *LuaInterpreter) Close() {
	if li.L == nil {
		return
	}
	li.L.Close()
	li.L = nil
}

// call invokes fn in protected mode and returns its first result. Script
// failures are converted to *ScriptError carrying the Lua traceback.
func (li *LuaInterpreter) call(fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	top := li.L.GetTop()
	defer li.L.SetTop(top)

	err := li.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	if err != nil {
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			msg := err.Error()
			if apiErr.Object != nil {
				msg = apiErr.Object.String()
			}
			return nil, &ScriptError{Message: msg, Traceback: apiErr.StackTrace}
		}
		return nil, &ScriptError{Message: err.Error()}
	}
	return li.L.Get(-1), nil
}

func typeName(v Value) string {
	if lv, ok := v.(lua.LValue); ok {
		return lv.Type().String()
	}
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
