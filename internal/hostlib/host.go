// Package hostlib is the "host" Lua module: the embedded logic module's only
// route to storage, files, subprocesses and chat providers.
package hostlib

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"ragshell/backend/internal/llm"
	"ragshell/backend/internal/observability"
)

const (
	ModuleName         = "host"
	defaultExecTimeout = 10 * time.Minute
	maxReadFileBytes   = 32 << 20
	maxExecOutput      = 64 << 10
)

// KV is the persistence surface exposed to the engine.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Put(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) (bool, error)
	Keys(ctx context.Context, namespace string) ([]string, error)
	Clear(ctx context.Context, namespace string) (int64, error)
}

type Completer interface {
	Complete(ctx context.Context, provider string, req llm.Request) (string, error)
}

type Config struct {
	Store   KV
	LLM     Completer
	DataDir string
	// ExecAllow lists binaries host.exec may run.
	ExecAllow   []string
	ExecTimeout time.Duration
	// Now is overridable in tests.
	Now func() time.Time
}

type module struct {
	cfg   Config
	allow map[string]bool
}

// Preload returns a hook that registers the host module on a Lua state.
func Preload(cfg Config) func(L *lua.LState) {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &module{cfg: cfg, allow: map[string]bool{}}
	for _, name := range cfg.ExecAllow {
		if name = strings.TrimSpace(name); name != "" {
			m.allow[name] = true
		}
	}
	return func(L *lua.LState) {
		L.PreloadModule(ModuleName, m.loader)
	}
}

func (m *module) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"kv_get":    m.kvGet,
		"kv_put":    m.kvPut,
		"kv_delete": m.kvDelete,
		"kv_keys":   m.kvKeys,
		"kv_clear":  m.kvClear,
		"read_file": m.readFile,
		"file_info": m.fileInfo,
		"exec":      m.exec,
		"which":     m.which,
		"uuid":      m.uuid,
		"now":       m.now,
		"data_dir":  m.dataDir,
		"log":       m.log,
		"complete":  m.complete,
	})
	L.Push(mod)
	return 1
}

func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// fail pushes the (nil, message) pair used by every fallible host function.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func (m *module) kvGet(L *lua.LState) int {
	if m.cfg.Store == nil {
		return fail(L, errNoStore)
	}
	v, ok, err := m.cfg.Store.Get(ctxOf(L), L.CheckString(1), L.CheckString(2))
	if err != nil {
		return fail(L, err)
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func (m *module) kvPut(L *lua.LState) int {
	if m.cfg.Store == nil {
		return fail(L, errNoStore)
	}
	if err := m.cfg.Store.Put(ctxOf(L), L.CheckString(1), L.CheckString(2), L.CheckString(3)); err != nil {
		return fail(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (m *module) kvDelete(L *lua.LState) int {
	if m.cfg.Store == nil {
		return fail(L, errNoStore)
	}
	removed, err := m.cfg.Store.Delete(ctxOf(L), L.CheckString(1), L.CheckString(2))
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LBool(removed))
	return 1
}

func (m *module) kvKeys(L *lua.LState) int {
	if m.cfg.Store == nil {
		return fail(L, errNoStore)
	}
	keys, err := m.cfg.Store.Keys(ctxOf(L), L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	tbl := L.CreateTable(len(keys), 0)
	for _, k := range keys {
		tbl.Append(lua.LString(k))
	}
	L.Push(tbl)
	return 1
}

func (m *module) kvClear(L *lua.LState) int {
	if m.cfg.Store == nil {
		return fail(L, errNoStore)
	}
	n, err := m.cfg.Store.Clear(ctxOf(L), L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (m *module) readFile(L *lua.LState) int {
	path := L.CheckString(1)
	info, err := os.Stat(path)
	if err != nil {
		return fail(L, err)
	}
	if info.IsDir() {
		return fail(L, errIsDir(path))
	}
	if info.Size() > maxReadFileBytes {
		return fail(L, errTooLarge(path, info.Size()))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(L, err)
	}
	L.Push(lua.LString(raw))
	return 1
}

func (m *module) fileInfo(L *lua.LState) int {
	path := L.CheckString(1)
	info, err := os.Stat(path)
	if err != nil {
		return fail(L, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	tbl := L.NewTable()
	L.SetField(tbl, "name", lua.LString(info.Name()))
	L.SetField(tbl, "path", lua.LString(abs))
	L.SetField(tbl, "ext", lua.LString(strings.ToLower(strings.TrimPrefix(filepath.Ext(info.Name()), "."))))
	L.SetField(tbl, "size", lua.LNumber(info.Size()))
	L.SetField(tbl, "is_dir", lua.LBool(info.IsDir()))
	L.SetField(tbl, "mod_time", lua.LString(info.ModTime().UTC().Format(time.RFC3339)))
	L.Push(tbl)
	return 1
}

// exec runs an allowlisted binary and returns (output, exit_code) or (nil, err).
func (m *module) exec(L *lua.LState) int {
	name := L.CheckString(1)
	if !m.allow[name] {
		return fail(L, errNotAllowed(name))
	}
	var args []string
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.CheckString(i))
	}

	ctx, cancel := context.WithTimeout(ctxOf(L), m.cfg.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	output := string(out)
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput] + "\n...[truncated]"
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return fail(L, err)
		}
	}
	observability.Debug("host_exec", map[string]any{"name": name, "args": args, "exit_code": exitCode})

	L.Push(lua.LString(output))
	L.Push(lua.LNumber(exitCode))
	return 2
}

func (m *module) which(L *lua.LState) int {
	path, err := exec.LookPath(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(path))
	return 1
}

func (m *module) uuid(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

func (m *module) now(L *lua.LState) int {
	L.Push(lua.LString(m.cfg.Now().UTC().Format(time.RFC3339Nano)))
	return 1
}

func (m *module) dataDir(L *lua.LState) int {
	L.Push(lua.LString(m.cfg.DataDir))
	return 1
}

func (m *module) log(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	observability.Log(level, "engine_log", map[string]any{"message": msg})
	return 0
}

// complete(provider, {prompt=, system=, model=, temperature=, max_tokens=, api_key=})
func (m *module) complete(L *lua.LState) int {
	if m.cfg.LLM == nil {
		return fail(L, errNoLLM)
	}
	provider := L.CheckString(1)
	opts := L.CheckTable(2)

	req := llm.Request{
		Prompt:      lua.LVAsString(opts.RawGetString("prompt")),
		System:      lua.LVAsString(opts.RawGetString("system")),
		Model:       lua.LVAsString(opts.RawGetString("model")),
		APIKey:      lua.LVAsString(opts.RawGetString("api_key")),
		Temperature: float64(lua.LVAsNumber(opts.RawGetString("temperature"))),
		MaxTokens:   int64(lua.LVAsNumber(opts.RawGetString("max_tokens"))),
	}

	start := time.Now()
	text, err := m.cfg.LLM.Complete(ctxOf(L), provider, req)
	fields := map[string]any{
		"provider":    provider,
		"model":       req.Model,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["reason"] = err.Error()
		observability.Warn("host_llm_failed", fields)
		return fail(L, err)
	}
	observability.Info("host_llm_ok", fields)
	L.Push(lua.LString(text))
	return 1
}
