// Package bootstrap assembles the engine, its host library and the command
// surface from a loaded configuration.
package bootstrap

import (
	"errors"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"ragshell/backend/internal/commands"
	"ragshell/backend/internal/config"
	"ragshell/backend/internal/engine"
	"ragshell/backend/internal/hostlib"
	"ragshell/backend/internal/llm"
	"ragshell/backend/internal/observability"
	"ragshell/backend/internal/store"
	"ragshell/backend/internal/task"
)

type Host struct {
	Config   config.Config
	Runtime  *engine.Runtime
	Bridge   *engine.Bridge
	Commands *commands.Dispatcher
	Tasks    *task.Service
	Store    *store.Store
	History  *task.SQLiteHistoryStore
	LLM      *llm.Router
}

// New wires every component but leaves the engine stopped; call Start.
func New(cfg config.Config) (*Host, error) {
	embeddedDir, err := cfg.ResolveEmbeddedDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir failed: %w", err)
	}

	kv, err := store.Open(cfg.EngineDBPath())
	if err != nil {
		return nil, err
	}
	history, err := task.NewSQLiteHistoryStore(cfg.TaskDBPath(), cfg.Tasks.HistoryKeep)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	router := llm.NewRouter(llm.Config{
		OpenAIBaseURL:    cfg.LLM.OpenAIBaseURL,
		AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
		OllamaURL:        cfg.LLM.OllamaURL,
		RequestTimeout:   cfg.LLM.RequestTimeout,
	})

	interp := engine.NewLuaInterpreter(engine.LuaOptions{
		Preload: []func(*lua.LState){
			hostlib.Preload(hostlib.Config{
				Store:       kv,
				LLM:         router,
				DataDir:     cfg.DataDir,
				ExecAllow:   cfg.Exec.Allow,
				ExecTimeout: cfg.Exec.Timeout,
			}),
		},
	})
	rt := engine.NewRuntime(interp, engine.RuntimeConfig{SearchDir: embeddedDir, Module: cfg.Module})
	bridge := engine.NewBridge(rt, engine.BridgeConfig{Capability: cfg.Capability})

	var opts []commands.Option
	if cfg.DevReload {
		opts = append(opts, commands.WithReloader(rt))
	}
	dispatcher := commands.NewDispatcher(bridge, opts...)

	tasks := task.NewServiceWithConfig(dispatcher, task.Config{
		MaxConcurrency: cfg.Tasks.Workers,
		QueueSize:      cfg.Tasks.QueueSize,
		History:        history,
	})

	observability.Info("host_wired", map[string]any{
		"embedded_dir": embeddedDir,
		"data_dir":     cfg.DataDir,
		"module":       cfg.Module,
		"dev_reload":   cfg.DevReload,
	})

	return &Host{
		Config:   cfg,
		Runtime:  rt,
		Bridge:   bridge,
		Commands: dispatcher,
		Tasks:    tasks,
		Store:    kv,
		History:  history,
		LLM:      router,
	}, nil
}

// Start initializes the engine. The returned error is a *engine.StartupError
// and the process is expected to exit.
func (h *Host) Start() error {
	return h.Runtime.Initialize()
}

func (h *Host) Close() error {
	if h == nil {
		return nil
	}
	h.Tasks.Close()
	h.Runtime.Close()
	return errors.Join(h.History.Close(), h.Store.Close())
}
