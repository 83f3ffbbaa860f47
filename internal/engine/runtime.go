package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"ragshell/backend/internal/observability"
)

const DefaultModule = "agent_runtime.executor"

// ErrClosed is returned for engine work requested after Close.
var ErrClosed = errors.New("engine runtime is closed")

type RuntimeConfig struct {
	// SearchDir is registered as the first entry of the engine's module search path.
	SearchDir string
	// Module is the dotted name of the logic module evicted on startup and reload.
	Module string
}

// Runtime owns the single embedded engine of the process. Initialization runs
// once; afterwards every piece of engine work happens under the access token.
type Runtime struct {
	interp    Interpreter
	searchDir string
	module    string

	once    sync.Once
	initErr error
	ready   atomic.Bool

	// token is the global access token. It also guards invalidations and closed.
	token         sync.Mutex
	invalidations int
	closed        bool
}

func NewRuntime(interp Interpreter, cfg RuntimeConfig) *Runtime {
	module := strings.TrimSpace(cfg.Module)
	if module == "" {
		module = DefaultModule
	}
	return &Runtime{
		interp:    interp,
		searchDir: strings.TrimSpace(cfg.SearchDir),
		module:    module,
	}
}

func (r *Runtime) Module() string {
	return r.module
}

// Initialize brings the engine up exactly once. Concurrent callers block until
// the first call finishes and all observe its outcome; a failed start is never
// retried.
func (r *Runtime) Initialize() error {
	if r == nil || r.interp == nil {
		return &StartupError{Err: fmt.Errorf("runtime has no interpreter")}
	}

	r.once.Do(func() {
		r.token.Lock()
		defer r.token.Unlock()

		if err := r.interp.Start(); err != nil {
			r.initErr = &StartupError{Err: err}
			return
		}
		if r.searchDir != "" {
			if err := r.interp.PrependSearchPath(r.searchDir); err != nil {
				r.initErr = &StartupError{Err: fmt.Errorf("register search path %s: %w", r.searchDir, err)}
				return
			}
		}
		evicted := r.invalidateLocked()
		r.ready.Store(true)

		observability.Info("engine_initialized", map[string]any{
			"search_dir": r.searchDir,
			"module":     r.module,
			"evicted":    evicted,
		})
	})
	return r.initErr
}

func (r *Runtime) Ready() bool {
	return r != nil && r.ready.Load()
}

// Do runs fn with exclusive access to the engine.
func (r *Runtime) Do(fn func(Interpreter) error) error {
	if err := r.Initialize(); err != nil {
		return err
	}

	r.token.Lock()
	defer r.token.Unlock()
	if r.closed {
		return ErrClosed
	}
	return fn(r.interp)
}

// Reload evicts the logic module again so the next command imports a freshly
// built copy. Initialize alone never does this after the first call.
func (r *Runtime) Reload() error {
	return r.Do(func(Interpreter) error {
		evicted := r.invalidateLocked()
		observability.Info("engine_module_reloaded", map[string]any{
			"module":  r.module,
			"evicted": evicted,
		})
		return nil
	})
}

func (r *Runtime) Invalidations() int {
	r.token.Lock()
	defer r.token.Unlock()
	return r.invalidations
}

func (r *Runtime) Close() {
	if r == nil || r.interp == nil {
		return
	}
	r.token.Lock()
	defer r.token.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.ready.Store(false)
	r.interp.Close()
}
