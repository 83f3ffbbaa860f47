package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragshell/backend/internal/observability"
)

const (
	DefaultCapability = "Executor"
	DefaultMethod     = "execute"
)

type BridgeConfig struct {
	Capability string
	Method     string
}

// Bridge turns (command, params) pairs into engine calls. Each call constructs
// a fresh executor instance and discards it afterwards.
type Bridge struct {
	rt         *Runtime
	capability string
	method     string
}

func NewBridge(rt *Runtime, cfg BridgeConfig) *Bridge {
	capability := strings.TrimSpace(cfg.Capability)
	if capability == "" {
		capability = DefaultCapability
	}
	method := strings.TrimSpace(cfg.Method)
	if method == "" {
		method = DefaultMethod
	}
	return &Bridge{rt: rt, capability: capability, method: method}
}

// Execute forwards command into the engine and returns the JSON text of its
// result. Failures come back as *Error, *StartupError if the engine never
// started, or ErrClosed once the runtime is closed. There is no timeout; a
// hung engine blocks the caller.
func (b *Bridge) Execute(command string, params any) (string, error) {
	if b == nil || b.rt == nil {
		return "", &StartupError{Err: errors.New("bridge has no runtime")}
	}

	invocationID := uuid.NewString()
	start := time.Now()

	var out string
	err := b.rt.Do(func(in Interpreter) error {
		var runErr error
		out, runErr = b.run(in, invocationID, command, params)
		return runErr
	})

	fields := map[string]any{
		"invocation_id": invocationID,
		"command":       command,
		"duration_ms":   time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["reason"] = err.Error()
		if stage, ok := StageOf(err); ok {
			fields["stage"] = string(stage)
		}
		observability.Warn("bridge_command_failed", fields)
		return "", err
	}
	observability.Info("bridge_command_ok", fields)
	return out, nil
}

func (b *Bridge) run(in Interpreter, invocationID, command string, params any) (out string, err error) {
	stage := StageImport
	defer func() {
		if rec := recover(); rec != nil {
			observability.Error("bridge_engine_panic", map[string]any{
				"invocation_id": invocationID,
				"stage":         string(stage),
				"panic":         fmt.Sprint(rec),
			})
			out, err = "", b.stageError(stage, fmt.Errorf("%v", rec))
		}
	}()

	module, err := in.Import(b.rt.module)
	if err != nil {
		return "", b.stageError(stage, err)
	}

	stage = StageLookup
	factory, err := in.Lookup(module, b.capability)
	if err != nil {
		return "", b.stageError(stage, err)
	}

	stage = StageInstantiate
	instance, err := in.Instantiate(factory)
	if err != nil {
		return "", b.stageError(stage, err)
	}

	stage = StageInvoke
	paramsJSON, err := CanonicalParams(params)
	if err != nil {
		return "", b.stageError(stage, err)
	}

	result, err := in.Invoke(instance, b.method, command, paramsJSON)
	if err != nil {
		if scriptErr, ok := err.(*ScriptError); ok && scriptErr.Traceback != "" {
			observability.Error("bridge_engine_traceback", map[string]any{
				"invocation_id": invocationID,
				"command":       command,
				"traceback":     scriptErr.Traceback,
			})
		}
		return "", b.stageError(stage, err)
	}

	stage = StageSerialize
	encoded, err := in.Encode(result)
	if err != nil {
		return "", b.stageError(stage, err)
	}
	return string(encoded), nil
}

func (b *Bridge) stageError(stage Stage, cause error) *Error {
	switch stage {
	case StageImport:
		return newStageError(stage, b.rt.module, cause)
	case StageLookup:
		return newStageError(stage, b.capability, cause)
	default:
		return newStageError(stage, cause)
	}
}

// CanonicalParams renders params as compact JSON text. Absent params become {}.
func CanonicalParams(params any) (string, error) {
	var raw []byte
	switch v := params.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode params: %w", err)
		}
		raw = encoded
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}", nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return buf.String(), nil
}
