package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ragshell/backend/internal/observability"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingParam     = errors.New("missing required parameter")
	ErrInvalidParam     = errors.New("invalid parameter")
	ErrNoExecutor       = errors.New("command bridge is not configured")
)

const ReloadOperation = "reload_engine"

// Executor forwards one command into the engine. *engine.Bridge satisfies it.
type Executor interface {
	Execute(command string, params any) (string, error)
}

type Reloader interface {
	Reload() error
}

type Option func(*Dispatcher)

// WithReloader exposes reload_engine. Only wired in dev builds.
func WithReloader(r Reloader) Option {
	return func(d *Dispatcher) {
		d.reloader = r
	}
}

type Dispatcher struct {
	exec     Executor
	reloader Reloader
}

func NewDispatcher(exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{exec: exec}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates args against the operation's contract and forwards it.
// Rejected calls never reach the engine.
func (d *Dispatcher) Dispatch(op string, args map[string]any) (string, error) {
	op = strings.TrimSpace(op)
	if op == ReloadOperation && d.reloader != nil {
		if err := d.reloader.Reload(); err != nil {
			return "", err
		}
		return `{"reloaded":true}`, nil
	}

	entry, ok := Lookup(op)
	if !ok {
		observability.Warn("command_rejected", map[string]any{"operation": op, "reason": "unknown"})
		return "", fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	if entry.Local != nil {
		return entry.Local()
	}

	params, err := BuildParams(entry, args)
	if err != nil {
		observability.Warn("command_rejected", map[string]any{"operation": op, "reason": err.Error()})
		return "", err
	}
	if d.exec == nil {
		return "", ErrNoExecutor
	}
	return d.exec.Execute(entry.Command, params)
}

// BuildParams produces the params object forwarded with the operation's
// command. Arguments not named by the contract are dropped.
func BuildParams(entry Operation, args map[string]any) (map[string]any, error) {
	params := make(map[string]any, len(entry.Params))
	for _, p := range entry.Params {
		raw, present := args[p.Name]
		if !present || raw == nil {
			if p.Default != nil {
				params[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingParam, entry.Name, p.Name)
			}
			continue
		}
		v, err := coerce(p.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidParam, entry.Name, p.Name, err)
		}
		params[p.Name] = v
	}
	return params, nil
}

func coerce(kind Kind, raw any) (any, error) {
	switch kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return s, nil
	case KindInt:
		return toInt(raw)
	case KindObject:
		return toObject(raw)
	default:
		return raw, nil
	}
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int64ToInt(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("want integer, got %v", v)
		}
		// float64(math.MaxInt) rounds up to 2^63, which is already out of range.
		if v < float64(math.MinInt) || v >= float64(math.MaxInt) {
			return 0, fmt.Errorf("integer %v out of range", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int64ToInt(n)
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("want integer, got %T", raw)
	}
}

func int64ToInt(v int64) (int, error) {
	if int64(int(v)) != v {
		return 0, fmt.Errorf("integer %d out of range", v)
	}
	return int(v), nil
}

func toObject(raw any) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case json.RawMessage:
		var probe map[string]any
		if err := json.Unmarshal(v, &probe); err != nil {
			return nil, fmt.Errorf("want object: %v", err)
		}
		return v, nil
	case string:
		var probe map[string]any
		if err := json.Unmarshal([]byte(v), &probe); err != nil {
			return nil, fmt.Errorf("want object: %v", err)
		}
		return json.RawMessage(v), nil
	default:
		return nil, fmt.Errorf("want object, got %T", raw)
	}
}

func (d *Dispatcher) UploadDocument(filePath string) (string, error) {
	return d.Dispatch("upload_document", map[string]any{"file_path": filePath})
}

func (d *Dispatcher) GetDocuments() (string, error) {
	return d.Dispatch("get_documents", nil)
}

func (d *Dispatcher) DeleteDocument(docID string) (string, error) {
	return d.Dispatch("delete_document", map[string]any{"doc_id": docID})
}

func (d *Dispatcher) GetDocumentStats() (string, error) {
	return d.Dispatch("get_document_stats", nil)
}

func (d *Dispatcher) AskQuestion(question string) (string, error) {
	return d.Dispatch("ask_question", map[string]any{"question": question})
}

// GetChatHistory forwards limit 50 when limit is nil.
func (d *Dispatcher) GetChatHistory(limit *int) (string, error) {
	args := map[string]any{}
	if limit != nil {
		args["limit"] = *limit
	}
	return d.Dispatch("get_chat_history", args)
}

func (d *Dispatcher) ClearChatHistory() (string, error) {
	return d.Dispatch("clear_chat_history", nil)
}

func (d *Dispatcher) GetAISettings() (string, error) {
	return d.Dispatch("get_ai_settings", nil)
}

func (d *Dispatcher) SaveAISettings(settings map[string]any) (string, error) {
	return d.Dispatch("save_ai_settings", map[string]any{"settings": settings})
}

func (d *Dispatcher) CheckOllamaInstalled() (string, error) {
	return d.Dispatch("check_ollama_installed", nil)
}

func (d *Dispatcher) GetOllamaModels() (string, error) {
	return d.Dispatch("get_ollama_models", nil)
}

func (d *Dispatcher) InstallOllamaModel(modelName string) (string, error) {
	return d.Dispatch("install_ollama_model", map[string]any{"model_name": modelName})
}

func (d *Dispatcher) GetVectorStats() (string, error) {
	return d.Dispatch("get_vector_stats", nil)
}

func (d *Dispatcher) ResetVectorStore() (string, error) {
	return d.Dispatch("reset_vector_store", nil)
}
