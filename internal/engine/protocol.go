package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage names the bridge pipeline step a command failed in.
type Stage string

const (
	StageImport      Stage = "import"
	StageLookup      Stage = "lookup"
	StageInstantiate Stage = "instantiate"
	StageInvoke      Stage = "invoke"
	StageSerialize   Stage = "serialize"
)

// Error is the only error shape a bridge call returns for a failed command.
type Error struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// MarshalJSON keeps the wire shape stable when the error is handed to a frontend.
func (e *Error) MarshalJSON() ([]byte, error) {
	type detail Error
	return json.Marshal((*detail)(e))
}

// StageOf reports the pipeline stage carried by err.
func StageOf(err error) (Stage, bool) {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Stage, true
	}
	return "", false
}

var stageMessages = map[Stage]string{
	StageImport:      "failed to import executor module %s: %s",
	StageLookup:      "failed to get %s capability: %s",
	StageInstantiate: "failed to create executor: %s",
	StageInvoke:      "engine execution error: %s",
	StageSerialize:   "JSON conversion error: %s",
}

func newStageError(stage Stage, args ...any) *Error {
	return &Error{Stage: stage, Message: fmt.Sprintf(stageMessages[stage], args...)}
}

// StartupError means the engine could not be brought up; the host cannot continue.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("engine startup failed: %v", e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// ScriptError is raised by an interpreter when engine code fails. Traceback
// stays on the host side and is only logged.
type ScriptError struct {
	Message   string
	Traceback string
}

func (e *ScriptError) Error() string {
	return e.Message
}
