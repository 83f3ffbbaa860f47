package hostlib

import (
	"errors"
	"fmt"
)

var (
	errNoStore = errors.New("host store is not configured")
	errNoLLM   = errors.New("llm router is not configured")
)

func errNotAllowed(name string) error {
	return fmt.Errorf("command not allowed: %s", name)
}

func errIsDir(path string) error {
	return fmt.Errorf("%s is a directory", path)
}

func errTooLarge(path string, size int64) error {
	return fmt.Errorf("%s is too large (%d bytes)", path, size)
}
