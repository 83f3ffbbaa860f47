package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLogWritesEventAndFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", Output: &buf})
	t.Cleanup(func() { Configure(Options{Output: os.Stderr}) })

	Info("bridge_command_ok", map[string]any{"command": "get_ai_settings", "duration_ms": 3})

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "bridge_command_ok", lines[0]["event"])
	assert.Equal(t, "get_ai_settings", lines[0]["command"])
	assert.Contains(t, lines[0], "time")
}

func TestLogLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "warn", Output: &buf})
	t.Cleanup(func() { Configure(Options{Output: os.Stderr}) })

	Debug("noise", nil)
	Info("noise", nil)
	Warn("kept", nil)

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["event"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestLogAlsoAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "host.log")
	var buf bytes.Buffer
	Configure(Options{Output: &buf, File: path})
	t.Cleanup(func() { Configure(Options{Output: os.Stderr}) })

	Error("engine_failed", map[string]any{"reason": "boom"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := decodeLines(t, string(raw))
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["reason"])
}

func TestFatalExitsWithStatusOne(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Output: &buf})
	code := -1
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() {
		exitFunc = os.Exit
		Configure(Options{Output: os.Stderr})
	})

	Fatal("engine_startup_failed", map[string]any{"reason": "no vm"})

	assert.Equal(t, 1, code)
	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "fatal", lines[0]["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}
