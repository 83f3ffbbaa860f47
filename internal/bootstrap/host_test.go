package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragshell/backend/internal/commands"
	"ragshell/backend/internal/config"
	"ragshell/backend/internal/llm"
	"ragshell/backend/internal/task"
)

type cannedLLM struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply string
}

func (c *cannedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return c.reply, nil
}

func newHost(t *testing.T, mutate func(*config.Config)) (*Host, *cannedLLM) {
	t.Helper()
	embedded, err := filepath.Abs(filepath.Join("..", "..", "embedded"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.EmbeddedDir = embedded
	cfg.DataDir = t.TempDir()
	cfg.Exec.Allow = nil
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	fake := &cannedLLM{reply: "The rover collects rock samples."}
	h.LLM.Register("local", fake)
	h.LLM.Register("ollama", fake)
	require.NoError(t, h.Start())
	return h, fake
}

func dispatchJSON(t *testing.T, h *Host, op string, args map[string]any) map[string]any {
	t.Helper()
	out, err := h.Commands.Dispatch(op, args)
	require.NoError(t, err, op)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), op)
	return decoded
}

func writeDoc(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEveryOperationReturnsStableJSON(t *testing.T) {
	h, _ := newHost(t, nil)
	doc := writeDoc(t, "mars_notes.txt", "The Mars rover collects rock samples near the crater.")

	args := map[string]any{
		"file_path":  doc,
		"doc_id":     "missing",
		"question":   "What does the rover collect?",
		"settings":   map[string]any{"top_k": 3},
		"model_name": "llama3",
		"limit":      10,
	}
	for _, op := range commands.Operations() {
		out, err := h.Commands.Dispatch(op.Name, args)
		require.NoError(t, err, op.Name)

		var decoded any
		require.NoError(t, json.Unmarshal([]byte(out), &decoded), op.Name)
		again, err := json.Marshal(decoded)
		require.NoError(t, err)
		assert.Equal(t, out, string(again), op.Name)
	}
}

func TestDocumentQuestionLifecycle(t *testing.T) {
	h, fake := newHost(t, nil)
	doc := writeDoc(t, "mars_notes.txt", "The Mars rover collects rock samples near the crater.")

	uploaded := dispatchJSON(t, h, "upload_document", map[string]any{"file_path": doc})
	assert.Equal(t, true, uploaded["success"])
	assert.EqualValues(t, 1, uploaded["chunks_count"])
	docID, _ := uploaded["doc_id"].(string)
	require.NotEmpty(t, docID)

	listed := dispatchJSON(t, h, "get_documents", nil)
	docs := listed["documents"].([]any)
	require.Len(t, docs, 1)
	entry := docs[0].(map[string]any)
	assert.Equal(t, "mars_notes.txt", entry["doc_name"])
	assert.Equal(t, doc, entry["doc_path"])

	stats := dispatchJSON(t, h, "get_vector_stats", nil)
	assert.EqualValues(t, 1, stats["total_documents"])
	assert.EqualValues(t, 1, stats["total_chunks"])
	assert.Equal(t, h.Config.DataDir, stats["storage_path"])

	answered := dispatchJSON(t, h, "ask_question", map[string]any{"question": "What does the rover collect?"})
	assert.Equal(t, "The rover collects rock samples.", answered["answer"])
	sources := answered["sources"].([]any)
	require.NotEmpty(t, sources)
	assert.Equal(t, "mars_notes.txt", sources[0].(map[string]any)["document"])
	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "llama3", fake.reqs[0].Model)
	assert.Contains(t, fake.reqs[0].Prompt, "rock samples")

	history := dispatchJSON(t, h, "get_chat_history", nil)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "What does the rover collect?", history[0].(map[string]any)["question"])

	assert.Equal(t, true, dispatchJSON(t, h, "clear_chat_history", nil)["success"])
	assert.Empty(t, dispatchJSON(t, h, "get_chat_history", nil)["history"])

	assert.Equal(t, true, dispatchJSON(t, h, "delete_document", map[string]any{"doc_id": docID})["success"])
	assert.Empty(t, dispatchJSON(t, h, "get_documents", nil)["documents"])
}

func TestSearchFilterDirective(t *testing.T) {
	h, fake := newHost(t, nil)
	a := writeDoc(t, "alpha.txt", "Rovers drive on the surface of Mars.")
	b := writeDoc(t, "beta.txt", "Rovers were tested in the desert before launch.")
	dispatchJSON(t, h, "upload_document", map[string]any{"file_path": a})
	dispatchJSON(t, h, "upload_document", map[string]any{"file_path": b})

	answered := dispatchJSON(t, h, "ask_question", map[string]any{"question": "[Search only in beta] where were rovers tested?"})
	for _, src := range answered["sources"].([]any) {
		assert.Equal(t, "beta.txt", src.(map[string]any)["document"])
	}
	require.Len(t, fake.reqs, 1)
	assert.NotContains(t, fake.reqs[0].Prompt, "alpha.txt")
}

func TestSettingsMergeDefaults(t *testing.T) {
	h, fake := newHost(t, nil)

	defaults := dispatchJSON(t, h, "get_ai_settings", nil)
	assert.Equal(t, "local", defaults["llm_provider"])
	assert.EqualValues(t, 500, defaults["chunk_size"])
	assert.Equal(t, "claude-3-sonnet-20240229", defaults["claude_model"])

	saved := dispatchJSON(t, h, "save_ai_settings", map[string]any{"settings": map[string]any{"llm_provider": "openai", "top_k": 2}})
	assert.Equal(t, true, saved["success"])

	merged := dispatchJSON(t, h, "get_ai_settings", nil)
	assert.Equal(t, "openai", merged["llm_provider"])
	assert.EqualValues(t, 2, merged["top_k"])
	assert.Equal(t, "llama3", merged["ollama_model"])

	doc := writeDoc(t, "notes.txt", "Rock samples are stored in sealed tubes.")
	dispatchJSON(t, h, "upload_document", map[string]any{"file_path": doc})
	answered := dispatchJSON(t, h, "ask_question", map[string]any{"question": "where are rock samples stored?"})
	assert.Equal(t, "OpenAI API key not configured. Please add it in Settings.", answered["answer"])
	assert.Empty(t, fake.reqs)
}

func TestEngineReportsUnsupportedAndUnknown(t *testing.T) {
	h, _ := newHost(t, nil)

	uploaded := dispatchJSON(t, h, "upload_document", map[string]any{"file_path": "/tmp/a.pdf"})
	assert.Equal(t, "Unsupported file type: .pdf", uploaded["error"])

	out, err := h.Bridge.Execute("warp_drive", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Unknown command: warp_drive"}`, out)

	answered := dispatchJSON(t, h, "ask_question", map[string]any{"question": "anything?"})
	assert.Contains(t, answered["answer"], "No documents have been uploaded yet")
	assert.Empty(t, answered["sources"])
}

func TestOllamaCommandsWithoutBinaryAccess(t *testing.T) {
	h, _ := newHost(t, nil)

	assert.Equal(t, false, dispatchJSON(t, h, "check_ollama_installed", nil)["installed"])
	assert.Empty(t, dispatchJSON(t, h, "get_ollama_models", nil)["models"])
	installed := dispatchJSON(t, h, "install_ollama_model", map[string]any{"model_name": "llama3"})
	assert.Equal(t, "command not allowed: ollama", installed["error"])
}

func TestBackgroundUploadThroughTaskQueue(t *testing.T) {
	h, _ := newHost(t, nil)
	doc := writeDoc(t, "queued.txt", "Queued uploads still pass through the engine token.")

	id, err := h.Tasks.Submit("upload_document", map[string]any{"file_path": doc})
	require.NoError(t, err)

	var got *task.Task
	require.Eventually(t, func() bool {
		snapshot, ok := h.Tasks.GetTaskStatus(id)
		if ok && (snapshot.Status == task.StatusSucceeded || snapshot.Status == task.StatusFailed) {
			got = snapshot
			return true
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	assert.Contains(t, string(got.Result), `"success":true`)
}

func TestReloadOnlyInDevMode(t *testing.T) {
	h, _ := newHost(t, nil)
	_, err := h.Commands.Dispatch(commands.ReloadOperation, nil)
	assert.ErrorIs(t, err, commands.ErrUnknownOperation)

	dev, _ := newHost(t, func(c *config.Config) { c.DevReload = true })
	before := dev.Runtime.Invalidations()
	out, err := dev.Commands.Dispatch(commands.ReloadOperation, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reloaded":true}`, out)
	assert.Equal(t, before+1, dev.Runtime.Invalidations())
}
