package engine

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newFakeBridge(fake *fakeInterpreter) *Bridge {
	return NewBridge(NewRuntime(fake, RuntimeConfig{}), BridgeConfig{})
}

func TestBridgeExecuteForwardsCommandAndParams(t *testing.T) {
	fake := &fakeInterpreter{}
	b := newFakeBridge(fake)

	out, err := b.Execute("process_document", map[string]any{"file_path": "/tmp/a.pdf"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"process_document","params":{"file_path":"/tmp/a.pdf"}}`, out)
	assert.Equal(t, []string{"process_document"}, fake.commands)
	assert.Equal(t, []string{`{"file_path":"/tmp/a.pdf"}`}, fake.params)
}

func TestBridgeExecuteDefaultsParamsToEmptyObject(t *testing.T) {
	fake := &fakeInterpreter{}
	b := newFakeBridge(fake)

	_, err := b.Execute("get_all_documents", nil)
	require.NoError(t, err)
	_, err = b.Execute("get_vector_stats", json.RawMessage("null"))
	require.NoError(t, err)
	assert.Equal(t, []string{"{}", "{}"}, fake.params)
}

func TestBridgeInstantiatesFreshExecutorPerCall(t *testing.T) {
	fake := &fakeInterpreter{}
	b := newFakeBridge(fake)
	for i := 0; i < 3; i++ {
		_, err := b.Execute("get_ai_settings", nil)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&fake.instances))
}

func TestBridgeClassifiesFailuresByStage(t *testing.T) {
	cases := []struct {
		name  string
		fake  *fakeInterpreter
		stage Stage
		msg   string
	}{
		{"import", &fakeInterpreter{importErr: errors.New("module not found")}, StageImport, "failed to import executor module agent_runtime.executor: module not found"},
		{"lookup", &fakeInterpreter{lookupErr: errors.New("no attribute")}, StageLookup, "failed to get Executor capability: no attribute"},
		{"instantiate", &fakeInterpreter{instErr: errors.New("ctor failed")}, StageInstantiate, "failed to create executor: ctor failed"},
		{"invoke", &fakeInterpreter{invokeErr: &ScriptError{Message: "boom", Traceback: "stack"}}, StageInvoke, "engine execution error: boom"},
		{"serialize", &fakeInterpreter{result: make(chan int)}, StageSerialize, "JSON conversion error: cannot encode channel"},
		{"panic", &fakeInterpreter{panicOn: StageImport}, StageImport, "failed to import executor module agent_runtime.executor: import exploded"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := newFakeBridge(tc.fake).Execute("answer_question", map[string]any{"question": "q"})
			require.Error(t, err)
			assert.Empty(t, out)

			stage, ok := StageOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.stage, stage)
			assert.Equal(t, tc.msg, err.Error())
			assert.NotContains(t, err.Error(), "stack")
		})
	}
}

func TestBridgeErrorMarshalsStageAndMessage(t *testing.T) {
	_, err := newFakeBridge(&fakeInterpreter{lookupErr: errors.New("missing")}).Execute("x", nil)
	raw, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"stage":"lookup","message":"failed to get Executor capability: missing"}`, string(raw))
}

func TestBridgeRejectsUnencodableParamsAtInvoke(t *testing.T) {
	fake := &fakeInterpreter{}
	_, err := newFakeBridge(fake).Execute("save_ai_settings", map[string]any{"settings": func() {}})
	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageInvoke, stage)
	assert.Empty(t, fake.commands)
}

func TestBridgeConcurrentExecuteNeverOverlaps(t *testing.T) {
	fake := &fakeInterpreter{invokeDelay: 5 * time.Millisecond}
	b := newFakeBridge(fake)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := b.Execute("get_document_stats", nil)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.maxInFlight))
	assert.Len(t, fake.commands, 16)
}

func TestBridgeStartupFailureSurfaces(t *testing.T) {
	_, err := newFakeBridge(&fakeInterpreter{startErr: errors.New("no vm")}).Execute("x", nil)
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	_, ok := StageOf(err)
	assert.False(t, ok)
}

func TestBridgeWithoutRuntimeOrAfterClose(t *testing.T) {
	var startupErr *StartupError
	_, err := NewBridge(nil, BridgeConfig{}).Execute("x", nil)
	require.ErrorAs(t, err, &startupErr)

	rt := NewRuntime(&fakeInterpreter{}, RuntimeConfig{})
	b := NewBridge(rt, BridgeConfig{})
	_, err = b.Execute("get_vector_stats", nil)
	require.NoError(t, err)

	rt.Close()
	_, err = b.Execute("get_vector_stats", nil)
	require.ErrorIs(t, err, ErrClosed)
	_, ok := StageOf(err)
	assert.False(t, ok)
}

func TestCanonicalParams(t *testing.T) {
	cases := map[string]struct {
		in   any
		want string
	}{
		"nil":        {nil, "{}"},
		"null raw":   {json.RawMessage(" null "), "{}"},
		"empty raw":  {[]byte(""), "{}"},
		"raw object": {json.RawMessage(`{ "limit" : 10 }`), `{"limit":10}`},
		"map":        {map[string]any{"limit": 50}, `{"limit":50}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := CanonicalParams(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := CanonicalParams(json.RawMessage(`{broken`))
	require.Error(t, err)
}
