package engine

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestEnclosingModules(t *testing.T) {
	assert.Equal(t, []string{"agent_runtime.executor", "agent_runtime"}, EnclosingModules("agent_runtime.executor"))
	assert.Equal(t, []string{"a.b.c", "a.b", "a"}, EnclosingModules(" a.b.c "))
	assert.Equal(t, []string{"solo"}, EnclosingModules("solo"))
	assert.Nil(t, EnclosingModules(""))
}

func TestInitializeConcurrentCallersClearCacheOnce(t *testing.T) {
	fake := &fakeInterpreter{}
	rt := NewRuntime(fake, RuntimeConfig{SearchDir: "/opt/app/embedded"})

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			if err := rt.Initialize(); err != nil {
				return err
			}
			if !rt.Ready() {
				return errors.New("runtime not ready after Initialize returned")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.starts))
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.evictCalls))
	assert.Equal(t, 1, rt.Invalidations())
	assert.Equal(t, []string{"agent_runtime.executor", "agent_runtime"}, fake.evicted)
	assert.Equal(t, []string{"/opt/app/embedded"}, fake.paths)
}

func TestInitializeStartupFailureIsStickyAndNotRetried(t *testing.T) {
	fake := &fakeInterpreter{startErr: errors.New("vm unavailable")}
	rt := NewRuntime(fake, RuntimeConfig{})

	err := rt.Initialize()
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Contains(t, err.Error(), "vm unavailable")

	require.ErrorAs(t, rt.Initialize(), &startupErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.starts))
	assert.False(t, rt.Ready())
	assert.EqualValues(t, 0, atomic.LoadInt32(&fake.evictCalls))

	err = rt.Do(func(Interpreter) error { return nil })
	require.ErrorAs(t, err, &startupErr)
}

func TestRepeatedInitializeDoesNotReload(t *testing.T) {
	fake := &fakeInterpreter{}
	rt := NewRuntime(fake, RuntimeConfig{Module: "pkg.logic"})

	require.NoError(t, rt.Initialize())
	require.NoError(t, rt.Initialize())
	assert.Equal(t, 1, rt.Invalidations())

	require.NoError(t, rt.Reload())
	assert.Equal(t, 2, rt.Invalidations())
	assert.Equal(t, []string{"pkg.logic", "pkg", "pkg.logic", "pkg"}, fake.evicted)
}

func TestDoAfterCloseFails(t *testing.T) {
	rt := NewRuntime(&fakeInterpreter{}, RuntimeConfig{})
	require.NoError(t, rt.Initialize())
	rt.Close()
	rt.Close()

	err := rt.Do(func(Interpreter) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
	assert.False(t, rt.Ready())
}

func TestRuntimeWithoutInterpreter(t *testing.T) {
	var startupErr *StartupError
	require.ErrorAs(t, NewRuntime(nil, RuntimeConfig{}).Initialize(), &startupErr)
}
