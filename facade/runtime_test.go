package facade_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/fibersched/facade"
)

func TestRuntimeFullLifecycle(t *testing.T) {
	r, err := facade.New(&facade.Config{
		NumWorkers:    2,
		NUMANode:      -1,
		EnableMetrics: true,
		EnableDebug:   true,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	var executed atomic.Bool
	require.NoError(t, r.Submit(func() { executed.Store(true) }))

	require.Eventually(t, executed.Load, time.Second, time.Millisecond,
		"submitted task did not run")

	called := false
	r.RegisterReloadHook(func() { called = true })
	r.GetConfigStore().SetConfig(map[string]any{"some": "data"})
	require.Eventually(t, func() bool { return called }, time.Second, time.Millisecond,
		"reload hook not triggered")

	snap := r.GetDebug().DumpState()
	assert.Contains(t, snap, "pool.num_workers")

	assert.NoError(t, r.Shutdown())
}
