// File: facade/runtime.go
// Unified facade layer for the fiber scheduler runtime.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines Runtime, which aggregates a RuntimePool together with
// the control-plane primitives (ConfigStore, MetricsRegistry, DebugProbes)
// behind a single facade. It exposes methods to start/stop the pool,
// submit tasks, and retrieve the control surface for observability and
// hot-reload.

package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/fibersched/api"
	"github.com/momentics/fibersched/control"
	"github.com/momentics/fibersched/internal/concurrency"
)

// Config holds parameters immutable per run. NumWorkers, NUMANode and
// DebugAssertions configure the runtime pool in New; EnableMetrics and
// EnableDebug control the facade's metrics and probes. Values written
// later through the config store trigger hot-reload of observers but
// never change the running pool (see RuntimePool.Resize).
type Config struct {
	NumWorkers      int   // Number of pinned scheduler threads
	NUMANode        int   // >= 0 pins worker i to CPU i % NumCPU (the node number itself does not select CPUs); < 0 disables pinning
	EnableMetrics   bool  // Whether to enable metrics collection
	EnableDebug     bool  // Whether to enable debug probes
	DebugAssertions bool  // Whether invariant checks panic instead of no-op
	ShutdownTimeout int64 // Recorded in the config store, in nanoseconds; Shutdown does not apply it and waits for every worker
}

// DefaultConfig returns sane defaults for typical use.
func DefaultConfig() *Config {
	return &Config{
		NumWorkers:      4,
		NUMANode:        -1,
		EnableMetrics:   true,
		EnableDebug:     true,
		DebugAssertions: false,
		ShutdownTimeout: 10 * int64(time.Second),
	}
}

// Runtime is the main facade type. It implements api.GracefulShutdown and
// api.Executor so callers can treat it as a plain task submission surface
// without depending on the concurrency package directly.
type Runtime struct {
	pool    *concurrency.RuntimePool
	cfg     *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes

	config  *Config
	mu      sync.RWMutex
	started bool
}

var (
	_ api.GracefulShutdown = (*Runtime)(nil)
	_ api.Executor         = (*Runtime)(nil)
)

// New constructs a Runtime with the given configuration, starting its
// worker pool immediately (NewRuntimePool blocks until every worker thread
// is ready).
func New(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	concurrency.SetAssertionsEnabled(cfg.DebugAssertions)

	pool, err := concurrency.NewRuntimePool(cfg.NumWorkers, cfg.NUMANode)
	if err != nil {
		return nil, fmt.Errorf("runtime pool init failure: %w", err)
	}

	r := &Runtime{
		pool:    pool,
		cfg:     control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
		config:  cfg,
	}

	r.cfg.SetConfig(map[string]any{
		"num_workers":      cfg.NumWorkers,
		"numa_node":        cfg.NUMANode,
		"shutdown_timeout": cfg.ShutdownTimeout,
		"debug_assertions": cfg.DebugAssertions,
	})
	// Later config changes fire the hooks added via RegisterReloadHook.
	r.cfg.OnReload(control.TriggerHotReload)

	if cfg.EnableDebug {
		control.RegisterPlatformProbes(r.debug)
		r.debug.RegisterProbe("pool.stats", func() any { return r.pool.Stats() })
		r.debug.RegisterProbe("pool.num_workers", func() any { return r.pool.NumWorkers() })
	}
	if cfg.EnableMetrics {
		r.metrics.Set("pool.stats", r.pool.Stats())
	}

	return r, nil
}

// Start marks the facade as started and publishes initial metrics if
// configured. The worker pool is already running by the time New returns;
// Start exists so callers have a symmetric counterpart to Shutdown and a
// place to hang future startup hooks.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if r.config.EnableMetrics {
		r.metrics.Set("pool.num_workers", r.pool.NumWorkers())
	}
	r.started = true
	return nil
}

// Submit dispatches a task to the runtime pool for asynchronous execution
// as a fiber. Implements api.Executor.
func (r *Runtime) Submit(task func()) error {
	if r.config.EnableMetrics {
		r.metrics.Set("pool.last_submit", time.Now().UnixNano())
	}
	return r.pool.Submit(task)
}

// NumWorkers implements api.Executor.
func (r *Runtime) NumWorkers() int { return r.pool.NumWorkers() }

// Resize implements api.Executor; see RuntimePool.Resize for why this is a
// logged no-op rather than an elastic resize.
func (r *Runtime) Resize(newCount int) { r.pool.Resize(newCount) }

// Shutdown implements api.GracefulShutdown by draining and stopping the
// worker pool.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	err := r.pool.Shutdown()
	r.started = false
	return err
}

// GetConfigStore returns the dynamic configuration surface.
func (r *Runtime) GetConfigStore() *control.ConfigStore { return r.cfg }

// GetMetrics returns the metrics registry.
func (r *Runtime) GetMetrics() *control.MetricsRegistry { return r.metrics }

// GetDebug returns the debug probe registry.
func (r *Runtime) GetDebug() *control.DebugProbes { return r.debug }

// RegisterReloadHook registers a global hot-reload listener via the
// control package.
func (r *Runtime) RegisterReloadHook(fn func()) {
	control.RegisterReloadHook(fn)
}
