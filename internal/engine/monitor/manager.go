// internal/engine/monitor/manager.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/metrics"
	"marketplace-engine/internal/common/observability"
)

// Monitor is one periodic check the manager schedules.
type Monitor interface {
	Name() string
	RunCycle(ctx context.Context) error
}

type scheduled struct {
	monitor  Monitor
	interval time.Duration
}

// Manager owns the monitor goroutines. Each monitor runs on its own ticker;
// Stop waits for in-flight cycles to finish before returning. RunCheck fires
// one cycle on demand, outside the schedule, for the manual-trigger facade.
type Manager struct {
	monitors []scheduled
	obs      *observability.Observability
	logger   logger.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewManager(obs *observability.Observability, log logger.Logger) *Manager {
	return &Manager{
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "monitor-manager"}),
	}
}

// Register adds a monitor to the schedule. Must be called before Start.
func (m *Manager) Register(mon Monitor, interval time.Duration) {
	m.monitors = append(m.monitors, scheduled{monitor: mon, interval: interval})
}

func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})

	for _, s := range m.monitors {
		m.wg.Add(1)
		go m.loop(ctx, s)
	}
	m.logger.Info("monitors started", map[string]interface{}{"count": len(m.monitors)})
}

func (m *Manager) loop(ctx context.Context, s scheduled) {
	defer m.wg.Done()

	// First cycle runs immediately so a restart does not wait a full interval
	// to catch up on overdue work.
	m.runOnce(ctx, s.monitor)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runOnce(ctx, s.monitor)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runOnce(ctx context.Context, mon Monitor) {
	start := time.Now()
	err := mon.RunCycle(ctx)
	elapsed := time.Since(start)

	metrics.CycleDuration.WithLabelValues(mon.Name()).Observe(elapsed.Seconds())
	if m.obs != nil {
		m.obs.RecordCycleDuration(ctx, mon.Name(), elapsed)
	}

	status := "ok"
	if err != nil {
		status = "error"
		metrics.CycleErrors.WithLabelValues(mon.Name()).Inc()
		m.logger.Error("cycle failed", map[string]interface{}{
			"monitor": mon.Name(),
			"error":   err.Error(),
		})
	}
	if m.obs != nil {
		m.obs.RecordCycle(ctx, mon.Name(), status)
	}
}

// Stop halts the schedule and blocks until in-flight cycles complete.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("monitors stopped", nil)
}

// RunCheck fires one cycle of the named monitor, or of every monitor for
// "all". Runs inline on the caller's goroutine.
func (m *Manager) RunCheck(ctx context.Context, kind string) error {
	if kind == "all" {
		for _, s := range m.monitors {
			m.runOnce(ctx, s.monitor)
		}
		return nil
	}
	for _, s := range m.monitors {
		if s.monitor.Name() == kind {
			m.runOnce(ctx, s.monitor)
			return nil
		}
	}
	return fmt.Errorf("unknown check kind %q", kind)
}
