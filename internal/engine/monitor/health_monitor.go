// internal/engine/monitor/health_monitor.go
package monitor

import (
	"context"
	"fmt"

	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/models"
)

const HealthMonitorName = "health"

// Pinger is one named dependency the health monitor probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name   string
	pinger Pinger
}

// HealthMonitor probes infrastructure dependencies and raises an alert when
// one stops answering. The process keeps running; monitors already handle
// transient failures per cycle.
type HealthMonitor struct {
	deps   []dependency
	sink   *audit.Sink
	logger logger.Logger
}

func NewHealthMonitor(sink *audit.Sink, log logger.Logger) *HealthMonitor {
	return &HealthMonitor{
		sink:   sink,
		logger: log.WithFields(map[string]interface{}{"component": "health-monitor"}),
	}
}

func (m *HealthMonitor) AddDependency(name string, pinger Pinger) {
	m.deps = append(m.deps, dependency{name: name, pinger: pinger})
}

func (m *HealthMonitor) Name() string { return HealthMonitorName }

func (m *HealthMonitor) RunCycle(ctx context.Context) error {
	healthy := true
	for _, dep := range m.deps {
		if err := dep.pinger.Ping(ctx); err != nil {
			healthy = false
			m.logger.Error("dependency unhealthy", map[string]interface{}{
				"dependency": dep.name,
				"error":      err.Error(),
			})
			if _, alertErr := m.sink.RaiseAlert(ctx, models.SystemAlert{
				Type:          models.AlertHealthCheckFailed,
				Severity:      models.SeverityCritical,
				Title:         fmt.Sprintf("Health check failed: %s", dep.name),
				Message:       err.Error(),
				RelatedEntity: dep.name,
			}); alertErr != nil {
				m.logger.Warn("health alert failed", map[string]interface{}{
					"dependency": dep.name,
					"error":      alertErr.Error(),
				})
			}
		}
	}
	if !healthy {
		return fmt.Errorf("one or more dependencies unhealthy")
	}
	return nil
}

// Healthy runs the probes without alerting, for the liveness endpoint.
func (m *HealthMonitor) Healthy(ctx context.Context) bool {
	for _, dep := range m.deps {
		if err := dep.pinger.Ping(ctx); err != nil {
			return false
		}
	}
	return true
}
