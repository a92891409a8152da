// internal/engine/monitor/revenue_monitor.go
package monitor

import (
	"context"

	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/revenue"
)

const RevenueMonitorName = "revenue"

// RevenueMonitor drives the ledger maintenance passes: fail stale pending
// entries, verify collected amounts, retry failed entries, scan for anomalies.
// Passes are independent; one failing does not stop the rest.
type RevenueMonitor struct {
	ledger *revenue.Ledger
	logger logger.Logger
}

func NewRevenueMonitor(ledger *revenue.Ledger, log logger.Logger) *RevenueMonitor {
	return &RevenueMonitor{
		ledger: ledger,
		logger: log.WithFields(map[string]interface{}{"component": "revenue-monitor"}),
	}
}

func (m *RevenueMonitor) Name() string { return RevenueMonitorName }

func (m *RevenueMonitor) RunCycle(ctx context.Context) error {
	fields := map[string]interface{}{}

	timedOut, err := m.ledger.MarkTimedOut(ctx)
	if err != nil {
		m.logger.Error("timeout pass failed", map[string]interface{}{"error": err.Error()})
	}
	fields["timedOut"] = timedOut

	verified, err := m.ledger.VerifyCollected(ctx)
	if err != nil {
		m.logger.Error("verification pass failed", map[string]interface{}{"error": err.Error()})
	}
	fields["verified"] = verified

	retried, exhausted, err := m.ledger.RetryFailed(ctx)
	if err != nil {
		m.logger.Error("retry pass failed", map[string]interface{}{"error": err.Error()})
	}
	fields["retried"] = retried
	fields["exhausted"] = exhausted

	outliers, err := m.ledger.DetectAnomalies(ctx)
	if err != nil {
		m.logger.Error("anomaly pass failed", map[string]interface{}{"error": err.Error()})
	}
	fields["anomalies"] = len(outliers)

	m.logger.Info("revenue cycle complete", fields)
	return nil
}
