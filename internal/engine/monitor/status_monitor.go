// internal/engine/monitor/status_monitor.go
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/errors"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/engine/revenue"
	"marketplace-engine/internal/engine/store"
	"marketplace-engine/internal/models"
)

const StatusMonitorName = "status_transitions"

// StatusMonitor drives deadline transitions. Each cycle scans for due
// candidates, decides per candidate with the pure rule, and applies each
// decision as its own transactional unit. One failed candidate never aborts
// the cycle.
type StatusMonitor struct {
	store  *store.Store
	ledger *revenue.Ledger
	sink   *audit.Sink
	clock  lifecycle.Clock
	logger logger.Logger
	cfg    config.MonitoringConfig
}

func NewStatusMonitor(st *store.Store, ledger *revenue.Ledger, sink *audit.Sink, clock lifecycle.Clock, cfg config.MonitoringConfig, log logger.Logger) *StatusMonitor {
	return &StatusMonitor{
		store:  st,
		ledger: ledger,
		sink:   sink,
		clock:  clock,
		logger: log.WithFields(map[string]interface{}{"component": "status-monitor"}),
		cfg:    cfg,
	}
}

func (m *StatusMonitor) Name() string { return StatusMonitorName }

func (m *StatusMonitor) RunCycle(ctx context.Context) error {
	now := m.clock.Now()

	snaps, err := m.store.ListDueSnapshots(ctx, now, m.cfg.ScanLimit)
	if err != nil {
		return err
	}

	applied, skipped, failed := 0, 0, 0
	for _, snap := range snaps {
		tr, ok := lifecycle.Decide(snap, now, m.cfg.SelectionWindow())
		if !ok {
			continue
		}

		var inTx func(ctx context.Context, tx *sql.Tx) error
		if tr.PurchaseRelated {
			appID := snap.ApplicationID
			inTx = func(ctx context.Context, tx *sql.Tx) error {
				_, err := m.ledger.CreateEntriesForPurchases(ctx, tx, appID)
				return err
			}
		}

		err := m.store.ApplyTransition(ctx, snap.ApplicationID, tr, models.ActorMonitor, inTx)
		switch {
		case err == nil:
			applied++
		case errors.IsConcurrencyConflict(err):
			// The row moved under us. Drop it; the next cycle re-reads.
			skipped++
			m.logger.Debug("transition skipped on conflict", map[string]interface{}{
				"applicationId": snap.ApplicationID,
			})
		default:
			failed++
			m.logger.Error("transition failed", map[string]interface{}{
				"applicationId": snap.ApplicationID,
				"error":         err.Error(),
			})
		}
	}

	urgent, err := m.raiseUrgencyAlerts(ctx, now)
	if err != nil {
		m.logger.Error("urgency scan failed", map[string]interface{}{"error": err.Error()})
	}

	m.logger.Info("status cycle complete", map[string]interface{}{
		"scanned": len(snaps),
		"applied": applied,
		"skipped": skipped,
		"failed":  failed,
		"urgent":  urgent,
	})
	return nil
}

// raiseUrgencyAlerts warns about live auctions expiring inside the horizon
// with no offers. The sink's cooldown keeps one application from alerting
// every cycle.
func (m *StatusMonitor) raiseUrgencyAlerts(ctx context.Context, now time.Time) (int, error) {
	snaps, err := m.store.ListUrgentSnapshots(ctx, now, m.cfg.UrgencyHorizon(), m.cfg.ScanLimit)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, snap := range snaps {
		remaining := snap.AuctionEndTime.Sub(now).Round(time.Minute)
		ok, err := m.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertDeadlineApproaching,
			Severity:      models.SeverityWarning,
			Title:         "Auction deadline approaching without offers",
			Message:       fmt.Sprintf("application %s expires in %s with no offers", snap.ApplicationID, remaining),
			RelatedEntity: snap.ApplicationID,
		})
		if err != nil {
			m.logger.Warn("urgency alert failed", map[string]interface{}{
				"applicationId": snap.ApplicationID,
				"error":         err.Error(),
			})
			continue
		}
		if ok {
			raised++
		}
	}
	return raised, nil
}
