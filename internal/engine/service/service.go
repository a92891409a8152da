// internal/engine/service/service.go
package service

import (
	"context"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/engine/monitor"
	"marketplace-engine/internal/engine/reconciler"
	"marketplace-engine/internal/engine/revenue"
	"marketplace-engine/internal/engine/store"
	"marketplace-engine/internal/models"
)

// MonitoringStats is the per-status aggregate served to operators.
type MonitoringStats struct {
	Total    int                                  `json:"total"`
	ByStatus map[models.Status]models.StatusCount `json:"byStatus"`
}

// Service is the operator-facing facade over the engine: reads that
// self-correct, manual triggers, aggregates and the reactivation action.
type Service struct {
	store      *store.Store
	reconciler *reconciler.Reconciler
	manager    *monitor.Manager
	ledger     *revenue.Ledger
	clock      lifecycle.Clock
	logger     logger.Logger
	cfg        config.MonitoringConfig
}

func New(st *store.Store, rec *reconciler.Reconciler, mgr *monitor.Manager, ledger *revenue.Ledger, clock lifecycle.Clock, cfg config.MonitoringConfig, log logger.Logger) *Service {
	return &Service{
		store:      st,
		reconciler: rec,
		manager:    mgr,
		ledger:     ledger,
		clock:      clock,
		logger:     log.WithFields(map[string]interface{}{"component": "engine-service"}),
		cfg:        cfg,
	}
}

// GetStatus returns one application, reconciled first. The caller gets either
// a validated status or an explicit error, never a silently stale row; a
// concurrent writer is the one non-error case, since the re-read below picks
// up whatever that writer committed.
func (s *Service) GetStatus(ctx context.Context, applicationID string) (*models.Application, error) {
	if _, err := s.reconciler.ValidateOne(ctx, applicationID); err != nil {
		s.logger.Error("inline reconciliation failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         err.Error(),
		})
		return nil, err
	}
	return s.store.GetApplication(ctx, applicationID)
}

// ListUrgent returns live auctions expiring inside the urgency horizon with
// no offers yet.
func (s *Service) ListUrgent(ctx context.Context) ([]models.Snapshot, error) {
	return s.store.ListUrgentSnapshots(ctx, s.clock.Now(), s.cfg.UrgencyHorizon(), s.cfg.ScanLimit)
}

// TriggerManualCheck fires one monitor cycle on demand. Kind is a monitor
// name or "all".
func (s *Service) TriggerManualCheck(ctx context.Context, kind string) error {
	s.logger.Info("manual check triggered", map[string]interface{}{"kind": kind})
	return s.manager.RunCheck(ctx, kind)
}

// ReconcileAll runs one full validation pass on demand.
func (s *Service) ReconcileAll(ctx context.Context) (reconciler.Summary, error) {
	return s.reconciler.ValidateAll(ctx)
}

// GetMonitoringStats aggregates application counts and mean ages per status.
func (s *Service) GetMonitoringStats(ctx context.Context) (*MonitoringStats, error) {
	counts, err := s.store.StatusCounts(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	stats := &MonitoringStats{ByStatus: counts}
	for _, c := range counts {
		stats.Total += c.Count
	}
	return stats, nil
}

// GetRevenueStats aggregates the collection ledger.
func (s *Service) GetRevenueStats(ctx context.Context) (*models.RevenueStats, error) {
	return s.ledger.Stats(ctx)
}

// GetRevenueTrends returns the daily revenue series.
func (s *Service) GetRevenueTrends(ctx context.Context) ([]models.DailyRevenue, error) {
	return s.ledger.Trends(ctx)
}

// Reactivate is the operator action moving a closed application back into
// live auction with a fresh deadline.
func (s *Service) Reactivate(ctx context.Context, applicationID string) error {
	return s.store.Reactivate(ctx, applicationID, s.cfg.AuctionWindow(), models.ActorOperator)
}
