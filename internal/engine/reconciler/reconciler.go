// internal/engine/reconciler/reconciler.go
package reconciler

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/errors"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/metrics"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/engine/revenue"
	"marketplace-engine/internal/engine/store"
	"marketplace-engine/internal/models"
)

// Outcome names what validating one application did.
type Outcome string

const (
	OutcomeAlreadyCorrect Outcome = "already_correct"
	OutcomeCorrected      Outcome = "corrected"
	OutcomeSkipped        Outcome = "skipped"
)

// Summary aggregates one full validation pass. One bad row never aborts the
// pass; it counts as errored and the scan moves on.
type Summary struct {
	Total          int `json:"total"`
	Corrected      int `json:"corrected"`
	AlreadyCorrect int `json:"alreadyCorrect"`
	Errored        int `json:"errored"`
}

// Reconciler recomputes the status implied by timestamps and counters and
// corrects persisted rows that drifted, using the same decision rule and the
// same transactional unit as the monitor. Corrections are attributed to the
// reconciler actor so the audit trail tells drift repair apart from normal
// operation.
type Reconciler struct {
	store  *store.Store
	ledger *revenue.Ledger
	sink   *audit.Sink
	clock  lifecycle.Clock
	logger logger.Logger
	cfg    config.MonitoringConfig
}

func New(st *store.Store, ledger *revenue.Ledger, sink *audit.Sink, clock lifecycle.Clock, cfg config.MonitoringConfig, log logger.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		ledger: ledger,
		sink:   sink,
		clock:  clock,
		logger: log.WithFields(map[string]interface{}{"component": "reconciler"}),
		cfg:    cfg,
	}
}

// ValidateOne checks a single application and corrects it if its persisted
// status lags what the decision rule implies. Idempotent: a second call on a
// corrected row reports already_correct and writes nothing.
func (r *Reconciler) ValidateOne(ctx context.Context, applicationID string) (Outcome, error) {
	snap, err := r.store.GetSnapshot(ctx, applicationID)
	if err != nil {
		return OutcomeSkipped, err
	}
	return r.validate(ctx, snap)
}

// ValidateAll runs one bounded validation pass over live-auction applications.
func (r *Reconciler) ValidateAll(ctx context.Context) (Summary, error) {
	snaps, err := r.store.ListLiveSnapshots(ctx, r.cfg.ScanLimit)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	summary.Total = len(snaps)
	for _, snap := range snaps {
		outcome, err := r.validate(ctx, snap)
		if err != nil {
			summary.Errored++
			r.logger.Error("validation failed", map[string]interface{}{
				"applicationId": snap.ApplicationID,
				"error":         err.Error(),
			})
			continue
		}
		switch outcome {
		case OutcomeCorrected:
			summary.Corrected++
		case OutcomeAlreadyCorrect:
			summary.AlreadyCorrect++
		}
	}
	return summary, nil
}

func (r *Reconciler) validate(ctx context.Context, snap models.Snapshot) (Outcome, error) {
	now := r.clock.Now()

	if detail, ok := lifecycle.CheckIntegrity(snap, now); !ok {
		// Contradictions are surfaced, not auto-repaired: picking a side
		// without an operator would hide the corruption.
		if _, err := r.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertDataIntegrity,
			Severity:      models.SeverityCritical,
			Title:         "Contradictory application snapshot",
			Message:       fmt.Sprintf("application %s: %s", snap.ApplicationID, detail),
			RelatedEntity: snap.ApplicationID,
		}); err != nil {
			r.logger.Warn("integrity alert failed", map[string]interface{}{
				"applicationId": snap.ApplicationID,
				"error":         err.Error(),
			})
		}
	}

	tr, ok := lifecycle.Decide(snap, now, r.cfg.SelectionWindow())
	if !ok {
		return OutcomeAlreadyCorrect, nil
	}

	var inTx func(ctx context.Context, tx *sql.Tx) error
	if tr.PurchaseRelated {
		inTx = func(ctx context.Context, tx *sql.Tx) error {
			_, err := r.ledger.CreateEntriesForPurchases(ctx, tx, snap.ApplicationID)
			return err
		}
	}

	err := r.store.ApplyTransition(ctx, snap.ApplicationID, tr, models.ActorReconciler, inTx)
	if errors.IsConcurrencyConflict(err) {
		// A concurrent writer got there first. Whatever it wrote is newer than
		// our snapshot, so the row is no longer ours to judge.
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeSkipped, err
	}

	metrics.ReconcilerCorrections.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	return OutcomeCorrected, nil
}
