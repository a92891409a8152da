// internal/engine/store/store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	stderrors "errors"

	"marketplace-engine/internal/common/errors"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/metrics"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/models"

	"github.com/lib/pq"
)

// Store owns all application-row SQL: snapshot reads, candidate scans and the
// transactional transition unit shared by the monitor, the reconciler and
// operator actions.
type Store struct {
	db       *sql.DB
	sink     *audit.Sink
	clock    lifecycle.Clock
	logger   logger.Logger
	txBudget time.Duration
}

func New(db *sql.DB, sink *audit.Sink, clock lifecycle.Clock, txBudget time.Duration, log logger.Logger) *Store {
	return &Store{
		db:       db,
		sink:     sink,
		clock:    clock,
		logger:   log.WithFields(map[string]interface{}{"component": "application-store"}),
		txBudget: txBudget,
	}
}

func (s *Store) DB() *sql.DB { return s.db }

// GetApplication loads one application row with its status normalized to the
// canonical vocabulary.
func (s *Store) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var (
		app models.Application
		raw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, status, submitted_at, auction_end_time,
		       offer_selection_end_time, offers_count, purchases_count,
		       revenue_collected, updated_at
		FROM applications WHERE id = $1`, id,
	).Scan(
		&app.ID, &app.BusinessID, &raw, &app.SubmittedAt, &app.AuctionEndTime,
		&app.OfferSelectionEndTime, &app.OffersCount, &app.PurchasesCount,
		&app.RevenueCollected, &app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewApplicationNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get application", err)
	}

	status, ok := models.NormalizeStatus(raw)
	if !ok {
		return nil, errors.NewDataIntegrityError(id, fmt.Sprintf("unknown status %q", raw))
	}
	app.Status = status
	return &app, nil
}

// GetSnapshot loads the decision inputs for one application.
func (s *Store) GetSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	app, err := s.GetApplication(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	return app.Snapshot(), nil
}

// ListDueSnapshots scans for live-auction applications with something to
// evaluate: an elapsed deadline, offers, or purchases. The scan is bounded so
// a backlog degrades into extra cycles instead of one unbounded query.
func (s *Store) ListDueSnapshots(ctx context.Context, now time.Time, limit int) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, submitted_at, auction_end_time,
		       offer_selection_end_time, offers_count, purchases_count
		FROM applications
		WHERE status = ANY($1)
		  AND (auction_end_time <= $2 OR offers_count > 0 OR purchases_count > 0)
		ORDER BY auction_end_time ASC NULLS LAST
		LIMIT $3`,
		pq.Array(models.LegacyNames(models.StatusLiveAuction)), now, limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("due candidate scan", err)
	}
	return s.scanSnapshots(rows)
}

// ListLiveSnapshots returns live-auction applications for the reconciler's
// full validation pass.
func (s *Store) ListLiveSnapshots(ctx context.Context, limit int) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, submitted_at, auction_end_time,
		       offer_selection_end_time, offers_count, purchases_count
		FROM applications
		WHERE status = ANY($1)
		ORDER BY updated_at ASC
		LIMIT $2`,
		pq.Array(models.LegacyNames(models.StatusLiveAuction)), limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("live application scan", err)
	}
	return s.scanSnapshots(rows)
}

// ListUrgentSnapshots returns live-auction applications whose deadline falls
// inside the horizon and which have nothing to show for it yet.
func (s *Store) ListUrgentSnapshots(ctx context.Context, now time.Time, horizon time.Duration, limit int) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, submitted_at, auction_end_time,
		       offer_selection_end_time, offers_count, purchases_count
		FROM applications
		WHERE status = ANY($1)
		  AND auction_end_time > $2 AND auction_end_time <= $3
		  AND offers_count = 0 AND purchases_count = 0
		ORDER BY auction_end_time ASC
		LIMIT $4`,
		pq.Array(models.LegacyNames(models.StatusLiveAuction)), now, now.Add(horizon), limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("urgent deadline scan", err)
	}
	return s.scanSnapshots(rows)
}

func (s *Store) scanSnapshots(rows *sql.Rows) ([]models.Snapshot, error) {
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var (
			snap models.Snapshot
			raw  string
		)
		err := rows.Scan(
			&snap.ApplicationID, &raw, &snap.SubmittedAt, &snap.AuctionEndTime,
			&snap.OfferSelectionEndTime, &snap.OffersCount, &snap.PurchasesCount,
		)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("snapshot scan", err)
		}
		status, ok := models.NormalizeStatus(raw)
		if !ok {
			// One bad row must not abort the whole scan.
			s.logger.Warn("skipping row with unknown status", map[string]interface{}{
				"applicationId": snap.ApplicationID,
				"status":        raw,
			})
			continue
		}
		snap.Status = status
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("snapshot rows", err)
	}
	return snaps, nil
}

// ApplyTransition executes one transition as a single transactional unit:
// re-read the row under a lock, confirm the status still matches the decision
// input, write the new status and deadlines, append the audit row, and run the
// optional inTx hook on the same transaction. A status that moved since the
// scan rolls everything back with a concurrency conflict; the caller skips and
// the next cycle re-evaluates.
func (s *Store) ApplyTransition(ctx context.Context, applicationID string, tr lifecycle.Transition, actor string, inTx func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txBudget)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}

	var (
		raw          string
		auctionEnd   *time.Time
		selectionEnd *time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, auction_end_time, offer_selection_end_time
		FROM applications WHERE id = $1 FOR UPDATE`, applicationID,
	).Scan(&raw, &auctionEnd, &selectionEnd)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return errors.NewApplicationNotFoundError(applicationID)
	}
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "transition lock read", err)
	}

	current, ok := models.NormalizeStatus(raw)
	if !ok {
		tx.Rollback()
		return errors.NewDataIntegrityError(applicationID, fmt.Sprintf("unknown status %q", raw))
	}
	if current != tr.From {
		tx.Rollback()
		metrics.TransitionsSkipped.WithLabelValues("concurrency_conflict").Inc()
		return errors.NewConcurrencyConflictError(applicationID, string(tr.From), string(current))
	}

	if tr.ClearAuctionEnd {
		auctionEnd = nil
	}
	if tr.SetSelectionEnd != nil {
		selectionEnd = tr.SetSelectionEnd
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE applications
		SET status = $1, auction_end_time = $2, offer_selection_end_time = $3, updated_at = $4
		WHERE id = $5`,
		tr.To, auctionEnd, selectionEnd, s.clock.Now(), applicationID,
	)
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "transition update", err)
	}

	err = s.sink.RecordTransition(ctx, tx, models.StatusAuditLogEntry{
		ApplicationID: applicationID,
		FromStatus:    string(tr.From),
		ToStatus:      string(tr.To),
		Actor:         actor,
		Reason:        tr.Reason,
	})
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "transition audit", err)
	}

	if inTx != nil {
		if err := inTx(ctx, tx); err != nil {
			tx.Rollback()
			return s.wrapTxError(ctx, "transition hook", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrapTxError(ctx, "transition commit", err)
	}

	metrics.TransitionsApplied.WithLabelValues(string(tr.From), string(tr.To), actor).Inc()
	s.logger.Info("transition applied", map[string]interface{}{
		"applicationId": applicationID,
		"from":          tr.From,
		"to":            tr.To,
		"actor":         actor,
		"reason":        tr.Reason,
	})
	return nil
}

// Reactivate is the operator transition back to live_auction. It resets the
// auction deadline and zeroes the stale counters; the offer API's submitted
// offers from the previous round are marked lost so they cannot win twice.
func (s *Store) Reactivate(ctx context.Context, applicationID string, auctionWindow time.Duration, actor string) error {
	ctx, cancel := context.WithTimeout(ctx, s.txBudget)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}

	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM applications WHERE id = $1 FOR UPDATE`, applicationID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return errors.NewApplicationNotFoundError(applicationID)
	}
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "reactivation lock read", err)
	}

	current, ok := models.NormalizeStatus(raw)
	if !ok {
		tx.Rollback()
		return errors.NewDataIntegrityError(applicationID, fmt.Sprintf("unknown status %q", raw))
	}
	if !lifecycle.CanReactivate(current) {
		tx.Rollback()
		return errors.NewInvalidTransitionError(applicationID, string(current), string(models.StatusLiveAuction))
	}

	now := s.clock.Now()
	auctionEnd := now.Add(auctionWindow)
	_, err = tx.ExecContext(ctx, `
		UPDATE applications
		SET status = $1, auction_end_time = $2, offer_selection_end_time = NULL,
		    offers_count = 0, purchases_count = 0, updated_at = $3
		WHERE id = $4`,
		models.StatusLiveAuction, auctionEnd, now, applicationID,
	)
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "reactivation update", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = $2
		WHERE application_id = $3 AND status = $4`,
		models.OfferDealLost, now, applicationID, models.OfferSubmitted,
	)
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "stale offer update", err)
	}

	err = s.sink.RecordTransition(ctx, tx, models.StatusAuditLogEntry{
		ApplicationID: applicationID,
		FromStatus:    string(current),
		ToStatus:      string(models.StatusLiveAuction),
		Actor:         actor,
		Reason:        lifecycle.ReactivationReason(current),
	})
	if err != nil {
		tx.Rollback()
		return s.wrapTxError(ctx, "reactivation audit", err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrapTxError(ctx, "reactivation commit", err)
	}

	metrics.TransitionsApplied.WithLabelValues(string(current), string(models.StatusLiveAuction), actor).Inc()
	return nil
}

// StatusCounts aggregates per-status totals and the mean age in seconds,
// normalized to the canonical vocabulary.
func (s *Store) StatusCounts(ctx context.Context, now time.Time) (map[models.Status]models.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(AVG(EXTRACT(EPOCH FROM ($1 - submitted_at))), 0)
		FROM applications GROUP BY status`, now,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("status counts", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]models.StatusCount)
	for rows.Next() {
		var (
			raw    string
			count  int
			avgAge float64
		)
		if err := rows.Scan(&raw, &count, &avgAge); err != nil {
			return nil, errors.NewQueryExecutionFailedError("status count scan", err)
		}
		status, ok := models.NormalizeStatus(raw)
		if !ok {
			s.logger.Warn("unknown status in counts", map[string]interface{}{"status": raw})
			continue
		}
		c := counts[status]
		// Weighted merge: legacy names fold into one canonical bucket.
		total := c.Count + count
		if total > 0 {
			c.AvgAgeSeconds = (c.AvgAgeSeconds*float64(c.Count) + avgAge*float64(count)) / float64(total)
		}
		c.Count = total
		counts[status] = c
	}
	return counts, rows.Err()
}

func (s *Store) wrapTxError(ctx context.Context, operation string, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTransactionTimeoutError(operation)
	}
	return errors.NewQueryExecutionFailedError(operation, err)
}
