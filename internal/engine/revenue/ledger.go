// internal/engine/revenue/ledger.go
package revenue

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/metrics"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/models"

	"github.com/google/uuid"
)

// Querier is satisfied by *sql.DB and *sql.Tx so entry creation can join the
// transition's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Ledger tracks, verifies and retries the per-purchase fee owed by banks.
// The fee is a fixed constant; verification never infers it from data.
type Ledger struct {
	db     *sql.DB
	sink   *audit.Sink
	clock  lifecycle.Clock
	logger logger.Logger
	cfg    config.RevenueConfig
}

func NewLedger(db *sql.DB, sink *audit.Sink, clock lifecycle.Clock, cfg config.RevenueConfig, log logger.Logger) *Ledger {
	return &Ledger{
		db:     db,
		sink:   sink,
		clock:  clock,
		logger: log.WithFields(map[string]interface{}{"component": "revenue-ledger"}),
		cfg:    cfg,
	}
}

// CreateEntriesForPurchases creates one pending entry per purchase of the
// application that does not have one yet. Runs on the caller's transactional
// handle so entry creation commits or rolls back with the status transition.
// Idempotent: a retried cycle finds no uncovered purchases and writes nothing.
func (l *Ledger) CreateEntriesForPurchases(ctx context.Context, q Querier, applicationID string) (int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.bank_id FROM application_purchases p
		WHERE p.application_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM revenue_collection_entries e
			WHERE e.application_id = p.application_id AND e.bank_id = p.bank_id
		  )`, applicationID)
	if err != nil {
		return 0, fmt.Errorf("uncovered purchase scan failed: %w", err)
	}

	var bankIDs []string
	for rows.Next() {
		var bankID string
		if err := rows.Scan(&bankID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("purchase row scan failed: %w", err)
		}
		bankIDs = append(bankIDs, bankID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("purchase rows failed: %w", err)
	}
	rows.Close()

	now := l.clock.Now()
	for _, bankID := range bankIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO revenue_collection_entries
				(id, application_id, bank_id, amount, status, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
			uuid.New().String(), applicationID, bankID, l.cfg.FeeCents, models.RevenuePending, now,
		)
		if err != nil {
			return 0, fmt.Errorf("ledger entry insert failed for bank %s: %w", bankID, err)
		}
		metrics.LedgerEntries.WithLabelValues("created").Inc()
	}

	return len(bankIDs), nil
}

// MarkTimedOut fails entries pending past the collection threshold with a
// "timeout" note. Pending age is measured from updated_at, the moment the
// entry entered or re-entered pending, so a retried entry gets a full fresh
// window. These are not retried silently; each raises an alert so the
// operator sees it.
func (l *Ledger) MarkTimedOut(ctx context.Context) (int, error) {
	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.PendingTimeout())

	rows, err := l.db.QueryContext(ctx, `
		UPDATE revenue_collection_entries
		SET status = $1, verification_notes = 'timeout', updated_at = $2
		WHERE status = $3 AND updated_at < $4
		RETURNING id, application_id, bank_id`,
		models.RevenueFailed, now, models.RevenuePending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("timeout sweep failed: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id, appID, bankID string
		if err := rows.Scan(&id, &appID, &bankID); err != nil {
			return count, fmt.Errorf("timeout row scan failed: %w", err)
		}
		count++
		metrics.LedgerEntries.WithLabelValues("timed_out").Inc()

		if _, err := l.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertCollectionTimeout,
			Severity:      models.SeverityWarning,
			Title:         "Revenue collection timed out",
			Message:       fmt.Sprintf("entry %s for application %s (bank %s) pending past threshold", id, appID, bankID),
			RelatedEntity: id,
		}); err != nil {
			l.logger.Warn("timeout alert failed", map[string]interface{}{"entryId": id, "error": err.Error()})
		}
	}
	return count, rows.Err()
}

// VerifyCollected checks collected entries against the expected fixed fee.
// A match moves the entry to verified and recognizes the amount on the
// application's running total, atomically. A mismatch keeps the entry in
// collected with a descriptive note and raises an alert; the amount itself is
// never mutated.
func (l *Ledger) VerifyCollected(ctx context.Context) (int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, application_id, amount FROM revenue_collection_entries
		WHERE status = $1 AND (verification_notes IS NULL OR verification_notes = '')`,
		models.RevenueCollected,
	)
	if err != nil {
		return 0, fmt.Errorf("collected scan failed: %w", err)
	}

	type collected struct {
		id     string
		appID  string
		amount int64
	}
	var entries []collected
	for rows.Next() {
		var c collected
		if err := rows.Scan(&c.id, &c.appID, &c.amount); err != nil {
			rows.Close()
			return 0, fmt.Errorf("collected row scan failed: %w", err)
		}
		entries = append(entries, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("collected rows failed: %w", err)
	}
	rows.Close()

	verified := 0
	for _, e := range entries {
		if e.amount == l.cfg.FeeCents {
			if err := l.verifyEntry(ctx, e.id, e.appID, e.amount); err != nil {
				l.logger.Error("verification update failed", map[string]interface{}{"entryId": e.id, "error": err.Error()})
				continue
			}
			verified++
			metrics.LedgerEntries.WithLabelValues("verified").Inc()
			continue
		}

		note := fmt.Sprintf("amount mismatch: collected %d cents, expected %d cents", e.amount, l.cfg.FeeCents)
		if _, err := l.db.ExecContext(ctx, `
			UPDATE revenue_collection_entries SET verification_notes = $1, updated_at = $2 WHERE id = $3`,
			note, l.clock.Now(), e.id,
		); err != nil {
			l.logger.Error("mismatch note update failed", map[string]interface{}{"entryId": e.id, "error": err.Error()})
			continue
		}
		metrics.LedgerEntries.WithLabelValues("mismatch").Inc()

		if _, err := l.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertVerificationMismatch,
			Severity:      models.SeverityCritical,
			Title:         "Revenue verification mismatch",
			Message:       fmt.Sprintf("entry %s for application %s: %s", e.id, e.appID, note),
			RelatedEntity: e.id,
		}); err != nil {
			l.logger.Warn("mismatch alert failed", map[string]interface{}{"entryId": e.id, "error": err.Error()})
		}
	}
	return verified, nil
}

// verifyEntry commits the entry's verified status and the application's
// running revenue total in one transaction.
func (l *Ledger) verifyEntry(ctx context.Context, entryID, applicationID string, amount int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}

	now := l.clock.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE revenue_collection_entries
		SET status = $1, verification_notes = 'amount matches expected fee', updated_at = $2
		WHERE id = $3`,
		models.RevenueVerified, now, entryID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("entry update failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE applications SET revenue_collected = revenue_collected + $1, updated_at = $2 WHERE id = $3`,
		amount, now, applicationID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("revenue total update failed: %w", err)
	}

	return tx.Commit()
}

// RetryFailed resets retryable failed entries back to pending, bounded by the
// retry count and the retry window. The timeout note is cleared on reset so a
// later successful collection is picked up by VerifyCollected. Entries past
// the bound stay failed permanently and surface as an alert.
func (l *Ledger) RetryFailed(ctx context.Context) (retried, exhausted int, err error) {
	now := l.clock.Now()
	windowStart := now.Add(-l.cfg.RetryWindow())

	res, err := l.db.ExecContext(ctx, `
		UPDATE revenue_collection_entries
		SET status = $1, retry_count = retry_count + 1, verification_notes = NULL, updated_at = $2
		WHERE status = $3 AND retry_count < $4 AND updated_at >= $5`,
		models.RevenuePending, now, models.RevenueFailed, l.cfg.MaxRetries, windowStart,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("retry sweep failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		retried = int(n)
		for i := 0; i < retried; i++ {
			metrics.LedgerEntries.WithLabelValues("retried").Inc()
		}
	}

	// Permanently failed entries: alert, relying on the sink's cooldown so the
	// same entry does not alert every cycle.
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, application_id, retry_count FROM revenue_collection_entries
		WHERE status = $1 AND retry_count >= $2`,
		models.RevenueFailed, l.cfg.MaxRetries,
	)
	if err != nil {
		return retried, 0, fmt.Errorf("exhausted scan failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, appID string
		var retries int
		if err := rows.Scan(&id, &appID, &retries); err != nil {
			return retried, exhausted, fmt.Errorf("exhausted row scan failed: %w", err)
		}
		exhausted++

		if _, err := l.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertRetryExhausted,
			Severity:      models.SeverityCritical,
			Title:         "Revenue collection retries exhausted",
			Message:       fmt.Sprintf("entry %s for application %s failed %d times", id, appID, retries),
			RelatedEntity: id,
		}); err != nil {
			l.logger.Warn("exhausted alert failed", map[string]interface{}{"entryId": id, "error": err.Error()})
		}
	}
	return retried, exhausted, rows.Err()
}

// DetectAnomalies flags days whose revenue or collection count sits more than
// two standard deviations from the trailing-window mean.
func (l *Ledger) DetectAnomalies(ctx context.Context) ([]Outlier, error) {
	series, err := l.dailySeries(ctx, l.cfg.AnomalyWindowDays)
	if err != nil {
		return nil, err
	}

	outliers := DetectOutliers(series)
	for _, o := range outliers {
		severity := models.SeverityWarning
		if o.Direction == DirectionLow {
			severity = models.SeverityCritical
		}
		if _, err := l.sink.RaiseAlert(ctx, models.SystemAlert{
			Type:          models.AlertRevenueAnomaly,
			Severity:      severity,
			Title:         fmt.Sprintf("Revenue anomaly: %s %s outlier", o.Metric, o.Direction),
			Message:       fmt.Sprintf("day %s: %s=%.0f, mean=%.2f, stddev=%.2f", o.Day.Format("2006-01-02"), o.Metric, o.Value, o.Mean, o.StdDev),
			RelatedEntity: fmt.Sprintf("revenue:%s:%s", o.Metric, o.Day.Format("2006-01-02")),
		}); err != nil {
			l.logger.Warn("anomaly alert failed", map[string]interface{}{"day": o.Day, "error": err.Error()})
		}
	}
	return outliers, nil
}

func (l *Ledger) dailySeries(ctx context.Context, windowDays int) ([]DayStat, error) {
	since := l.clock.Now().AddDate(0, 0, -windowDays)

	rows, err := l.db.QueryContext(ctx, `
		SELECT date_trunc('day', updated_at) AS day, COUNT(*), COALESCE(SUM(amount), 0)
		FROM revenue_collection_entries
		WHERE status IN ($1, $2) AND updated_at >= $3
		GROUP BY day ORDER BY day`,
		models.RevenueCollected, models.RevenueVerified, since,
	)
	if err != nil {
		return nil, fmt.Errorf("daily series query failed: %w", err)
	}
	defer rows.Close()

	var series []DayStat
	for rows.Next() {
		var s DayStat
		if err := rows.Scan(&s.Day, &s.Collections, &s.RevenueCents); err != nil {
			return nil, fmt.Errorf("daily series scan failed: %w", err)
		}
		series = append(series, s)
	}
	return series, rows.Err()
}

// Stats aggregates the ledger for the dashboard facade.
func (l *Ledger) Stats(ctx context.Context) (*models.RevenueStats, error) {
	var stats models.RevenueStats
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3),
		       COUNT(*) FILTER (WHERE status = $4),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status IN ($2, $4)), 0)
		FROM revenue_collection_entries`,
		models.RevenuePending, models.RevenueCollected, models.RevenueFailed, models.RevenueVerified,
	).Scan(
		&stats.TotalEntries,
		&stats.PendingEntries,
		&stats.CollectedEntries,
		&stats.FailedEntries,
		&stats.VerifiedEntries,
		&stats.TotalCents,
		&stats.CollectedCents,
	)
	if err != nil {
		return nil, fmt.Errorf("revenue stats query failed: %w", err)
	}
	return &stats, nil
}

// Trends returns the daily collections/revenue series over the anomaly window.
func (l *Ledger) Trends(ctx context.Context) ([]models.DailyRevenue, error) {
	series, err := l.dailySeries(ctx, l.cfg.AnomalyWindowDays)
	if err != nil {
		return nil, err
	}
	out := make([]models.DailyRevenue, 0, len(series))
	for _, s := range series {
		out = append(out, models.DailyRevenue{Day: s.Day, Collections: s.Collections, RevenueCents: s.RevenueCents})
	}
	return out, nil
}
