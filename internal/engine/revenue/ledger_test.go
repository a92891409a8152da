// internal/engine/revenue/ledger_test.go
package revenue

import (
	"context"
	"testing"
	"time"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := lifecycle.FixedClock{Instant: ledgerNow}
	log := logger.NewTestLogger(t)
	sink := audit.NewSink(db, rdb, clock, "system_alerts", 6*time.Hour, log)

	cfg := config.RevenueConfig{
		FeeCents:           50000,
		PendingTimeoutMins: 60,
		MaxRetries:         3,
		RetryWindowHours:   24,
		AnomalyWindowDays:  30,
	}
	return NewLedger(db, sink, clock, cfg, log), mock
}

func expectAlert(mock sqlmock.Sqlmock, alertType string) {
	mock.ExpectExec(`INSERT INTO system_alerts`).
		WithArgs(sqlmock.AnyArg(), alertType, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), ledgerNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCreateEntriesForPurchases(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT p.bank_id FROM application_purchases`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"bank_id"}).AddRow("bank-a").AddRow("bank-b"))
	mock.ExpectExec(`INSERT INTO revenue_collection_entries`).
		WithArgs(sqlmock.AnyArg(), "app-001", "bank-a", int64(50000), models.RevenuePending, ledgerNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO revenue_collection_entries`).
		WithArgs(sqlmock.AnyArg(), "app-001", "bank-b", int64(50000), models.RevenuePending, ledgerNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ledger.CreateEntriesForPurchases(context.Background(), ledger.db, "app-001")

	assert.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEntriesForPurchases_AlreadyCovered(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// Every purchase already has an entry: the scan returns nothing and no
	// insert happens on the retried cycle.
	mock.ExpectQuery(`SELECT p.bank_id FROM application_purchases`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"bank_id"}))

	created, err := ledger.CreateEntriesForPurchases(context.Background(), ledger.db, "app-001")

	assert.NoError(t, err)
	assert.Zero(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTimedOut(t *testing.T) {
	ledger, mock := newTestLedger(t)

	cutoff := ledgerNow.Add(-time.Hour)
	mock.ExpectQuery(`UPDATE revenue_collection_entries`).
		WithArgs(models.RevenueFailed, ledgerNow, models.RevenuePending, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "bank_id"}).
			AddRow("entry-1", "app-001", "bank-a"))
	expectAlert(mock, models.AlertCollectionTimeout)

	count, err := ledger.MarkTimedOut(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTimedOut_RetriedEntryGetsFreshPendingWindow(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// The sweep keys on updated_at, the time the entry (re)entered pending.
	// An entry reset by a retry moments ago has a recent updated_at and must
	// not be swept, no matter how old its created_at is.
	cutoff := ledgerNow.Add(-time.Hour)
	mock.ExpectQuery(`UPDATE revenue_collection_entries SET status = \$1, verification_notes = 'timeout', updated_at = \$2 WHERE status = \$3 AND updated_at < \$4`).
		WithArgs(models.RevenueFailed, ledgerNow, models.RevenuePending, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "bank_id"}))

	count, err := ledger.MarkTimedOut(context.Background())

	assert.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyCollected_MatchingAmountVerified(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT id, application_id, amount FROM revenue_collection_entries`).
		WithArgs(models.RevenueCollected).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "amount"}).
			AddRow("entry-1", "app-001", int64(50000)))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE revenue_collection_entries`).
		WithArgs(models.RevenueVerified, ledgerNow, "entry-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE applications SET revenue_collected`).
		WithArgs(int64(50000), ledgerNow, "app-001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	verified, err := ledger.VerifyCollected(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyCollected_MismatchKeepsAmountAndAlerts(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT id, application_id, amount FROM revenue_collection_entries`).
		WithArgs(models.RevenueCollected).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "amount"}).
			AddRow("entry-1", "app-001", int64(49000)))
	mock.ExpectExec(`UPDATE revenue_collection_entries SET verification_notes`).
		WithArgs(sqlmock.AnyArg(), ledgerNow, "entry-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAlert(mock, models.AlertVerificationMismatch)

	verified, err := ledger.VerifyCollected(context.Background())

	assert.NoError(t, err)
	assert.Zero(t, verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryFailed(t *testing.T) {
	ledger, mock := newTestLedger(t)

	windowStart := ledgerNow.Add(-24 * time.Hour)
	mock.ExpectExec(`UPDATE revenue_collection_entries`).
		WithArgs(models.RevenuePending, ledgerNow, models.RevenueFailed, 3, windowStart).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT id, application_id, retry_count FROM revenue_collection_entries`).
		WithArgs(models.RevenueFailed, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "retry_count"}).
			AddRow("entry-9", "app-002", 3))
	expectAlert(mock, models.AlertRetryExhausted)

	retried, exhausted, err := ledger.RetryFailed(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, retried)
	assert.Equal(t, 1, exhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryFailed_ClearsTimeoutNote(t *testing.T) {
	ledger, mock := newTestLedger(t)

	// Resetting to pending must wipe the timeout note, otherwise a later
	// successful collection is skipped by the verification scan forever.
	windowStart := ledgerNow.Add(-24 * time.Hour)
	mock.ExpectExec(`UPDATE revenue_collection_entries SET status = \$1, retry_count = retry_count \+ 1, verification_notes = NULL, updated_at = \$2`).
		WithArgs(models.RevenuePending, ledgerNow, models.RevenueFailed, 3, windowStart).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, application_id, retry_count FROM revenue_collection_entries`).
		WithArgs(models.RevenueFailed, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "retry_count"}))

	retried, exhausted, err := ledger.RetryFailed(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, retried)
	assert.Zero(t, exhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	ledger, mock := newTestLedger(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "pending", "collected", "failed", "verified", "total_cents", "collected_cents",
		}).AddRow(10, 2, 3, 1, 4, int64(500000), int64(350000)))

	stats, err := ledger.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalEntries)
	assert.Equal(t, 4, stats.VerifiedEntries)
	assert.Equal(t, int64(350000), stats.CollectedCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}
