// internal/engine/monitor/revenue_monitor_test.go
package monitor

import (
	"context"
	"testing"
	"time"

	"marketplace-engine/internal/common/config"
	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/audit"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/engine/revenue"
	"marketplace-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevenueMonitor_RunsEveryPass(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := lifecycle.FixedClock{Instant: monitorNow}
	log := logger.NewTestLogger(t)
	sink := audit.NewSink(db, rdb, clock, "system_alerts", 6*time.Hour, log)
	cfg := config.RevenueConfig{
		FeeCents:           50000,
		PendingTimeoutMins: 60,
		MaxRetries:         3,
		RetryWindowHours:   24,
		AnomalyWindowDays:  30,
	}
	ledger := revenue.NewLedger(db, sink, clock, cfg, log)
	m := NewRevenueMonitor(ledger, log)

	// Timeout sweep.
	mock.ExpectQuery(`UPDATE revenue_collection_entries`).
		WithArgs(models.RevenueFailed, monitorNow, models.RevenuePending, monitorNow.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "bank_id"}))
	// Verification scan.
	mock.ExpectQuery(`SELECT id, application_id, amount`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "amount"}))
	// Retry sweep and exhaustion scan.
	mock.ExpectExec(`UPDATE revenue_collection_entries`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, application_id, retry_count`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "retry_count"}))
	// Anomaly series.
	mock.ExpectQuery(`SELECT date_trunc`).
		WillReturnRows(sqlmock.NewRows([]string{"day", "count", "sum"}))

	err = m.RunCycle(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
