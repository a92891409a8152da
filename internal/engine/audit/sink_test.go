// internal/engine/audit/sink_test.go
package audit

import (
	"context"
	"testing"
	"time"

	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sinkNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T) (*Sink, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sink := NewSink(db, rdb, lifecycle.FixedClock{Instant: sinkNow}, "system_alerts", 6*time.Hour, logger.NewTestLogger(t))
	return sink, mock, mr
}

func testAlert() models.SystemAlert {
	return models.SystemAlert{
		Type:          models.AlertDeadlineApproaching,
		Severity:      models.SeverityWarning,
		Title:         "Auction deadline approaching",
		Message:       "application app-001 expires in 90 minutes",
		RelatedEntity: "app-001",
	}
}

func TestRecordTransition(t *testing.T) {
	sink, mock, _ := newTestSink(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO status_audit_log`).
		WithArgs(sqlmock.AnyArg(), "app-001", "live_auction", "ignored", models.ActorMonitor, "auction_expired_no_offers", sinkNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := sink.db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	err = sink.RecordTransition(context.Background(), tx, models.StatusAuditLogEntry{
		ApplicationID: "app-001",
		FromStatus:    "live_auction",
		ToStatus:      "ignored",
		Actor:         models.ActorMonitor,
		Reason:        "auction_expired_no_offers",
	})
	assert.NoError(t, err)
	assert.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRaiseAlert_WritesRowAndNotifies(t *testing.T) {
	sink, mock, _ := newTestSink(t)

	mock.ExpectExec(`INSERT INTO system_alerts`).
		WithArgs(sqlmock.AnyArg(), models.AlertDeadlineApproaching, models.SeverityWarning,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "app-001", sinkNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs("system_alerts", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	raised, err := sink.RaiseAlert(context.Background(), testAlert())

	assert.NoError(t, err)
	assert.True(t, raised)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRaiseAlert_DeduplicatedWithinCooldown(t *testing.T) {
	sink, mock, _ := newTestSink(t)

	mock.ExpectExec(`INSERT INTO system_alerts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	raised, err := sink.RaiseAlert(context.Background(), testAlert())
	require.NoError(t, err)
	require.True(t, raised)

	// Same entity+type inside the cooldown window: suppressed, no second insert.
	raised, err = sink.RaiseAlert(context.Background(), testAlert())
	assert.NoError(t, err)
	assert.False(t, raised)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRaiseAlert_CooldownExpiryAllowsRepeat(t *testing.T) {
	sink, mock, mr := newTestSink(t)

	mock.ExpectExec(`INSERT INTO system_alerts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO system_alerts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).WillReturnResult(sqlmock.NewResult(0, 1))

	raised, err := sink.RaiseAlert(context.Background(), testAlert())
	require.NoError(t, err)
	require.True(t, raised)

	mr.FastForward(7 * time.Hour)

	raised, err = sink.RaiseAlert(context.Background(), testAlert())
	assert.NoError(t, err)
	assert.True(t, raised)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRaiseAlert_DifferentEntitiesNotDeduplicated(t *testing.T) {
	sink, mock, _ := newTestSink(t)

	mock.ExpectExec(`INSERT INTO system_alerts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO system_alerts`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pg_notify`).WillReturnResult(sqlmock.NewResult(0, 1))

	first := testAlert()
	second := testAlert()
	second.RelatedEntity = "app-002"

	raised, err := sink.RaiseAlert(context.Background(), first)
	require.NoError(t, err)
	require.True(t, raised)

	raised, err = sink.RaiseAlert(context.Background(), second)
	assert.NoError(t, err)
	assert.True(t, raised)

	assert.NoError(t, mock.ExpectationsWereMet())
}
