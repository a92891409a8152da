// internal/engine/store/store_test.go
package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"marketplace-engine/internal/common/errors"
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

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := lifecycle.FixedClock{Instant: storeNow}
	log := logger.NewTestLogger(t)
	sink := audit.NewSink(db, rdb, clock, "system_alerts", 6*time.Hour, log)

	return New(db, sink, clock, 5*time.Second, log), mock
}

func ignoredTransition() lifecycle.Transition {
	return lifecycle.Transition{
		From:            models.StatusLiveAuction,
		To:              models.StatusIgnored,
		Reason:          lifecycle.ReasonAuctionExpired,
		ClearAuctionEnd: true,
	}
}

func TestApplyTransition(t *testing.T) {
	s, mock := newTestStore(t)

	auctionEnd := storeNow.Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, auction_end_time, offer_selection_end_time`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"status", "auction_end_time", "offer_selection_end_time"}).
			AddRow("live_auction", auctionEnd, nil))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(models.StatusIgnored, nil, nil, storeNow, "app-001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO status_audit_log`).
		WithArgs(sqlmock.AnyArg(), "app-001", "live_auction", "ignored",
			models.ActorMonitor, lifecycle.ReasonAuctionExpired, storeNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.ApplyTransition(context.Background(), "app-001", ignoredTransition(), models.ActorMonitor, nil)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_RunsInTxHook(t *testing.T) {
	s, mock := newTestStore(t)

	selectionEnd := storeNow.Add(24 * time.Hour)
	tr := lifecycle.Transition{
		From:            models.StatusLiveAuction,
		To:              models.StatusCompleted,
		Reason:          lifecycle.ReasonPurchaseRecorded,
		PurchaseRelated: true,
		SetSelectionEnd: &selectionEnd,
		ClearAuctionEnd: true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, auction_end_time, offer_selection_end_time`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "auction_end_time", "offer_selection_end_time"}).
			AddRow("live_auction", storeNow.Add(time.Hour), nil))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(models.StatusCompleted, nil, selectionEnd, storeNow, "app-001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO status_audit_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO revenue_collection_entries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	hookRan := false
	err := s.ApplyTransition(context.Background(), "app-001", tr, models.ActorMonitor,
		func(ctx context.Context, tx *sql.Tx) error {
			hookRan = true
			_, err := tx.ExecContext(ctx, `INSERT INTO revenue_collection_entries VALUES (1)`)
			return err
		})

	assert.NoError(t, err)
	assert.True(t, hookRan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_ConcurrencyConflictRollsBack(t *testing.T) {
	s, mock := newTestStore(t)

	// The row moved to completed between the scan and the lock: no update, no
	// audit row, rollback.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, auction_end_time, offer_selection_end_time`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "auction_end_time", "offer_selection_end_time"}).
			AddRow("completed", nil, storeNow.Add(time.Hour)))
	mock.ExpectRollback()

	err := s.ApplyTransition(context.Background(), "app-001", ignoredTransition(), models.ActorMonitor, nil)

	assert.True(t, errors.IsConcurrencyConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_NotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, auction_end_time, offer_selection_end_time`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.ApplyTransition(context.Background(), "app-404", ignoredTransition(), models.ActorMonitor, nil)

	assert.True(t, errors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReactivate(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM applications`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ignored"))
	mock.ExpectExec(`UPDATE applications`).
		WithArgs(models.StatusLiveAuction, storeNow.Add(48*time.Hour), storeNow, "app-001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE offers`).
		WithArgs(models.OfferDealLost, storeNow, "app-001", models.OfferSubmitted).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO status_audit_log`).
		WithArgs(sqlmock.AnyArg(), "app-001", "ignored", "live_auction",
			models.ActorOperator, lifecycle.ReasonReactivated, storeNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Reactivate(context.Background(), "app-001", 48*time.Hour, models.ActorOperator)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReactivate_LiveAuctionRejected(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM applications`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("live_auction"))
	mock.ExpectRollback()

	err := s.Reactivate(context.Background(), "app-001", 48*time.Hour, models.ActorOperator)

	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueSnapshots_NormalizesLegacyNames(t *testing.T) {
	s, mock := newTestStore(t)

	auctionEnd := storeNow.Add(-time.Hour)
	mock.ExpectQuery(`SELECT id, status, submitted_at`).
		WithArgs(sqlmock.AnyArg(), storeNow, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "submitted_at", "auction_end_time",
			"offer_selection_end_time", "offers_count", "purchases_count",
		}).
			AddRow("app-001", "pending_offers", storeNow.Add(-48*time.Hour), auctionEnd, nil, 0, 0).
			AddRow("app-002", "mystery_state", storeNow.Add(-48*time.Hour), auctionEnd, nil, 0, 0))

	snaps, err := s.ListDueSnapshots(context.Background(), storeNow, 100)

	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "app-001", snaps[0].ApplicationID)
	assert.Equal(t, models.StatusLiveAuction, snaps[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetApplication_NotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, business_id, status`).
		WithArgs("app-404").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetApplication(context.Background(), "app-404")

	assert.True(t, errors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
