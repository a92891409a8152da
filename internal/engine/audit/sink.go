// internal/engine/audit/sink.go
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-engine/internal/common/logger"
	"marketplace-engine/internal/common/metrics"
	"marketplace-engine/internal/engine/lifecycle"
	"marketplace-engine/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Execer is satisfied by *sql.DB and *sql.Tx, letting audit appends join the
// caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Sink appends audit entries and raises operator alerts. Audit rows ride the
// caller's transaction; alerts are standalone writes with a Redis-backed
// cooldown so one noisy entity cannot storm the dashboard.
type Sink struct {
	db       *sql.DB
	redis    *redis.Client
	clock    lifecycle.Clock
	logger   logger.Logger
	channel  string
	cooldown time.Duration
}

func NewSink(db *sql.DB, rdb *redis.Client, clock lifecycle.Clock, channel string, cooldown time.Duration, log logger.Logger) *Sink {
	return &Sink{
		db:       db,
		redis:    rdb,
		clock:    clock,
		logger:   log.WithFields(map[string]interface{}{"component": "audit-sink"}),
		channel:  channel,
		cooldown: cooldown,
	}
}

// RecordTransition appends one immutable audit row using the caller's
// transactional handle. Rolling back the transaction drops the audit row with
// the status change, so the two never diverge.
func (s *Sink) RecordTransition(ctx context.Context, tx Execer, entry models.StatusAuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_audit_log (id, application_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.ApplicationID,
		entry.FromStatus,
		entry.ToStatus,
		entry.Actor,
		entry.Reason,
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

// RaiseAlert writes a system alert and notifies the forwarding side-channel.
// Alerts are deduplicated by entity+type: within the cooldown window only the
// first one is written. Returns whether the alert was actually raised.
func (s *Sink) RaiseAlert(ctx context.Context, alert models.SystemAlert) (bool, error) {
	if s.redis != nil {
		key := fmt.Sprintf("alert:%s:%s", alert.Type, alert.RelatedEntity)
		set, err := s.redis.SetNX(ctx, key, 1, s.cooldown).Result()
		if err != nil {
			// Dedup is best-effort: a Redis outage must not swallow alerts.
			s.logger.Warn("alert dedup check failed, raising anyway", map[string]interface{}{
				"error": err.Error(),
				"type":  alert.Type,
			})
		} else if !set {
			metrics.AlertsSuppressed.WithLabelValues(alert.Type).Inc()
			return false, nil
		}
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.CreatedAt = s.clock.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_alerts (id, type, severity, title, message, related_entity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID,
		alert.Type,
		alert.Severity,
		alert.Title,
		alert.Message,
		alert.RelatedEntity,
		alert.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("alert insert failed: %w", err)
	}

	metrics.AlertsRaised.WithLabelValues(alert.Type, alert.Severity).Inc()
	s.notify(ctx, alert)

	s.logger.Info("alert raised", map[string]interface{}{
		"type":          alert.Type,
		"severity":      alert.Severity,
		"relatedEntity": alert.RelatedEntity,
	})
	return true, nil
}

// notify fans the alert out on the NOTIFY channel consumed by the webhook
// forwarder. Failures are logged only: the alert row is already durable.
func (s *Sink) notify(ctx context.Context, alert models.SystemAlert) {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": alert.Type,
		"payload": map[string]interface{}{
			"id":             alert.ID,
			"severity":       alert.Severity,
			"title":          alert.Title,
			"message":        alert.Message,
			"related_entity": alert.RelatedEntity,
			"created_at":     alert.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		s.logger.Warn("alert payload marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}

	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, string(payload)); err != nil {
		s.logger.Warn("alert notify failed", map[string]interface{}{"error": err.Error()})
	}
}
