// internal/models/audit.go
package models

import "time"

// Actors recorded on audit entries.
const (
	ActorMonitor    = "monitor"
	ActorReconciler = "reconciler"
	ActorOperator   = "operator"
)

// StatusAuditLogEntry is the immutable record of one status change. Rows are
// append-only; the table is never updated or truncated by the engine.
type StatusAuditLogEntry struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	FromStatus    string    `json:"fromStatus"`
	ToStatus      string    `json:"toStatus"`
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Alert types emitted by the engine.
const (
	AlertDeadlineApproaching  = "deadline_approaching"
	AlertCollectionTimeout    = "collection_timeout"
	AlertVerificationMismatch = "verification_mismatch"
	AlertRetryExhausted       = "retry_exhausted"
	AlertRevenueAnomaly       = "revenue_anomaly"
	AlertHealthCheckFailed    = "health_check_failed"
	AlertDataIntegrity        = "data_integrity"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SystemAlert is an operator-facing signal. Write-only from the engine's
// perspective; an external dashboard reads them.
type SystemAlert struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	RelatedEntity string    `json:"relatedEntity"`
	CreatedAt     time.Time `json:"createdAt"`
}
