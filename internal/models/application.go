// internal/models/application.go
package models

import "time"

// Status is the canonical application status vocabulary. Legacy multi-state
// names from the pre-migration schema are accepted at the persistence boundary
// only, via NormalizeStatus.
type Status string

const (
	StatusLiveAuction Status = "live_auction"
	StatusCompleted   Status = "completed"
	StatusIgnored     Status = "ignored"
)

// legacyStatusMapping translates pre-migration status names to the canonical
// vocabulary. Decision logic never sees a legacy name.
var legacyStatusMapping = map[string]Status{
	"live_auction":      StatusLiveAuction,
	"submitted":         StatusLiveAuction,
	"open_auction":      StatusLiveAuction,
	"pending_offers":    StatusLiveAuction,
	"offer_received":    StatusLiveAuction,
	"completed":         StatusCompleted,
	"purchased":         StatusCompleted,
	"selection_pending": StatusCompleted,
	"ignored":           StatusIgnored,
	"abandoned":         StatusIgnored,
	"deal_expired":      StatusIgnored,
}

// NormalizeStatus maps a persisted status name, canonical or legacy, to the
// canonical vocabulary. The second result is false for unknown names.
func NormalizeStatus(raw string) (Status, bool) {
	s, ok := legacyStatusMapping[raw]
	return s, ok
}

// LegacyNames returns every persisted name, canonical included, that
// normalizes to s. Scan predicates match on these so pre-migration rows are
// not silently skipped.
func LegacyNames(s Status) []string {
	var names []string
	for raw, canonical := range legacyStatusMapping {
		if canonical == s {
			names = append(names, raw)
		}
	}
	return names
}

// IsTerminal reports whether automatic rules may still move the status.
// Completed is terminal; ignored only moves on explicit operator action.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

func (s Status) String() string {
	return string(s)
}

// Application is the unit tracked by the lifecycle engine. Status is mutated
// only by the state machine or the reconciler; the counters are read-only
// inputs maintained by the offer/purchase API.
type Application struct {
	ID                    string     `json:"id"`
	BusinessID            string     `json:"businessId"`
	Status                Status     `json:"status"`
	SubmittedAt           time.Time  `json:"submittedAt"`
	AuctionEndTime        *time.Time `json:"auctionEndTime,omitempty"`
	OfferSelectionEndTime *time.Time `json:"offerSelectionEndTime,omitempty"`
	OffersCount           int        `json:"offersCount"`
	PurchasesCount        int        `json:"purchasesCount"`
	RevenueCollected      int64      `json:"revenueCollected"` // cents
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Snapshot is the read-only view the state machine decides on.
type Snapshot struct {
	ApplicationID         string
	Status                Status
	SubmittedAt           time.Time
	AuctionEndTime        *time.Time
	OfferSelectionEndTime *time.Time
	OffersCount           int
	PurchasesCount        int
}

// StatusCount is one bucket of the per-status aggregate, with counts and mean
// age folded across legacy names.
type StatusCount struct {
	Count         int     `json:"count"`
	AvgAgeSeconds float64 `json:"avgAgeSeconds"`
}

// Snapshot extracts the decision inputs from an application row.
func (a *Application) Snapshot() Snapshot {
	return Snapshot{
		ApplicationID:         a.ID,
		Status:                a.Status,
		SubmittedAt:           a.SubmittedAt,
		AuctionEndTime:        a.AuctionEndTime,
		OfferSelectionEndTime: a.OfferSelectionEndTime,
		OffersCount:           a.OffersCount,
		PurchasesCount:        a.PurchasesCount,
	}
}
