// internal/engine/lifecycle/machine.go
package lifecycle

import (
	"fmt"
	"time"

	"marketplace-engine/internal/models"
)

// Transition reasons recorded on audit entries.
const (
	ReasonPurchaseRecorded = "purchase_recorded"
	ReasonOffersPresent    = "offers_present"
	ReasonAuctionExpired   = "auction_expired_no_offers"
	ReasonReactivated      = "operator_reactivation"
	ReasonReopened         = "operator_reopen"
)

// Transition is one legal, due status change together with the deadline
// updates for the new phase. SetSelectionEnd and ClearAuctionEnd keep the
// invariant that at most one phase deadline is active.
type Transition struct {
	From            models.Status
	To              models.Status
	Reason          string
	PurchaseRelated bool
	SetSelectionEnd *time.Time
	ClearAuctionEnd bool
}

// Decide is the pure decision rule: given a snapshot and the current instant,
// it returns the transition that is legal and due, if any. No I/O, no side
// effects, deterministic.
//
// Offer presence always outranks a timeout: an application with any offers or
// purchases completes even if its deadline elapsed in the same instant, so
// ignored is only reachable with a zero offer count.
func Decide(snap models.Snapshot, now time.Time, selectionWindow time.Duration) (Transition, bool) {
	if snap.Status != models.StatusLiveAuction {
		// Terminal or operator-owned states: nothing is due automatically.
		return Transition{}, false
	}

	if snap.PurchasesCount > 0 {
		return completedTransition(now, selectionWindow, ReasonPurchaseRecorded, true), true
	}
	if snap.OffersCount > 0 {
		return completedTransition(now, selectionWindow, ReasonOffersPresent, false), true
	}

	if snap.AuctionEndTime != nil && !snap.AuctionEndTime.After(now) {
		return Transition{
			From:            models.StatusLiveAuction,
			To:              models.StatusIgnored,
			Reason:          ReasonAuctionExpired,
			ClearAuctionEnd: true,
		}, true
	}

	return Transition{}, false
}

func completedTransition(now time.Time, selectionWindow time.Duration, reason string, purchase bool) Transition {
	selectionEnd := now.Add(selectionWindow)
	return Transition{
		From:            models.StatusLiveAuction,
		To:              models.StatusCompleted,
		Reason:          reason,
		PurchaseRelated: purchase,
		SetSelectionEnd: &selectionEnd,
		ClearAuctionEnd: true,
	}
}

// ExpectedStatus recomputes the status implied purely by timestamps and
// counters, using the same rule as Decide. The reconciler compares this
// against the persisted value to detect drift.
func ExpectedStatus(snap models.Snapshot, now time.Time, selectionWindow time.Duration) models.Status {
	if t, ok := Decide(snap, now, selectionWindow); ok {
		return t.To
	}
	return snap.Status
}

// CheckIntegrity reports a contradiction between the snapshot's fields, such
// as both phase deadlines active at once. Contradictions are observations for
// the audit sink, never fatal: Decide still returns the terminal no-op.
func CheckIntegrity(snap models.Snapshot, now time.Time) (string, bool) {
	if snap.AuctionEndTime != nil && snap.OfferSelectionEndTime != nil {
		if snap.AuctionEndTime.After(now) && snap.OfferSelectionEndTime.After(now) {
			return "both auction and selection deadlines active", false
		}
	}
	if snap.Status == models.StatusIgnored && (snap.OffersCount > 0 || snap.PurchasesCount > 0) {
		return fmt.Sprintf("ignored with offers=%d purchases=%d", snap.OffersCount, snap.PurchasesCount), false
	}
	if snap.Status == models.StatusLiveAuction && snap.AuctionEndTime == nil {
		return "live auction without an auction deadline", false
	}
	return "", true
}

// CanReactivate reports whether an operator may move the application back to
// live_auction. Only ignored and completed applications can be reopened.
func CanReactivate(status models.Status) bool {
	return status == models.StatusIgnored || status == models.StatusCompleted
}

// ReactivationReason names the operator transition for the audit trail.
func ReactivationReason(from models.Status) string {
	if from == models.StatusCompleted {
		return ReasonReopened
	}
	return ReasonReactivated
}
