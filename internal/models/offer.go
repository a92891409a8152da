// internal/models/offer.go
package models

import "time"

// OfferStatus enumerates a bank offer's lifecycle. Offers are never deleted,
// only status-transitioned.
type OfferStatus string

const (
	OfferSubmitted OfferStatus = "submitted"
	OfferDealWon   OfferStatus = "deal_won"
	OfferDealLost  OfferStatus = "deal_lost"
)

// Offer is a bank's proposal against an application.
type Offer struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"applicationId"`
	BankID        string      `json:"bankId"`
	Terms         string      `json:"terms"`
	Status        OfferStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Purchase records one bank purchase action against an application. Rows are
// written by the purchase API; the engine only reads them to key ledger entries.
type Purchase struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	BankID        string    `json:"bankId"`
	PurchasedAt   time.Time `json:"purchasedAt"`
}
