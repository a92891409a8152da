// internal/models/revenue.go
package models

import "time"

// RevenueStatus enumerates a collection entry's lifecycle. An entry ends at
// verified, or at failed once retries are exhausted.
type RevenueStatus string

const (
	RevenuePending   RevenueStatus = "pending"
	RevenueCollected RevenueStatus = "collected"
	RevenueFailed    RevenueStatus = "failed"
	RevenueVerified  RevenueStatus = "verified"
)

// RevenueCollectionEntry is one fee obligation created by a bank purchase.
// Amounts are fixed-point cents; Amount is never mutated after creation.
type RevenueCollectionEntry struct {
	ID                string        `json:"id"`
	ApplicationID     string        `json:"applicationId"`
	BankID            string        `json:"bankId"`
	Amount            int64         `json:"amount"` // cents
	Status            RevenueStatus `json:"status"`
	RetryCount        int           `json:"retryCount"`
	VerificationNotes string        `json:"verificationNotes,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// RevenueStats aggregates the ledger for the dashboard facade.
type RevenueStats struct {
	TotalEntries     int   `json:"totalEntries"`
	PendingEntries   int   `json:"pendingEntries"`
	CollectedEntries int   `json:"collectedEntries"`
	FailedEntries    int   `json:"failedEntries"`
	VerifiedEntries  int   `json:"verifiedEntries"`
	TotalCents       int64 `json:"totalCents"`
	CollectedCents   int64 `json:"collectedCents"`
}

// DailyRevenue is one day of the trends series.
type DailyRevenue struct {
	Day          time.Time `json:"day"`
	Collections  int       `json:"collections"`
	RevenueCents int64     `json:"revenueCents"`
}
