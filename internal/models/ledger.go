package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EntryKind string

const (
	EntryReserve EntryKind = "reserve"
	EntryCommit  EntryKind = "commit"
	EntryRelease EntryKind = "release"
	EntryTopUp   EntryKind = "top_up"
)

// LedgerEntry is one append-only row of the credit ledger. Amount is the
// magnitude of the operation; Delta is its signed effect on the spendable
// balance (reserve -n, commit 0, release +n, top_up +n), so the sum of all
// deltas for an account equals its balance.
type LedgerEntry struct {
	ID            snowflake.ID `json:"id"`
	AccountID     string       `json:"accountId"`
	Kind          EntryKind    `json:"kind"`
	Amount        int64        `json:"amount"`
	Delta         int64        `json:"delta"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Reference     string       `json:"reference,omitempty"`
	BalanceAfter  int64        `json:"balanceAfter"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Reservation is the resolved view of a reserve entry and its outcome.
type Reservation struct {
	CorrelationID string     `json:"correlationId"`
	AccountID     string     `json:"accountId"`
	Amount        int64      `json:"amount"`
	State         EntryKind  `json:"state"`
	ReservedAt    time.Time  `json:"reservedAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// Open reports whether the reservation still holds credits.
func (r *Reservation) Open() bool {
	return r.State == EntryReserve
}
