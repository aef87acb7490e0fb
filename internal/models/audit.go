package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AuditEntry struct {
	ID        snowflake.ID `json:"id"`
	AccountID string       `json:"accountId"`
	Actor     string       `json:"actor"`
	Action    string       `json:"action"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AuditView is an audit entry rendered for a reader; TimeAgo is computed at
// query time and never stored.
type AuditView struct {
	AuditEntry
	TimeAgo string `json:"timeAgo"`
}

// AggregateStats is the derived dashboard snapshot for one account.
type AggregateStats struct {
	AccountID           string           `json:"accountId"`
	PeriodStart         time.Time        `json:"periodStart"`
	GeneratedThisPeriod int              `json:"generatedThisPeriod"`
	CreditsThisPeriod   int64            `json:"creditsThisPeriod"`
	MostUsedCategory    Category         `json:"mostUsedCategory,omitempty"`
	ScheduledCount      int              `json:"scheduledCount"`
	TotalItems          int              `json:"totalItems"`
	ByCategory          map[Category]int `json:"byCategory"`
	RefreshedAt         time.Time        `json:"refreshedAt"`
}
