package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// AggregationService derives dashboard stats from the content collection.
// Stats are a cache: writers call Invalidate and the next read recomputes.
type AggregationService struct {
	content *database.Collection[models.ContentItem]
	ledger  *CreditLedger
	group   singleflight.Group
	logger  logrus.FieldLogger
	now     func() time.Time

	mu       sync.Mutex
	cache    map[string]models.AggregateStats
	versions map[string]uint64
}

func NewAggregationService(content *database.Collection[models.ContentItem], ledger *CreditLedger, logger logrus.FieldLogger) *AggregationService {
	return &AggregationService{
		content:  content,
		ledger:   ledger,
		logger:   logger.WithField("component", "aggregation"),
		now:      time.Now,
		cache:    make(map[string]models.AggregateStats),
		versions: make(map[string]uint64),
	}
}

// TransactionPage is a page of ledger entries, newest first.
type TransactionPage struct {
	Entries []models.LedgerEntry `json:"entries"`
	Page
}

// Stats returns the cached snapshot while it is valid for the current
// calendar period, and recomputes otherwise.
func (s *AggregationService) Stats(ctx context.Context, accountID string) (*models.AggregateStats, error) {
	s.mu.Lock()
	cached, ok := s.cache[accountID]
	s.mu.Unlock()

	if ok && cached.PeriodStart.Equal(periodStart(s.now())) {
		return cloneStats(cached), nil
	}
	return s.Refresh(ctx, accountID)
}

// Refresh recomputes the account's stats from one content snapshot.
// Concurrent refreshes of the same account share a single computation.
func (s *AggregationService) Refresh(ctx context.Context, accountID string) (*models.AggregateStats, error) {
	v, err, _ := s.group.Do(accountID, func() (any, error) {
		s.mu.Lock()
		version := s.versions[accountID]
		s.mu.Unlock()

		// Shared by every waiter; one caller leaving must not fail the rest.
		items, err := s.content.Load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, storageFailure("load content", err)
		}
		stats := computeStats(accountID, items, s.now())

		s.mu.Lock()
		if s.versions[accountID] == version {
			s.cache[accountID] = stats
		}
		s.mu.Unlock()
		return stats, nil
	})
	if err != nil {
		s.logger.WithField("account_id", accountID).WithError(err).Warn("Stats refresh failed")
		return nil, err
	}
	return cloneStats(v.(models.AggregateStats)), nil
}

// Invalidate drops the cached snapshot. A refresh already running is not
// cached once it finishes.
func (s *AggregationService) Invalidate(accountID string) {
	s.mu.Lock()
	s.versions[accountID]++
	delete(s.cache, accountID)
	s.mu.Unlock()
	s.group.Forget(accountID)
}

// Transactions pages through the account's ledger, newest first.
func (s *AggregationService) Transactions(ctx context.Context, accountID string, page, pageSize int) (*TransactionPage, error) {
	entries, err := s.ledger.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Entries come in insertion order and snowflake ids grow with it.
	newest := make([]models.LedgerEntry, len(entries))
	for i, e := range entries {
		newest[len(entries)-1-i] = e
	}

	p, start, end := paginate(len(newest), page, pageSize)
	return &TransactionPage{Entries: newest[start:end], Page: p}, nil
}

func periodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func computeStats(accountID string, items []models.ContentItem, now time.Time) models.AggregateStats {
	start := periodStart(now)
	stats := models.AggregateStats{
		AccountID:   accountID,
		PeriodStart: start,
		ByCategory:  make(map[models.Category]int),
		RefreshedAt: now.UTC(),
	}

	for _, it := range items {
		if it.AccountID != accountID {
			continue
		}
		stats.TotalItems++
		stats.ByCategory[it.Category]++
		if it.Status == models.StatusScheduled {
			stats.ScheduledCount++
		}
		if !it.CreatedAt.Before(start) {
			stats.GeneratedThisPeriod++
			stats.CreditsThisPeriod += it.CreditsCharged
		}
	}

	best := 0
	for _, c := range models.Categories {
		if n := stats.ByCategory[c]; n > best {
			best = n
			stats.MostUsedCategory = c
		}
	}
	return stats
}

func cloneStats(stats models.AggregateStats) *models.AggregateStats {
	out := stats
	out.ByCategory = make(map[models.Category]int, len(stats.ByCategory))
	for k, v := range stats.ByCategory {
		out.ByCategory[k] = v
	}
	return &out
}
