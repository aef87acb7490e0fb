package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// HistoryQuery filters an account's content. Empty fields match everything.
type HistoryQuery struct {
	AccountID string
	Search    string
	Category  models.Category
	Status    models.ContentStatus
	Page      int
	PageSize  int
}

type HistoryPage struct {
	Items []models.ContentItem `json:"items"`
	Page
}

// ContentUpdate carries the owner editable fields. Nil fields are unchanged.
type ContentUpdate struct {
	Title        *string               `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Status       *models.ContentStatus `json:"status,omitempty"`
	ScheduledFor *time.Time            `json:"scheduledFor,omitempty"`
}

type HistoryService struct {
	content *database.Collection[models.ContentItem]
	stats   *AggregationService
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewHistoryService(content *database.Collection[models.ContentItem], stats *AggregationService, logger logrus.FieldLogger) *HistoryService {
	return &HistoryService{
		content: content,
		stats:   stats,
		logger:  logger.WithField("component", "history"),
		now:     time.Now,
	}
}

// Query returns one page of the account's content, newest first. Ties on the
// creation time fall back to the id so pages are stable.
func (s *HistoryService) Query(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Category != "" && !q.Category.Valid() {
		return nil, invalidField("category", fmt.Sprintf("unknown category %q", q.Category))
	}

	items, err := s.content.Load(ctx)
	if err != nil {
		return nil, storageFailure("load content", err)
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]models.ContentItem, 0)
	for _, it := range items {
		if it.AccountID != q.AccountID {
			continue
		}
		if q.Category != "" && it.Category != q.Category {
			continue
		}
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(it.Title), search) {
			continue
		}
		matched = append(matched, it)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	p, start, end := paginate(len(matched), q.Page, q.PageSize)
	return &HistoryPage{Items: matched[start:end], Page: p}, nil
}

// Update applies an owner edit. Items of other accounts are reported as not
// found. Generated payloads are never editable.
func (s *HistoryService) Update(ctx context.Context, accountID string, itemID snowflake.ID, upd ContentUpdate) (*models.ContentItem, error) {
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" || len(title) > 200 {
			return nil, invalidField("title", "must be 1 to 200 characters")
		}
		upd.Title = &title
	}
	if upd.Status != nil {
		switch *upd.Status {
		case models.StatusDraft, models.StatusScheduled, models.StatusCompleted:
		default:
			return nil, invalidField("status", fmt.Sprintf("cannot set status %q", *upd.Status))
		}
	}
	if upd.ScheduledFor != nil && !upd.ScheduledFor.After(s.now()) {
		return nil, invalidField("scheduledFor", "must be in the future")
	}

	var updated models.ContentItem
	err := s.content.Update(ctx, func(items []models.ContentItem) ([]models.ContentItem, error) {
		i := -1
		for idx := range items {
			if items[idx].ID == itemID && items[idx].AccountID == accountID {
				i = idx
				break
			}
		}
		if i < 0 {
			return nil, fmt.Errorf("%w: content %s", ErrNotFound, itemID)
		}

		it := &items[i]
		if it.Status == models.StatusFailed {
			return nil, invalidField("status", "failed content cannot be edited")
		}
		if upd.Title != nil {
			it.Title = *upd.Title
		}
		if upd.ScheduledFor != nil {
			at := upd.ScheduledFor.UTC()
			it.ScheduledFor = &at
		}
		if upd.Status != nil {
			it.Status = *upd.Status
		} else if upd.ScheduledFor != nil {
			it.Status = models.StatusScheduled
		}

		if it.Status == models.StatusScheduled && it.ScheduledFor == nil {
			return nil, invalidField("scheduledFor", "is required to schedule content")
		}
		if it.Status != models.StatusScheduled {
			it.ScheduledFor = nil
		}
		it.UpdatedAt = s.now().UTC()
		updated = *it
		return items, nil
	})
	if err != nil {
		return nil, translateStoreErr("update content", err)
	}

	s.stats.Invalidate(accountID)
	return &updated, nil
}
