package services

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// AuditService keeps the administrative activity log. The collection is
// stored most recent first and never holds more than capacity entries.
type AuditService struct {
	coll     *database.Collection[models.AuditEntry]
	capacity int
	ids      *IDGenerator
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewAuditService(coll *database.Collection[models.AuditEntry], capacity int, ids *IDGenerator, logger logrus.FieldLogger) *AuditService {
	if capacity <= 0 {
		capacity = 100
	}
	return &AuditService{
		coll:     coll,
		capacity: capacity,
		ids:      ids,
		logger:   logger.WithField("component", "audit"),
		now:      time.Now,
	}
}

func (s *AuditService) Capacity() int {
	return s.capacity
}

// Append inserts at the head and evicts from the tail past capacity.
func (s *AuditService) Append(ctx context.Context, accountID, actor, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return invalidField("action", "is required")
	}

	entry := models.AuditEntry{
		ID:        s.ids.Next(),
		AccountID: accountID,
		Actor:     actor,
		Action:    action,
		CreatedAt: s.now().UTC(),
	}

	err := s.coll.Update(ctx, func(entries []models.AuditEntry) ([]models.AuditEntry, error) {
		out := make([]models.AuditEntry, 0, min(len(entries)+1, s.capacity))
		out = append(out, entry)
		for _, e := range entries {
			if len(out) == s.capacity {
				break
			}
			out = append(out, e)
		}
		return out, nil
	})
	if err != nil {
		s.logger.WithField("account_id", accountID).WithError(err).Warn("Failed to append audit entry")
		return translateStoreErr("append audit entry", err)
	}
	return nil
}

// Query returns up to limit entries, most recent first. A limit outside
// 1..capacity means capacity.
func (s *AuditService) Query(ctx context.Context, limit int) ([]models.AuditView, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}

	entries, err := s.coll.Load(ctx)
	if err != nil {
		return nil, storageFailure("load audit entries", err)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	now := s.now()
	views := make([]models.AuditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, models.AuditView{
			AuditEntry: e,
			TimeAgo:    humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
		})
	}
	return views, nil
}
