package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// Reaper resolves reservations left open by a crash between reserve and
// commit or release. A reservation whose content was stored is committed,
// anything else is released.
type Reaper struct {
	ledger     *CreditLedger
	content    *database.Collection[models.ContentItem]
	generation *GenerationService
	stats      *AggregationService
	maxAge     time.Duration
	interval   time.Duration
	metrics    *Metrics
	logger     logrus.FieldLogger
	now        func() time.Time
}

type ReapReport struct {
	Committed int `json:"committed"`
	Released  int `json:"released"`
	Failed    int `json:"failed"`
}

func NewReaper(
	ledger *CreditLedger,
	content *database.Collection[models.ContentItem],
	generation *GenerationService,
	stats *AggregationService,
	interval, maxAge time.Duration,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Reaper{
		ledger:     ledger,
		content:    content,
		generation: generation,
		stats:      stats,
		maxAge:     maxAge,
		interval:   interval,
		metrics:    metrics,
		logger:     logger.WithField("component", "reaper"),
		now:        time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.WithError(err).Warn("Reservation sweep failed")
			}
		}
	}
}

// Sweep resolves every stale open reservation not owned by a running job.
func (r *Reaper) Sweep(ctx context.Context) (ReapReport, error) {
	var report ReapReport

	open, err := r.ledger.OpenReservations(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		return report, err
	}
	if len(open) == 0 {
		return report, nil
	}

	items, err := r.content.Load(ctx)
	if err != nil {
		return report, storageFailure("load content", err)
	}
	stored := make(map[string]bool)
	for _, it := range items {
		if it.CorrelationID != "" {
			stored[it.CorrelationID] = true
		}
	}

	for _, res := range open {
		if r.generation != nil && r.generation.InFlight(res.CorrelationID) {
			continue
		}

		log := r.logger.WithFields(logrus.Fields{
			"account_id":     res.AccountID,
			"correlation_id": res.CorrelationID,
			"amount":         res.Amount,
			"reserved_at":    res.ReservedAt,
		})

		if stored[res.CorrelationID] {
			if err := r.ledger.Commit(ctx, res.CorrelationID); err != nil {
				log.WithError(err).Error("Failed to commit stale reservation")
				report.Failed++
				continue
			}
			r.stats.Invalidate(res.AccountID)
			r.metrics.reaped.WithLabelValues("committed").Inc()
			report.Committed++
			log.Warn("Committed stale reservation with stored content")
			continue
		}

		if err := r.ledger.Release(ctx, res.CorrelationID); err != nil {
			log.WithError(err).Error("Failed to release stale reservation")
			report.Failed++
			continue
		}
		r.metrics.reaped.WithLabelValues("released").Inc()
		report.Released++
		log.Warn("Released stale reservation")
	}

	return report, nil
}
