package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/generator"
	"github.com/creditforge/backend/internal/models"
)

// ContentGenerator is the external content producing collaborator.
type ContentGenerator interface {
	Generate(ctx context.Context, req generator.Request) ([]string, error)
}

// GenerateRequest represents a generation request payload
type GenerateRequest struct {
	Category     models.Category   `json:"category" validate:"required"`
	Title        string            `json:"title" validate:"max=200"`
	Inputs       map[string]string `json:"inputs" validate:"max=20"`
	Quantity     int               `json:"quantity" validate:"required,min=1"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
}

type JobState string

const (
	JobReserved  JobState = "reserved"
	JobPending   JobState = "pending"
	JobCommitted JobState = "committed"
	JobReleased  JobState = "released"
)

// Job tracks one generation request from reservation to its outcome.
type Job struct {
	ID            string               `json:"id"`
	AccountID     string               `json:"accountId"`
	CorrelationID string               `json:"correlationId"`
	Category      models.Category      `json:"category"`
	Quantity      int                  `json:"quantity"`
	Cost          int64                `json:"cost"`
	State         JobState             `json:"state"`
	Error         string               `json:"error,omitempty"`
	Items         []models.ContentItem `json:"items,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`

	err error
}

// Done reports whether the reservation behind the job has been resolved.
func (j *Job) Done() bool {
	return j.State == JobCommitted || j.State == JobReleased
}

// Err is the failure that released the reservation, if any.
func (j *Job) Err() error {
	return j.err
}

const (
	maxInputFields   = 20
	maxInputLength   = 2000
	finishedJobTTL   = time.Hour
	commitRetryDelay = 100 * time.Millisecond
)

// GenerationService runs the reserve, generate, commit-or-release workflow.
// The collaborator call runs in its own goroutine outside every lock, and
// always resolves its reservation even when the caller goes away.
type GenerationService struct {
	content *database.Collection[models.ContentItem]
	ledger  *CreditLedger
	prices  *PriceTable
	gen     ContentGenerator
	stats   *AggregationService
	audit   *AuditService
	ids     *IDGenerator
	metrics *Metrics
	logger  logrus.FieldLogger
	now     func() time.Time

	mu       sync.Mutex
	jobs     map[string]*Job
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func NewGenerationService(
	content *database.Collection[models.ContentItem],
	ledger *CreditLedger,
	prices *PriceTable,
	gen ContentGenerator,
	stats *AggregationService,
	audit *AuditService,
	ids *IDGenerator,
	metrics *Metrics,
	logger logrus.FieldLogger,
) *GenerationService {
	return &GenerationService{
		content:  content,
		ledger:   ledger,
		prices:   prices,
		gen:      gen,
		stats:    stats,
		audit:    audit,
		ids:      ids,
		metrics:  metrics,
		logger:   logger.WithField("component", "generation"),
		now:      time.Now,
		jobs:     make(map[string]*Job),
		inFlight: make(map[string]struct{}),
	}
}

// Quote prices a request without reserving anything.
func (s *GenerationService) Quote(category models.Category, quantity int) (Quote, error) {
	return s.prices.Quote(category, quantity)
}

// Generate runs the workflow and waits for its outcome. If ctx ends first
// the job keeps running and ctx's error is returned; the job can still be
// looked up by id.
func (s *GenerationService) Generate(ctx context.Context, account *models.Account, req GenerateRequest) (*Job, error) {
	job, done, err := s.start(ctx, account, req)
	if err != nil {
		return nil, err
	}

	select {
	case <-done:
		final, ok := s.lookup(job.ID)
		if !ok {
			return job, nil
		}
		return final, final.err
	case <-ctx.Done():
		s.logger.WithFields(logrus.Fields{
			"job_id":         job.ID,
			"correlation_id": job.CorrelationID,
		}).Info("Caller left before generation finished; job continues")
		return job, ctx.Err()
	}
}

// Submit reserves credits and returns as soon as the job is running.
func (s *GenerationService) Submit(ctx context.Context, account *models.Account, req GenerateRequest) (*Job, error) {
	job, _, err := s.start(ctx, account, req)
	return job, err
}

// Job returns the caller's job. Jobs of other accounts are reported as not found.
func (s *GenerationService) Job(accountID, jobID string) (*Job, error) {
	job, ok := s.lookup(jobID)
	if !ok || job.AccountID != accountID {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job, nil
}

// InFlight reports whether a running job owns the reservation.
func (s *GenerationService) InFlight(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[correlationID]
	return ok
}

// Wait blocks until every running job has resolved its reservation or ctx ends.
func (s *GenerationService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GenerationService) start(ctx context.Context, account *models.Account, req GenerateRequest) (*Job, <-chan struct{}, error) {
	if err := s.validate(&req); err != nil {
		s.metrics.generations.WithLabelValues(string(req.Category), "invalid").Inc()
		return nil, nil, err
	}

	quote, err := s.prices.Quote(req.Category, req.Quantity)
	if err != nil {
		s.metrics.generations.WithLabelValues(string(req.Category), "invalid").Inc()
		return nil, nil, err
	}

	correlationID, err := s.ledger.Reserve(ctx, account.ID, quote.Total)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrInsufficientCredits) {
			outcome = "insufficient_credits"
		}
		s.metrics.generations.WithLabelValues(string(req.Category), outcome).Inc()
		return nil, nil, err
	}

	job := &Job{
		ID:            uuid.New().String(),
		AccountID:     account.ID,
		CorrelationID: correlationID,
		Category:      req.Category,
		Quantity:      req.Quantity,
		Cost:          quote.Total,
		State:         JobReserved,
		CreatedAt:     s.now().UTC(),
	}

	s.mu.Lock()
	s.pruneJobsLocked()
	s.jobs[job.ID] = job
	s.inFlight[correlationID] = struct{}{}
	snapshot := *job
	s.mu.Unlock()

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.run(context.WithoutCancel(ctx), job.ID, account, req, quote)
	}()

	return &snapshot, done, nil
}

func (s *GenerationService) run(ctx context.Context, jobID string, account *models.Account, req GenerateRequest, quote Quote) {
	job, _ := s.lookup(jobID)
	log := s.logger.WithFields(logrus.Fields{
		"job_id":         jobID,
		"account_id":     account.ID,
		"correlation_id": job.CorrelationID,
		"category":       req.Category,
		"quantity":       req.Quantity,
	})

	started := s.now()
	s.metrics.inFlight.Inc()
	defer func() {
		s.metrics.inFlight.Dec()
		s.metrics.generationDuration.Observe(s.now().Sub(started).Seconds())
		s.mu.Lock()
		delete(s.inFlight, job.CorrelationID)
		s.mu.Unlock()
	}()

	s.update(jobID, func(j *Job) { j.State = JobPending })

	payloads, err := s.gen.Generate(ctx, generator.Request{
		Category: string(req.Category),
		Title:    req.Title,
		Inputs:   req.Inputs,
		Quantity: req.Quantity,
	})
	if err != nil {
		log.WithError(err).Warn("Content provider failed; releasing reservation")
		s.fail(ctx, job, fmt.Errorf("%w: %w", ErrCollaboratorFailure, err), log)
		return
	}
	if len(payloads) != req.Quantity {
		log.WithField("payloads", len(payloads)).Warn("Content provider returned the wrong number of payloads; releasing reservation")
		s.fail(ctx, job, fmt.Errorf("%w: expected %d payloads, got %d", ErrCollaboratorFailure, req.Quantity, len(payloads)), log)
		return
	}

	items := s.buildItems(account.ID, job.CorrelationID, req, quote, payloads)
	err = s.content.Update(ctx, func(existing []models.ContentItem) ([]models.ContentItem, error) {
		return append(existing, items...), nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to store generated content; releasing reservation")
		s.fail(ctx, job, translateStoreErr("store content", err), log)
		return
	}

	if err := s.commit(ctx, job.CorrelationID); err != nil {
		log.WithError(err).Error("Failed to commit reservation; removing generated content")
		if rmErr := s.removeItems(ctx, job.CorrelationID); rmErr != nil {
			// Content stays and the reaper will commit the reservation.
			log.WithError(rmErr).Error("Failed to remove uncommitted content")
			s.finish(job, JobPending, err)
			return
		}
		s.fail(ctx, job, err, log)
		return
	}

	s.metrics.generations.WithLabelValues(string(req.Category), "committed").Inc()
	s.update(jobID, func(j *Job) { j.Items = items })
	s.finish(job, JobCommitted, nil)
	log.WithField("cost", quote.Total).Info("Generation committed")

	// Best effort from here on: the content and the ledger are final.
	s.stats.Invalidate(account.ID)
	if _, err := s.stats.Refresh(ctx, account.ID); err != nil {
		log.WithError(err).Warn("Stats refresh failed")
	}
	action := fmt.Sprintf("generated %d %s item(s) for %d credits", req.Quantity, req.Category, quote.Total)
	if err := s.audit.Append(ctx, account.ID, account.DisplayName, action); err != nil {
		log.WithError(err).Warn("Audit append failed")
	}
}

func (s *GenerationService) commit(ctx context.Context, correlationID string) error {
	err := s.ledger.Commit(ctx, correlationID)
	if err == nil || errors.Is(err, ErrReservationClosed) {
		return err
	}

	timer := time.NewTimer(commitRetryDelay)
	defer timer.Stop()
	<-timer.C
	return s.ledger.Commit(ctx, correlationID)
}

func (s *GenerationService) fail(ctx context.Context, job *Job, cause error, log logrus.FieldLogger) {
	s.metrics.generations.WithLabelValues(string(job.Category), "released").Inc()
	if err := s.ledger.Release(ctx, job.CorrelationID); err != nil {
		// The reaper releases it later.
		log.WithError(err).Error("Failed to release reservation")
		s.finish(job, JobPending, cause)
		return
	}
	s.finish(job, JobReleased, cause)
}

func (s *GenerationService) finish(job *Job, state JobState, err error) {
	now := s.now().UTC()
	s.update(job.ID, func(j *Job) {
		j.State = state
		j.CompletedAt = &now
		j.err = err
		if err != nil {
			j.Error = err.Error()
		}
	})
}

func (s *GenerationService) buildItems(accountID, correlationID string, req GenerateRequest, quote Quote, payloads []string) []models.ContentItem {
	now := s.now().UTC()
	status := models.StatusDraft
	if req.ScheduledFor != nil {
		status = models.StatusScheduled
	}

	items := make([]models.ContentItem, len(payloads))
	for i, payload := range payloads {
		title := req.Title
		if title == "" {
			title = fmt.Sprintf("%s %d", strings.ReplaceAll(string(req.Category), "_", " "), i+1)
		} else if len(payloads) > 1 {
			title = fmt.Sprintf("%s (%d/%d)", req.Title, i+1, len(payloads))
		}

		items[i] = models.ContentItem{
			ID:             s.ids.Next(),
			AccountID:      accountID,
			Category:       req.Category,
			Title:          title,
			Inputs:         req.Inputs,
			Payload:        payload,
			Status:         status,
			CreditsCharged: quote.Units[i],
			CorrelationID:  correlationID,
			ScheduledFor:   req.ScheduledFor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	return items
}

func (s *GenerationService) removeItems(ctx context.Context, correlationID string) error {
	err := s.content.Update(ctx, func(items []models.ContentItem) ([]models.ContentItem, error) {
		return slices.DeleteFunc(items, func(it models.ContentItem) bool {
			return it.CorrelationID == correlationID
		}), nil
	})
	return translateStoreErr("remove content", err)
}

func (s *GenerationService) validate(req *GenerateRequest) error {
	if !req.Category.Valid() {
		return invalidField("category", fmt.Sprintf("unknown category %q", req.Category))
	}
	if req.Quantity < 1 {
		return invalidField("quantity", "must be at least 1")
	}

	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) > 200 {
		return invalidField("title", "must be at most 200 characters")
	}

	if len(req.Inputs) > maxInputFields {
		return invalidField("inputs", fmt.Sprintf("at most %d fields", maxInputFields))
	}
	for k, v := range req.Inputs {
		if strings.TrimSpace(k) == "" {
			return invalidField("inputs", "field names must not be empty")
		}
		if len(v) > maxInputLength {
			return invalidField("inputs."+k, fmt.Sprintf("must be at most %d characters", maxInputLength))
		}
	}

	if req.ScheduledFor != nil && !req.ScheduledFor.After(s.now()) {
		return invalidField("scheduledFor", "must be in the future")
	}
	return nil
}

func (s *GenerationService) lookup(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	snapshot := *job
	snapshot.Items = slices.Clone(job.Items)
	return &snapshot, true
}

func (s *GenerationService) update(jobID string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		fn(job)
	}
}

func (s *GenerationService) pruneJobsLocked() {
	cutoff := s.now().Add(-finishedJobTTL)
	for id, job := range s.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
