package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/generator"
	"github.com/creditforge/backend/internal/logging"
	"github.com/creditforge/backend/internal/models"
)

func waitForJobs(t *testing.T, env *testEnv) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.generation.Wait(ctx))
}

func TestGeneration_ScenarioA_BundleCommitted(t *testing.T) {
	gen := new(MockContentGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generator.Request) bool {
		return req.Category == "promotional" && req.Quantity == 3
	})).Return(payloads(3), nil).Once()

	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)

	job, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategoryPromotional,
		Title:    "Spring sale",
		Quantity: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, JobCommitted, job.State)
	assert.Equal(t, int64(25), job.Cost)
	assert.Len(t, job.Items, 3)
	assert.Equal(t, int64(15), env.balance(t, "acc1"))

	items := env.contentFor(t, "acc1")
	require.Len(t, items, 3)
	var charged int64
	for _, it := range items {
		charged += it.CreditsCharged
		assert.Equal(t, models.StatusDraft, it.Status)
		assert.Equal(t, job.CorrelationID, it.CorrelationID)
	}
	assert.Equal(t, int64(25), charged)
	assert.Len(t, env.entriesOfKind(t, "acc1", models.EntryCommit), 1)

	stats, err := env.stats.Stats(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.GeneratedThisPeriod)
	assert.Equal(t, models.CategoryPromotional, stats.MostUsedCategory)

	audit, err := env.audit.Query(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.Contains(t, audit[0].Action, "generated 3 promotional")

	gen.AssertExpectations(t)
}

func TestGeneration_ScenarioB_InsufficientCredits(t *testing.T) {
	gen := new(MockContentGenerator)
	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 5)

	job, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategoryPromotional,
		Quantity: 1,
	})

	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Nil(t, job)
	assert.Equal(t, int64(5), env.balance(t, "acc1"))
	assert.Empty(t, env.contentFor(t, "acc1"))
	assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryCommit))
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGeneration_ScenarioC_TimeoutReleases(t *testing.T) {
	blocking := providerFunc(func(ctx context.Context, _ generator.Request) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	client := generator.NewClient(blocking, generator.Options{Timeout: 30 * time.Millisecond, MaxRetries: 1}, logging.NewNopLogger())

	env := newTestEnv(t, client)
	account := env.seedAccount(t, "acc1", 40)

	job, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategoryPromotional,
		Quantity: 3,
	})

	assert.ErrorIs(t, err, ErrCollaboratorFailure)
	assert.ErrorIs(t, err, generator.ErrTimeout)
	assert.Equal(t, JobReleased, job.State)
	assert.Equal(t, int64(40), env.balance(t, "acc1"))
	assert.Len(t, env.entriesOfKind(t, "acc1", models.EntryRelease), 1)
	assert.Empty(t, env.contentFor(t, "acc1"))
}

func TestGeneration_ScenarioD_ConcurrentRequests(t *testing.T) {
	gen := new(MockContentGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(payloads(4), nil)

	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		refused   int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.generation.Generate(context.Background(), account, GenerateRequest{
				Category: models.CategoryPromotional,
				Quantity: 4,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientCredits)
			refused++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)
	assert.Equal(t, int64(10), env.balance(t, "acc1"))
	assert.Len(t, env.contentFor(t, "acc1"), 4)
}

func TestGeneration_CallerLeavesJobStillResolves(t *testing.T) {
	release := make(chan struct{})
	gen := new(MockContentGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(payloads(1), nil)

	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	job, err := env.generation.Generate(ctx, account, GenerateRequest{
		Category: models.CategoryBlogArticle,
		Quantity: 1,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, job)
	assert.True(t, env.generation.InFlight(job.CorrelationID))
	assert.Equal(t, int64(20), env.balance(t, "acc1"))

	close(release)
	waitForJobs(t, env)

	final, err := env.generation.Job("acc1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCommitted, final.State)
	assert.False(t, env.generation.InFlight(job.CorrelationID))
	assert.Equal(t, int64(20), env.balance(t, "acc1"))
	assert.Len(t, env.contentFor(t, "acc1"), 1)
}

func TestGeneration_MalformedOutputReleases(t *testing.T) {
	short := providerFunc(func(context.Context, generator.Request) ([]string, error) {
		return []string{"only one"}, nil
	})
	client := generator.NewClient(short, generator.Options{Timeout: time.Second}, logging.NewNopLogger())

	env := newTestEnv(t, client)
	account := env.seedAccount(t, "acc1", 40)

	_, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategorySocialPost,
		Quantity: 2,
	})

	assert.ErrorIs(t, err, ErrCollaboratorFailure)
	assert.ErrorIs(t, err, generator.ErrMalformedOutput)
	assert.Equal(t, int64(40), env.balance(t, "acc1"))
	assert.Empty(t, env.contentFor(t, "acc1"))
}

func TestGeneration_ContentStoreFailureReleases(t *testing.T) {
	gen := new(MockContentGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(payloads(1), nil)

	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)
	env.store.failSaves(database.ContentCollection, 1)

	job, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategoryAdCopy,
		Quantity: 1,
	})

	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, JobReleased, job.State)
	assert.Equal(t, int64(40), env.balance(t, "acc1"))
	assert.Empty(t, env.contentFor(t, "acc1"))
}

func TestGeneration_CommitFailureRemovesContent(t *testing.T) {
	gen := new(MockContentGenerator)
	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)

	// The reserve entry is written before the generator runs; fail both
	// commit attempts that follow it.
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { env.store.failSaves(database.LedgerCollection, 2) }).
		Return(payloads(1), nil)

	job, err := env.generation.Generate(context.Background(), account, GenerateRequest{
		Category: models.CategoryAdCopy,
		Quantity: 1,
	})

	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Equal(t, JobReleased, job.State)
	assert.Equal(t, int64(40), env.balance(t, "acc1"))
	assert.Empty(t, env.contentFor(t, "acc1"))
	assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryCommit))
}

func TestGeneration_RejectsInvalidRequests(t *testing.T) {
	gen := new(MockContentGenerator)
	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		req   GenerateRequest
		field string
	}{
		{"zero quantity", GenerateRequest{Category: models.CategoryAdCopy, Quantity: 0}, "quantity"},
		{"too many units", GenerateRequest{Category: models.CategoryAdCopy, Quantity: 21}, "quantity"},
		{"unknown category", GenerateRequest{Category: "poem", Quantity: 1}, "category"},
		{"schedule in the past", GenerateRequest{Category: models.CategoryAdCopy, Quantity: 1, ScheduledFor: &past}, "scheduledFor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.generation.Generate(context.Background(), account, tt.req)

			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryReserve))
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGeneration_SubmitAndScheduledContent(t *testing.T) {
	gen := new(MockContentGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(payloads(2), nil)

	env := newTestEnv(t, gen)
	account := env.seedAccount(t, "acc1", 40)
	env.seedAccount(t, "acc2", 0)
	when := time.Now().Add(48 * time.Hour)

	job, err := env.generation.Submit(context.Background(), account, GenerateRequest{
		Category:     models.CategorySocialPost,
		Quantity:     2,
		ScheduledFor: &when,
	})
	require.NoError(t, err)
	assert.Equal(t, JobReserved, job.State)

	waitForJobs(t, env)

	final, err := env.generation.Job("acc1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCommitted, final.State)
	assert.True(t, final.Done())

	_, err = env.generation.Job("acc2", job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, it := range env.contentFor(t, "acc1") {
		assert.Equal(t, models.StatusScheduled, it.Status)
	}
	stats, err := env.stats.Stats(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ScheduledCount)
	assert.Equal(t, int64(30), env.balance(t, "acc1"))
}
