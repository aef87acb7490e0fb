package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/creditforge/backend/internal/config"
	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/generator"
	"github.com/creditforge/backend/internal/logging"
	"github.com/creditforge/backend/internal/models"
)

type MockContentGenerator struct {
	mock.Mock
}

func (m *MockContentGenerator) Generate(ctx context.Context, req generator.Request) ([]string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// providerFunc adapts a function to generator.Provider.
type providerFunc func(ctx context.Context, req generator.Request) ([]string, error)

func (f providerFunc) Name() string { return "test" }

func (f providerFunc) Generate(ctx context.Context, req generator.Request) ([]string, error) {
	return f(ctx, req)
}

var errInjected = errors.New("injected save failure")

// flakyStore fails the next N saves of a collection.
type flakyStore struct {
	database.CollectionStore

	mu        sync.Mutex
	fails     map[string]int
	afterSave func(name string)
}

func newFlakyStore() *flakyStore {
	return &flakyStore{CollectionStore: database.NewMemoryStore(), fails: make(map[string]int)}
}

func (s *flakyStore) failSaves(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[name] = n
}

// onSave runs fn after every successful save.
func (s *flakyStore) onSave(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSave = fn
}

func (s *flakyStore) Save(ctx context.Context, name string, records []json.RawMessage) error {
	s.mu.Lock()
	if s.fails[name] > 0 {
		s.fails[name]--
		s.mu.Unlock()
		return errors.Join(database.ErrStorage, errInjected)
	}
	hook := s.afterSave
	s.mu.Unlock()

	if err := s.CollectionStore.Save(ctx, name, records); err != nil {
		return err
	}
	if hook != nil {
		hook(name)
	}
	return nil
}

type testEnv struct {
	store      *flakyStore
	cols       *database.Collections
	ids        *IDGenerator
	metrics    *Metrics
	ledger     *CreditLedger
	prices     *PriceTable
	audit      *AuditService
	stats      *AggregationService
	history    *HistoryService
	identity   *IdentityResolver
	accounts   *AccountService
	generation *GenerationService
	cfg        *config.Config
}

func testConfig() *config.Config {
	cfg := &config.Config{
		JWT:    config.JWTConfig{SecretKey: "test-secret", ExpiryHours: 1},
		Argon2: config.Argon2Config{Time: 1, Memory: 1024, Threads: 1, KeyLength: 32, SaltLength: 16},
		Credits: config.CreditsConfig{
			SignupGrant: 50,
			MaxQuantity: 20,
			UnitCosts:   config.DefaultUnitCosts(),
			Tiers:       config.DefaultTiers(),
		},
		Audit: config.AuditConfig{Capacity: 5},
		Admin: config.AdminConfig{Emails: []string{"admin@example.com"}},
	}
	return cfg
}

func newTestEnv(t *testing.T, gen ContentGenerator) *testEnv {
	t.Helper()

	logger := logging.NewNopLogger()
	ids, err := NewIDGenerator(1)
	require.NoError(t, err)

	env := &testEnv{store: newFlakyStore(), ids: ids, metrics: NewMetrics(nil), cfg: testConfig()}
	env.cols = database.NewCollections(env.store)
	env.prices = NewPriceTable(env.cfg.Credits)
	env.ledger = NewCreditLedger(env.cols, ids, env.metrics, logger)
	env.audit = NewAuditService(env.cols.Audit, env.cfg.Audit.Capacity, ids, logger)
	env.stats = NewAggregationService(env.cols.Content, env.ledger, logger)
	env.history = NewHistoryService(env.cols.Content, env.stats, logger)
	env.identity = NewIdentityResolver(env.cols.Accounts, env.cfg.JWT, NewMemoryBlacklist())
	env.accounts = NewAccountService(env.cols.Accounts, env.ledger, env.identity, env.audit, env.cfg, logger)
	env.generation = NewGenerationService(env.cols.Content, env.ledger, env.prices, gen, env.stats, env.audit, ids, env.metrics, logger)
	return env
}

// seedAccount stores an active account and funds it through the ledger so
// the ledger and the stored balance agree.
func (e *testEnv) seedAccount(t *testing.T, id string, balance int64) *models.Account {
	t.Helper()

	now := time.Now().UTC()
	account := models.Account{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: "User " + id,
		Role:        models.RoleUser,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.cols.Accounts.Update(context.Background(), func(accounts []models.Account) ([]models.Account, error) {
		return append(accounts, account), nil
	}))

	if balance > 0 {
		got, err := e.ledger.TopUp(context.Background(), id, balance, "seed")
		require.NoError(t, err)
		account.Balance = got
		account.LifetimeCredits = balance
	}
	return &account
}

func (e *testEnv) balance(t *testing.T, id string) int64 {
	t.Helper()
	summary, err := e.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return summary.Balance
}

func (e *testEnv) entriesOfKind(t *testing.T, id string, kind models.EntryKind) []models.LedgerEntry {
	t.Helper()
	entries, err := e.ledger.Entries(context.Background(), id)
	require.NoError(t, err)

	var out []models.LedgerEntry
	for _, en := range entries {
		if en.Kind == kind {
			out = append(out, en)
		}
	}
	return out
}

func (e *testEnv) contentFor(t *testing.T, id string) []models.ContentItem {
	t.Helper()
	items, err := e.cols.Content.Load(context.Background())
	require.NoError(t, err)

	var out []models.ContentItem
	for _, it := range items {
		if it.AccountID == id {
			out = append(out, it)
		}
	}
	return out
}

func payloads(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "generated text"
	}
	return out
}
