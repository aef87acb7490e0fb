package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

func TestCreditLedger_ReserveBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve exactly the balance", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 40)

		corr, err := env.ledger.Reserve(ctx, "acc1", 40)

		require.NoError(t, err)
		assert.NotEmpty(t, corr)
		assert.Equal(t, int64(0), env.balance(t, "acc1"))
	})

	t.Run("reserve balance plus one", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 40)

		_, err := env.ledger.Reserve(ctx, "acc1", 41)

		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.Equal(t, int64(40), env.balance(t, "acc1"))
		assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryReserve))
	})
}

func TestCreditLedger_InvalidAmounts(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 10)
	ctx := context.Background()

	_, err := env.ledger.Reserve(ctx, "acc1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.ledger.Reserve(ctx, "acc1", -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.ledger.TopUp(ctx, "acc1", 0, "purchase")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Equal(t, int64(10), env.balance(t, "acc1"))
}

func TestCreditLedger_UnknownAndInactiveAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 10)
	ctx := context.Background()

	_, err := env.ledger.Reserve(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, env.cols.Accounts.Update(ctx, func(accounts []models.Account) ([]models.Account, error) {
		accounts[0].Active = false
		return accounts, nil
	}))

	_, err = env.ledger.Reserve(ctx, "acc1", 1)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestCreditLedger_CommitAndReleaseAreIdempotent(t *testing.T) {
	ctx := context.Background()

	t.Run("commit twice", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 30)
		corr, err := env.ledger.Reserve(ctx, "acc1", 10)
		require.NoError(t, err)

		require.NoError(t, env.ledger.Commit(ctx, corr))
		require.NoError(t, env.ledger.Commit(ctx, corr))

		assert.Equal(t, int64(20), env.balance(t, "acc1"))
		assert.Len(t, env.entriesOfKind(t, "acc1", models.EntryCommit), 1)
	})

	t.Run("release twice", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 30)
		corr, err := env.ledger.Reserve(ctx, "acc1", 10)
		require.NoError(t, err)

		require.NoError(t, env.ledger.Release(ctx, corr))
		require.NoError(t, env.ledger.Release(ctx, corr))

		assert.Equal(t, int64(30), env.balance(t, "acc1"))
		assert.Len(t, env.entriesOfKind(t, "acc1", models.EntryRelease), 1)
	})

	t.Run("release after commit is refused", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 30)
		corr, err := env.ledger.Reserve(ctx, "acc1", 10)
		require.NoError(t, err)
		require.NoError(t, env.ledger.Commit(ctx, corr))

		assert.ErrorIs(t, env.ledger.Release(ctx, corr), ErrReservationClosed)
		assert.Equal(t, int64(20), env.balance(t, "acc1"))
	})

	t.Run("unknown correlation id", func(t *testing.T) {
		env := newTestEnv(t, nil)

		assert.ErrorIs(t, env.ledger.Commit(ctx, "missing"), ErrNotFound)
		assert.ErrorIs(t, env.ledger.Release(ctx, "missing"), ErrNotFound)
	})
}

func TestCreditLedger_TopUp(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 10)

	balance, err := env.ledger.TopUp(context.Background(), "acc1", 25, "purchase-1")

	require.NoError(t, err)
	assert.Equal(t, int64(35), balance)

	summary, err := env.ledger.Balance(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, int64(35), summary.LifetimeCredits)

	topUps := env.entriesOfKind(t, "acc1", models.EntryTopUp)
	require.Len(t, topUps, 2)
	assert.Equal(t, "purchase-1", topUps[1].Reference)
	assert.Equal(t, int64(35), topUps[1].BalanceAfter)
}

func TestCreditLedger_StorageFailureLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()

	t.Run("account save fails", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 20)
		env.store.failSaves(database.AccountsCollection, 1)

		_, err := env.ledger.Reserve(ctx, "acc1", 5)

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Equal(t, int64(20), env.balance(t, "acc1"))
	})

	t.Run("ledger append fails", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 20)
		env.store.failSaves(database.LedgerCollection, 1)

		_, err := env.ledger.Reserve(ctx, "acc1", 5)

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Equal(t, int64(20), env.balance(t, "acc1"))
		assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryReserve))

		check, err := env.ledger.VerifyBalance(ctx, "acc1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
	})
}

func TestCreditLedger_ConcurrentOperationsKeepInvariant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 100)
	ctx := context.Background()

	const workers = 30
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			corr, err := env.ledger.Reserve(ctx, "acc1", 7)
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientCredits)
				return
			}
			if i%2 == 0 {
				assert.NoError(t, env.ledger.Commit(ctx, corr))
				assert.NoError(t, env.ledger.Commit(ctx, corr))
			} else {
				assert.NoError(t, env.ledger.Release(ctx, corr))
				assert.NoError(t, env.ledger.Release(ctx, corr))
			}
		}(i)
	}
	wg.Wait()

	check, err := env.ledger.VerifyBalance(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.GreaterOrEqual(t, check.StoredBalance, int64(0))
	assert.Equal(t, check.LifetimeCredits-check.Committed, check.StoredBalance)
	assert.Zero(t, check.Reserved)
	assert.Zero(t, env.ledger.locks.size())
}

func TestCreditLedger_ConcurrentReservesNeverOverdraw(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 40)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.Reserve(ctx, "acc1", 30)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrInsufficientCredits))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(10), env.balance(t, "acc1"))
}

func TestCreditLedger_OpenReservations(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "acc1", 50)
	ctx := context.Background()

	open, err := env.ledger.Reserve(ctx, "acc1", 5)
	require.NoError(t, err)
	closed, err := env.ledger.Reserve(ctx, "acc1", 5)
	require.NoError(t, err)
	require.NoError(t, env.ledger.Commit(ctx, closed))

	list, err := env.ledger.OpenReservations(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, open, list[0].CorrelationID)

	list, err = env.ledger.OpenReservations(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)

	summary, err := env.ledger.Balance(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Reserved)
}

func TestCreditLedger_CallerCancelAfterBalanceWrite(t *testing.T) {
	cancelAfterAccountsSave := func(env *testEnv) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		env.store.onSave(func(name string) {
			if name == database.AccountsCollection {
				cancel()
			}
		})
		return ctx, cancel
	}

	t.Run("reserve still records its entry", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 40)
		ctx, cancel := cancelAfterAccountsSave(env)
		defer cancel()

		corr, err := env.ledger.Reserve(ctx, "acc1", 25)

		require.NoError(t, err)
		assert.Equal(t, int64(15), env.balance(t, "acc1"))
		reserves := env.entriesOfKind(t, "acc1", models.EntryReserve)
		require.Len(t, reserves, 1)
		assert.Equal(t, corr, reserves[0].CorrelationID)

		check, err := env.ledger.VerifyBalance(context.Background(), "acc1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
	})

	t.Run("release still records its entry", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 40)
		corr, err := env.ledger.Reserve(context.Background(), "acc1", 25)
		require.NoError(t, err)
		ctx, cancel := cancelAfterAccountsSave(env)
		defer cancel()

		require.NoError(t, env.ledger.Release(ctx, corr))

		r, err := env.ledger.Reservation(context.Background(), corr)
		require.NoError(t, err)
		assert.Equal(t, models.EntryRelease, r.State)
		assert.Equal(t, int64(40), env.balance(t, "acc1"))

		check, err := env.ledger.VerifyBalance(context.Background(), "acc1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
	})

	t.Run("compensation survives the cancelled caller", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.seedAccount(t, "acc1", 40)
		ctx, cancel := cancelAfterAccountsSave(env)
		defer cancel()
		env.store.failSaves(database.LedgerCollection, 1)

		_, err := env.ledger.Reserve(ctx, "acc1", 25)

		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Equal(t, int64(40), env.balance(t, "acc1"))
		assert.Empty(t, env.entriesOfKind(t, "acc1", models.EntryReserve))

		check, err := env.ledger.VerifyBalance(context.Background(), "acc1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
	})
}
