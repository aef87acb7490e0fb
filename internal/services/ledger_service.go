package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/models"
)

// CreditLedger owns account balances. Every balance change happens under the
// account's lock and is recorded as an append-only ledger entry.
type CreditLedger struct {
	cols    *database.Collections
	ids     *IDGenerator
	locks   *keyedMutex
	metrics *Metrics
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewCreditLedger(cols *database.Collections, ids *IDGenerator, metrics *Metrics, logger logrus.FieldLogger) *CreditLedger {
	return &CreditLedger{
		cols:    cols,
		ids:     ids,
		locks:   newKeyedMutex(),
		metrics: metrics,
		logger:  logger.WithField("component", "ledger"),
		now:     time.Now,
	}
}

// BalanceSummary is the caller facing view of an account's credits.
type BalanceSummary struct {
	AccountID       string `json:"accountId"`
	Balance         int64  `json:"balance"`
	Reserved        int64  `json:"reserved"`
	LifetimeCredits int64  `json:"lifetimeCredits"`
}

// BalanceCheck compares the stored balance with the one implied by the ledger.
type BalanceCheck struct {
	AccountID       string `json:"accountId"`
	StoredBalance   int64  `json:"storedBalance"`
	LedgerBalance   int64  `json:"ledgerBalance"`
	LifetimeCredits int64  `json:"lifetimeCredits"`
	Committed       int64  `json:"committed"`
	Reserved        int64  `json:"reserved"`
	Consistent      bool   `json:"consistent"`
}

// Reserve holds amount credits and returns the correlation id of the hold.
func (l *CreditLedger) Reserve(ctx context.Context, accountID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: reserve %d", ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	balance, err := l.adjustBalance(ctx, accountID, -amount, 0)
	if err != nil {
		l.metrics.ledgerOp("reserve", err)
		return "", err
	}

	// The balance is already written; finish on a context the caller
	// cannot cancel so the entry or the compensation always lands.
	ctx = context.WithoutCancel(ctx)

	correlationID := uuid.New().String()
	entry := models.LedgerEntry{
		AccountID:     accountID,
		Kind:          models.EntryReserve,
		Amount:        amount,
		Delta:         -amount,
		CorrelationID: correlationID,
		BalanceAfter:  balance,
	}
	if err := l.appendEntry(ctx, &entry); err != nil {
		l.compensate(ctx, accountID, amount, 0, correlationID)
		l.metrics.ledgerOp("reserve", err)
		return "", err
	}

	l.metrics.ledgerOp("reserve", nil)
	l.metrics.creditsReserved.Add(float64(amount))
	return correlationID, nil
}

// Commit makes a reservation permanent. Committing twice is a no-op.
func (l *CreditLedger) Commit(ctx context.Context, correlationID string) error {
	err := l.resolve(ctx, correlationID, models.EntryCommit)
	l.metrics.ledgerOp("commit", err)
	return err
}

// Release returns a reservation to the spendable balance. Releasing twice is
// a no-op.
func (l *CreditLedger) Release(ctx context.Context, correlationID string) error {
	err := l.resolve(ctx, correlationID, models.EntryRelease)
	l.metrics.ledgerOp("release", err)
	return err
}

// TopUp credits the account and returns the new spendable balance.
func (l *CreditLedger) TopUp(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: top-up %d", ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	balance, err := l.adjustBalance(ctx, accountID, amount, amount)
	if err != nil {
		l.metrics.ledgerOp("top_up", err)
		return 0, err
	}

	ctx = context.WithoutCancel(ctx)
	entry := models.LedgerEntry{
		AccountID:    accountID,
		Kind:         models.EntryTopUp,
		Amount:       amount,
		Delta:        amount,
		Reference:    reference,
		BalanceAfter: balance,
	}
	if err := l.appendEntry(ctx, &entry); err != nil {
		l.compensate(ctx, accountID, -amount, -amount, reference)
		l.metrics.ledgerOp("top_up", err)
		return 0, err
	}

	l.metrics.ledgerOp("top_up", nil)
	return balance, nil
}

func (l *CreditLedger) Balance(ctx context.Context, accountID string) (*BalanceSummary, error) {
	account, err := l.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	entries, err := l.cols.Ledger.Load(ctx)
	if err != nil {
		return nil, storageFailure("load ledger", err)
	}

	summary := &BalanceSummary{
		AccountID:       account.ID,
		Balance:         account.Balance,
		LifetimeCredits: account.LifetimeCredits,
	}
	for _, r := range reservationsFrom(entries) {
		if r.AccountID == accountID && r.Open() {
			summary.Reserved += r.Amount
		}
	}
	return summary, nil
}

// Reservation returns the current state of one hold.
func (l *CreditLedger) Reservation(ctx context.Context, correlationID string) (*models.Reservation, error) {
	entries, err := l.cols.Ledger.Load(ctx)
	if err != nil {
		return nil, storageFailure("load ledger", err)
	}

	r, ok := reservationsFrom(entries)[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: reservation %s", ErrNotFound, correlationID)
	}
	return r, nil
}

// OpenReservations lists holds placed before cutoff that are still unresolved,
// oldest first.
func (l *CreditLedger) OpenReservations(ctx context.Context, cutoff time.Time) ([]models.Reservation, error) {
	entries, err := l.cols.Ledger.Load(ctx)
	if err != nil {
		return nil, storageFailure("load ledger", err)
	}

	var open []models.Reservation
	for _, r := range reservationsFrom(entries) {
		if r.Open() && r.ReservedAt.Before(cutoff) {
			open = append(open, *r)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ReservedAt.Before(open[j].ReservedAt) })
	return open, nil
}

// Entries returns the account's ledger entries in insertion order.
func (l *CreditLedger) Entries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	entries, err := l.cols.Ledger.Load(ctx)
	if err != nil {
		return nil, storageFailure("load ledger", err)
	}

	out := make([]models.LedgerEntry, 0)
	for _, e := range entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// VerifyBalance recomputes the balance from the ledger. It holds the account
// lock so no ledger operation is half applied while it reads.
func (l *CreditLedger) VerifyBalance(ctx context.Context, accountID string) (*BalanceCheck, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	account, err := l.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := l.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	check := &BalanceCheck{
		AccountID:       accountID,
		StoredBalance:   account.Balance,
		LifetimeCredits: account.LifetimeCredits,
	}
	for _, e := range entries {
		check.LedgerBalance += e.Delta
	}
	for _, r := range reservationsFrom(entries) {
		switch r.State {
		case models.EntryCommit:
			check.Committed += r.Amount
		case models.EntryReserve:
			check.Reserved += r.Amount
		}
	}
	check.Consistent = check.LedgerBalance == check.StoredBalance &&
		check.LifetimeCredits-check.Committed-check.Reserved == check.StoredBalance

	if !check.Consistent {
		l.logger.WithFields(logrus.Fields{
			"account_id":     accountID,
			"stored_balance": check.StoredBalance,
			"ledger_balance": check.LedgerBalance,
		}).Error("Balance does not match ledger")
	}
	return check, nil
}

func (l *CreditLedger) resolve(ctx context.Context, correlationID string, kind models.EntryKind) error {
	r, err := l.Reservation(ctx, correlationID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(r.AccountID)
	defer unlock()

	// Every write for this correlation id happens under the account lock, so
	// this read is current.
	r, err = l.Reservation(ctx, correlationID)
	if err != nil {
		return err
	}
	switch r.State {
	case kind:
		return nil
	case models.EntryCommit, models.EntryRelease:
		return fmt.Errorf("%w: %s is %s", ErrReservationClosed, correlationID, r.State)
	}

	if kind == models.EntryCommit {
		account, err := l.account(ctx, r.AccountID)
		if err != nil {
			return err
		}
		entry := models.LedgerEntry{
			AccountID:     r.AccountID,
			Kind:          models.EntryCommit,
			Amount:        r.Amount,
			CorrelationID: correlationID,
			BalanceAfter:  account.Balance,
		}
		if err := l.appendEntry(ctx, &entry); err != nil {
			return err
		}
		l.metrics.creditsCommitted.Add(float64(r.Amount))
		return nil
	}

	balance, err := l.adjustBalance(ctx, r.AccountID, r.Amount, 0)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	entry := models.LedgerEntry{
		AccountID:     r.AccountID,
		Kind:          models.EntryRelease,
		Amount:        r.Amount,
		Delta:         r.Amount,
		CorrelationID: correlationID,
		BalanceAfter:  balance,
	}
	if err := l.appendEntry(ctx, &entry); err != nil {
		l.compensate(ctx, r.AccountID, -r.Amount, 0, correlationID)
		return err
	}
	l.metrics.creditsReleased.Add(float64(r.Amount))
	return nil
}

// adjustBalance applies delta to the spendable balance and lifetime to the
// lifetime total. A debit never takes the balance below zero. Callers hold
// the account lock.
func (l *CreditLedger) adjustBalance(ctx context.Context, accountID string, delta, lifetime int64) (int64, error) {
	var balance int64
	err := l.cols.Accounts.Update(ctx, func(accounts []models.Account) ([]models.Account, error) {
		i := indexOfAccount(accounts, accountID)
		if i < 0 {
			return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
		}
		acc := &accounts[i]
		if delta < 0 && !acc.Active {
			return nil, fmt.Errorf("%w: account %s", ErrAccountInactive, accountID)
		}
		if acc.Balance+delta < 0 {
			return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientCredits, acc.Balance, -delta)
		}
		acc.Balance += delta
		acc.LifetimeCredits += lifetime
		acc.Version++
		acc.UpdatedAt = l.now().UTC()
		balance = acc.Balance
		return accounts, nil
	})
	if err != nil {
		return 0, translateStoreErr("update account", err)
	}
	return balance, nil
}

// compensate undoes a balance change whose ledger entry could not be written.
func (l *CreditLedger) compensate(ctx context.Context, accountID string, delta, lifetime int64, ref string) {
	if _, err := l.adjustBalance(ctx, accountID, delta, lifetime); err != nil {
		l.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"delta":      delta,
			"reference":  ref,
		}).WithError(err).Error("Failed to compensate balance after ledger write failure")
	}
}

func (l *CreditLedger) appendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	entry.ID = l.ids.Next()
	entry.CreatedAt = l.now().UTC()

	err := l.cols.Ledger.Update(ctx, func(entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
		return append(entries, *entry), nil
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"account_id":     entry.AccountID,
			"kind":           entry.Kind,
			"correlation_id": entry.CorrelationID,
		}).WithError(err).Error("Failed to append ledger entry")
		return translateStoreErr("append ledger entry", err)
	}
	return nil
}

func (l *CreditLedger) account(ctx context.Context, accountID string) (*models.Account, error) {
	accounts, err := l.cols.Accounts.Load(ctx)
	if err != nil {
		return nil, storageFailure("load accounts", err)
	}
	i := indexOfAccount(accounts, accountID)
	if i < 0 {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	return &accounts[i], nil
}

// reservationsFrom folds reserve entries and their outcomes by correlation id.
func reservationsFrom(entries []models.LedgerEntry) map[string]*models.Reservation {
	out := make(map[string]*models.Reservation)
	for _, e := range entries {
		if e.CorrelationID == "" {
			continue
		}
		switch e.Kind {
		case models.EntryReserve:
			out[e.CorrelationID] = &models.Reservation{
				CorrelationID: e.CorrelationID,
				AccountID:     e.AccountID,
				Amount:        e.Amount,
				State:         models.EntryReserve,
				ReservedAt:    e.CreatedAt,
			}
		case models.EntryCommit, models.EntryRelease:
			r, ok := out[e.CorrelationID]
			if !ok || !r.Open() {
				continue
			}
			at := e.CreatedAt
			r.State = e.Kind
			r.ResolvedAt = &at
		}
	}
	return out
}

func indexOfAccount(accounts []models.Account, id string) int {
	for i := range accounts {
		if accounts[i].ID == id {
			return i
		}
	}
	return -1
}

// translateStoreErr maps backend failures onto ErrStorageFailure and lets
// domain errors through unchanged.
func translateStoreErr(op string, err error) error {
	if errors.Is(err, database.ErrStorage) || errors.Is(err, database.ErrInvalidCollectionName) {
		return storageFailure(op, err)
	}
	return err
}
