package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/creditforge/backend/internal/models"
)

// Collection is a typed handle over one named collection. Update runs the
// load-mutate-save cycle under the collection's writer lock; Load takes no
// lock because every backend hands out whole snapshots.
type Collection[T any] struct {
	name  string
	store CollectionStore
	mu    sync.Mutex
}

func NewCollection[T any](store CollectionStore, name string) *Collection[T] {
	return &Collection[T]{name: name, store: store}
}

func (c *Collection[T]) Name() string {
	return c.name
}

func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	raw, err := c.store.Load(ctx, c.name)
	if err != nil {
		return nil, err
	}

	records := make([]T, 0, len(raw))
	for i, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, storageErr("decode", c.name, fmt.Errorf("record %d: %w", i, err))
		}
		records = append(records, rec)
	}
	return records, nil
}

// Update loads the collection, hands it to fn and saves whatever fn returns.
// When fn fails nothing is saved and its error is returned unchanged.
func (c *Collection[T]) Update(ctx context.Context, fn func(records []T) ([]T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.Load(ctx)
	if err != nil {
		return err
	}

	updated, err := fn(records)
	if err != nil {
		return err
	}

	raw := make([]json.RawMessage, 0, len(updated))
	for i, rec := range updated {
		data, err := json.Marshal(rec)
		if err != nil {
			return storageErr("encode", c.name, fmt.Errorf("record %d: %w", i, err))
		}
		raw = append(raw, data)
	}

	return c.store.Save(ctx, c.name, raw)
}

// Collections bundles the four collections the services share. There must be
// exactly one Collections per store in a process so the writer locks hold.
type Collections struct {
	Accounts *Collection[models.Account]
	Content  *Collection[models.ContentItem]
	Ledger   *Collection[models.LedgerEntry]
	Audit    *Collection[models.AuditEntry]
}

func NewCollections(store CollectionStore) *Collections {
	return &Collections{
		Accounts: NewCollection[models.Account](store, AccountsCollection),
		Content:  NewCollection[models.ContentItem](store, ContentCollection),
		Ledger:   NewCollection[models.LedgerEntry](store, LedgerCollection),
		Audit:    NewCollection[models.AuditEntry](store, AuditCollection),
	}
}
