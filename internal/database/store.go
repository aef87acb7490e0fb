// Package database implements the collection store: named, ordered record
// collections persisted as whole snapshots. Every load reads a complete
// collection and every save replaces it atomically.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Collection names used by the services.
const (
	AccountsCollection = "accounts"
	ContentCollection  = "content_items"
	LedgerCollection   = "ledger_entries"
	AuditCollection    = "audit_entries"
)

var (
	// ErrStorage wraps every backend failure. Callers must assume nothing
	// changed when a Save returns it.
	ErrStorage = errors.New("storage failure")

	ErrInvalidCollectionName = errors.New("invalid collection name")
)

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// CollectionStore is the minimal repository contract. Load of a collection
// that was never saved returns an empty slice and no error.
type CollectionStore interface {
	Load(ctx context.Context, name string) ([]json.RawMessage, error)
	Save(ctx context.Context, name string, records []json.RawMessage) error
}

func validateName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func storageErr(op, name string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrStorage, op, name, err)
}

func decodeSnapshot(name string, data []byte) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return []json.RawMessage{}, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, storageErr("decode", name, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

func encodeSnapshot(name string, records []json.RawMessage) ([]byte, error) {
	if records == nil {
		records = []json.RawMessage{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, storageErr("encode", name, err)
	}
	return data, nil
}
