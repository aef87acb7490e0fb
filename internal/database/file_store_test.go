package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRecords(t *testing.T, values ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func TestFileStore_MissingCollectionIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	records, err := store.Load(context.Background(), AccountsCollection)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFileStore_RoundTripPreservesOrder(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	in := rawRecords(t,
		map[string]any{"id": "c", "n": 3},
		map[string]any{"id": "a", "n": 1},
		map[string]any{"id": "b", "n": 2},
	)
	require.NoError(t, store.Save(ctx, ContentCollection, in))

	out, err := store.Load(ctx, ContentCollection)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.JSONEq(t, string(in[i]), string(out[i]))
	}
}

func TestFileStore_SaveReplacesSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, AuditCollection, rawRecords(t, 1, 2, 3)))
	require.NoError(t, store.Save(ctx, AuditCollection, rawRecords(t, 4)))

	out, err := store.Load(ctx, AuditCollection)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStore_CorruptSnapshotIsStorageError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerCollection+".json"), []byte(`[{"id":`), 0o600))

	_, err = store.Load(context.Background(), LedgerCollection)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestFileStore_RejectsBadNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	err = store.Save(context.Background(), "Bad Name", nil)
	assert.ErrorIs(t, err, ErrInvalidCollectionName)
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Save(ctx, AccountsCollection, rawRecords(t, 1))
	assert.ErrorIs(t, err, ErrStorage)

	out, err := store.Load(context.Background(), AccountsCollection)
	require.NoError(t, err)
	assert.Empty(t, out, "a failed save must not leave records behind")
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	out, err := store.Load(ctx, AccountsCollection)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, store.Save(ctx, AccountsCollection, rawRecords(t, "x", "y")))
	out, err = store.Load(ctx, AccountsCollection)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.JSONEq(t, `"x"`, string(out[0]))
	assert.JSONEq(t, `"y"`, string(out[1]))
}
