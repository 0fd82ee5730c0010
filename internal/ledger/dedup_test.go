package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/fingerprint"
	"moneyrag.io/backend/internal/store"
)

// ackless wraps a store whose upsert acknowledges nothing
type ackless struct {
	store.TransactionStore
	writeThrough bool
}

func (a *ackless) UpsertTransaction(ctx context.Context, tx *store.Transaction) (*store.Transaction, error) {
	if a.writeThrough {
		if _, err := a.TransactionStore.UpsertTransaction(ctx, tx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type failingStore struct {
	store.TransactionStore
}

func (failingStore) UpsertTransaction(ctx context.Context, tx *store.Transaction) (*store.Transaction, error) {
	return nil, errors.New("disk I/O error")
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func purchase(description, category string) store.Transaction {
	return store.Transaction{
		Description:  description,
		Amount:       decimal.RequireFromString("19.999"),
		TransDate:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Category:     category,
		MerchantName: "Whole Foods #4",
		Source:       store.SourceManual,
	}
}

func TestDeduplicator_UpsertIsIdempotentAndOverwrites(t *testing.T) {
	s := newTestStore(t)
	d := NewDeduplicator(s, nil)
	ctx := context.Background()

	first, err := d.Upsert(ctx, "u1", purchase("Weekly shop", "Groceries"))
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Compute(first.TransDate, decimal.RequireFromString("20.00"), "whole"), first.ContentHash)

	second, err := d.Upsert(ctx, "u1", purchase("Weekly shop (edited)", "Food"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Weekly shop (edited)", second.Description)
	assert.Equal(t, "Food", second.Category)

	txs, err := s.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestDeduplicator_FallsBackToDescription(t *testing.T) {
	d := NewDeduplicator(newTestStore(t), nil)
	ctx := context.Background()

	a := purchase("Starbucks latte", "Coffee")
	a.MerchantName = ""
	b := purchase("  STARBUCKS  ", "Coffee")
	b.MerchantName = "   "

	x, err := d.Upsert(ctx, "u1", a)
	require.NoError(t, err)
	y, err := d.Upsert(ctx, "u1", b)
	require.NoError(t, err)
	assert.Equal(t, x.ContentHash, y.ContentHash)
	assert.Equal(t, x.ID, y.ID)
}

func TestDeduplicator_TenantsDoNotCollide(t *testing.T) {
	d := NewDeduplicator(newTestStore(t), nil)
	ctx := context.Background()

	a, err := d.Upsert(ctx, "u1", purchase("shop", "Groceries"))
	require.NoError(t, err)
	b, err := d.Upsert(ctx, "u2", purchase("shop", "Groceries"))
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDeduplicator_ReadsBackWhenUpsertAcksNothing(t *testing.T) {
	s := newTestStore(t)
	d := NewDeduplicator(&ackless{TransactionStore: s, writeThrough: true}, nil)

	got, err := d.Upsert(context.Background(), "u1", purchase("shop", "Groceries"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "shop", got.Description)
}

func TestDeduplicator_ConsistencyErrorWhenRowVanishes(t *testing.T) {
	d := NewDeduplicator(&ackless{TransactionStore: newTestStore(t)}, nil)

	_, err := d.Upsert(context.Background(), "u1", purchase("shop", "Groceries"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindDedupConsistency, apperr.KindOf(err))
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestDeduplicator_StoreFailureIsClassified(t *testing.T) {
	d := NewDeduplicator(failingStore{}, nil)

	_, err := d.Upsert(context.Background(), "u1", purchase("shop", "Groceries"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindStore, apperr.KindOf(err))
}

func TestDeduplicator_UpsertBatch(t *testing.T) {
	s := newTestStore(t)
	d := NewDeduplicator(s, nil)
	ctx := context.Background()

	other := purchase("Rent", "Housing")
	other.MerchantName = "Landlord"
	other.Amount = decimal.RequireFromString("1200")

	stored, err := d.UpsertBatch(ctx, "u1", []store.Transaction{
		purchase("shop", "Groceries"),
		other,
		purchase("shop again", "Groceries"),
	})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, stored[0].ID, stored[2].ID)

	txs, err := s.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	_, err = NewDeduplicator(failingStore{}, nil).UpsertBatch(ctx, "u1", []store.Transaction{other})
	assert.Error(t, err)
}
