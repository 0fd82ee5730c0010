package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTransaction(tenant, hash, description string) *Transaction {
	return &Transaction{
		TenantID:     tenant,
		Description:  description,
		Amount:       decimal.RequireFromString("19.99"),
		TransDate:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Category:     "Groceries",
		MerchantName: "Whole Foods",
		ContentHash:  hash,
		Source:       SourceManual,
	}
}

func TestSQLiteStore_ConfigRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	got, err := s.GetConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	cfg := EngineConfig{Provider: ProviderGoogle, APIKey: "k1", DecodeModel: "m1", EmbeddingModel: "e1"}
	_, err = s.UpsertConfig(ctx, "u1", cfg)
	require.NoError(t, err)

	cfg.DecodeModel = "m2"
	_, err = s.UpsertConfig(ctx, "u1", cfg)
	require.NoError(t, err)

	got, err = s.GetConfig(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg, *got)

	other, err := s.GetConfig(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLiteStore_UpsertTransactionOverwritesOnHash(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertTransaction(ctx, testTransaction("u1", "h1", "first"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.ID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(first.Amount))
	assert.Equal(t, "2024-01-05", first.TransDate.Format(dateLayout))
	assert.False(t, first.CreatedAt.IsZero())

	next := testTransaction("u1", "h1", "second")
	next.Category = "Dining"
	second, err := s.UpsertTransaction(ctx, next)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "second", second.Description)
	assert.Equal(t, "Dining", second.Category)

	txs, err := s.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSQLiteStore_HashIsScopedPerTenant(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertTransaction(ctx, testTransaction("u1", "h1", "mine"))
	require.NoError(t, err)
	b, err := s.UpsertTransaction(ctx, testTransaction("u2", "h1", "theirs"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := s.GetTransactionByHash(ctx, "u2", "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "theirs", got.Description)

	missing, err := s.GetTransactionByHash(ctx, "u3", "h1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_DeleteFileRemovesItsTransactions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	f := &File{TenantID: "u1", Filename: "jan.csv", Kind: FileKindCSV, ContentType: "text/csv", Content: []byte("a,b\n")}
	require.NoError(t, s.CreateFile(ctx, f))
	assert.Equal(t, int64(4), f.Size)

	fromFile := testTransaction("u1", "h1", "from file")
	fromFile.Source = SourceCSV
	fromFile.FileID = &f.ID
	_, err := s.UpsertTransaction(ctx, fromFile)
	require.NoError(t, err)
	_, err = s.UpsertTransaction(ctx, testTransaction("u1", "h2", "manual"))
	require.NoError(t, err)

	files, err := s.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "jan.csv", files[0].Filename)
	assert.Nil(t, files[0].Content)

	wrongKind, err := s.DeleteFile(ctx, "u1", f.ID, FileKindBill)
	require.NoError(t, err)
	assert.Nil(t, wrongKind)

	deleted, err := s.DeleteFile(ctx, "u1", f.ID, FileKindCSV)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "jan.csv", deleted.Filename)

	txs, err := s.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "manual", txs[0].Description)
	assert.Nil(t, txs[0].FileID)
}

func TestSQLiteStore_ListMessagesIsChronological(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, s.CreateMessage(ctx, &Message{TenantID: "u1", Sender: SenderUser, Content: c}))
	}
	require.NoError(t, s.CreateMessage(ctx, &Message{TenantID: "u2", Sender: SenderUser, Content: "other"}))

	msgs, err := s.ListMessages(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestIsPostgresURL(t *testing.T) {
	assert.True(t, IsPostgresURL("postgres://u:p@localhost:5432/db"))
	assert.True(t, IsPostgresURL(" PostgreSQL://localhost/db"))
	assert.False(t, IsPostgresURL("moneyrag.db"))
	assert.False(t, IsPostgresURL(":memory:"))
}
