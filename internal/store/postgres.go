package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"moneyrag.io/backend/internal/apperr"
)

// PostgresStore implements Store over a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
    CREATE TABLE IF NOT EXISTS account_configs (
        user_id TEXT PRIMARY KEY,
        llm_provider TEXT NOT NULL,
        api_key TEXT NOT NULL,
        decode_model TEXT NOT NULL,
        embedding_model TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );

    CREATE TABLE IF NOT EXISTS files (
        id UUID PRIMARY KEY,
        user_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('csv', 'bill')),
        content_type TEXT NOT NULL,
        size BIGINT NOT NULL,
        content BYTEA,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS files_user_idx ON files (user_id, created_at);

    CREATE TABLE IF NOT EXISTS transactions (
        id UUID PRIMARY KEY,
        user_id TEXT NOT NULL,
        description TEXT NOT NULL,
        amount NUMERIC(14, 4) NOT NULL,
        trans_date DATE NOT NULL,
        category TEXT NOT NULL,
        merchant_name TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        source TEXT NOT NULL,
        file_id UUID,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (user_id, content_hash)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id UUID PRIMARY KEY,
        user_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS messages_user_idx ON messages (user_id, created_at);
    `)
	return err
}

func (s *PostgresStore) GetConfig(ctx context.Context, tenantID string) (*EngineConfig, error) {
	var cfg EngineConfig
	err := s.pool.QueryRow(ctx,
		"SELECT llm_provider, api_key, decode_model, embedding_model FROM account_configs WHERE user_id = $1",
		tenantID,
	).Scan(&cfg.Provider, &cfg.APIKey, &cfg.DecodeModel, &cfg.EmbeddingModel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) UpsertConfig(ctx context.Context, tenantID string, cfg EngineConfig) (*EngineConfig, error) {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO account_configs (user_id, llm_provider, api_key, decode_model, embedding_model, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (user_id) DO UPDATE SET
            llm_provider = EXCLUDED.llm_provider,
            api_key = EXCLUDED.api_key,
            decode_model = EXCLUDED.decode_model,
            embedding_model = EXCLUDED.embedding_model,
            updated_at = now()`,
		tenantID, cfg.Provider, cfg.APIKey, cfg.DecodeModel, cfg.EmbeddingModel)
	if err != nil {
		return nil, apperr.FromPostgres(err, "failed to upsert config")
	}
	return &cfg, nil
}

func (s *PostgresStore) CreateFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Size = int64(len(f.Content))

	err := s.pool.QueryRow(ctx, `
        INSERT INTO files (id, user_id, filename, kind, content_type, size, content)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at`,
		f.ID, f.TenantID, f.Filename, f.Kind, f.ContentType, f.Size, f.Content,
	).Scan(&f.CreatedAt)
	if err != nil {
		return apperr.FromPostgres(err, "failed to insert file")
	}
	return nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, tenantID string) ([]File, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id::text, user_id, filename, kind, content_type, size, created_at FROM files WHERE user_id = $1 ORDER BY created_at DESC",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Filename, &f.Kind, &f.ContentType, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteFile(ctx context.Context, tenantID, fileID, kind string) (*File, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, nil
	}

	var deleted *File
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var f File
		err := tx.QueryRow(ctx, `
            DELETE FROM files WHERE id = $1 AND user_id = $2 AND kind = $3
            RETURNING id::text, user_id, filename, kind, content_type, size, created_at`,
			fileID, tenantID, kind,
		).Scan(&f.ID, &f.TenantID, &f.Filename, &f.Kind, &f.ContentType, &f.Size, &f.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return apperr.FromPostgres(err, "failed to delete file")
		}
		if _, err := tx.Exec(ctx, "DELETE FROM transactions WHERE user_id = $1 AND file_id = $2", tenantID, fileID); err != nil {
			return fmt.Errorf("failed to delete file transactions: %w", err)
		}
		deleted = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

const pgTxColumns = "id::text, user_id, description, amount::text, trans_date, category, merchant_name, content_hash, source, file_id::text, created_at, updated_at"

func (s *PostgresStore) UpsertTransaction(ctx context.Context, t *Transaction) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, `
        INSERT INTO transactions (id, user_id, description, amount, trans_date, category, merchant_name, content_hash, source, file_id)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10::uuid)
        ON CONFLICT (user_id, content_hash) DO UPDATE SET
            description = EXCLUDED.description,
            amount = EXCLUDED.amount,
            category = EXCLUDED.category,
            merchant_name = EXCLUDED.merchant_name,
            source = EXCLUDED.source,
            file_id = EXCLUDED.file_id,
            updated_at = now()
        RETURNING `+pgTxColumns,
		uuid.NewString(), t.TenantID, t.Description, t.Amount.String(), t.TransDate,
		t.Category, t.MerchantName, t.ContentHash, t.Source, t.FileID)

	stored, err := scanPgTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.FromPostgres(err, "failed to upsert transaction")
	}
	return stored, nil
}

func (s *PostgresStore) GetTransactionByHash(ctx context.Context, tenantID, contentHash string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+pgTxColumns+" FROM transactions WHERE user_id = $1 AND content_hash = $2",
		tenantID, contentHash)
	t, err := scanPgTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgTxColumns+" FROM transactions WHERE user_id = $1 ORDER BY trans_date DESC, created_at DESC LIMIT $2",
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanPgTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func scanPgTransaction(r pgx.Row) (*Transaction, error) {
	var (
		t      Transaction
		amount string
		date   time.Time
	)
	if err := r.Scan(&t.ID, &t.TenantID, &t.Description, &amount, &date, &t.Category, &t.MerchantName,
		&t.ContentHash, &t.Source, &t.FileID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	t.Amount = d
	t.TransDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return &t, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()

	err := s.pool.QueryRow(ctx,
		"INSERT INTO messages (id, user_id, sender, content) VALUES ($1, $2, $3, $4) RETURNING created_at",
		msg.ID, msg.TenantID, msg.Sender, msg.Content,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return apperr.FromPostgres(err, "failed to insert message")
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id::text, user_id, sender, content, created_at FROM (
            SELECT * FROM messages WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
        ) recent ORDER BY created_at ASC`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
