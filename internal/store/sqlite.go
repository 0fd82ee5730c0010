package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases on a single handle.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS account_configs (
        user_id TEXT PRIMARY KEY,
        llm_provider TEXT NOT NULL,
        api_key TEXT NOT NULL,
        decode_model TEXT NOT NULL,
        embedding_model TEXT NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS files (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('csv', 'bill')),
        content_type TEXT NOT NULL,
        size INTEGER NOT NULL,
        content BLOB,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS files_user_idx ON files (user_id, created_at);

    CREATE TABLE IF NOT EXISTS transactions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        description TEXT NOT NULL,
        amount TEXT NOT NULL, -- decimal string
        trans_date TEXT NOT NULL, -- YYYY-MM-DD
        category TEXT NOT NULL,
        merchant_name TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        source TEXT NOT NULL,
        file_id TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        UNIQUE (user_id, content_hash)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Config methods
func (s *SQLiteStore) GetConfig(ctx context.Context, tenantID string) (*EngineConfig, error) {
	var cfg EngineConfig
	err := s.db.QueryRowContext(ctx,
		"SELECT llm_provider, api_key, decode_model, embedding_model FROM account_configs WHERE user_id = ?",
		tenantID,
	).Scan(&cfg.Provider, &cfg.APIKey, &cfg.DecodeModel, &cfg.EmbeddingModel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) UpsertConfig(ctx context.Context, tenantID string, cfg EngineConfig) (*EngineConfig, error) {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO account_configs (user_id, llm_provider, api_key, decode_model, embedding_model, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            llm_provider = excluded.llm_provider,
            api_key = excluded.api_key,
            decode_model = excluded.decode_model,
            embedding_model = excluded.embedding_model,
            updated_at = excluded.updated_at`,
		tenantID, cfg.Provider, cfg.APIKey, cfg.DecodeModel, cfg.EmbeddingModel, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert config: %w", err)
	}
	return &cfg, nil
}

// File methods
func (s *SQLiteStore) CreateFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now().UTC()
	f.Size = int64(len(f.Content))

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files (id, user_id, filename, kind, content_type, size, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.TenantID, f.Filename, f.Kind, f.ContentType, f.Size, f.Content, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, tenantID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, filename, kind, content_type, size, created_at FROM files WHERE user_id = ? ORDER BY created_at DESC",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var (
			f       File
			created sqliteTime
		)
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Filename, &f.Kind, &f.ContentType, &f.Size, &created); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		f.CreatedAt = created.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, tenantID, fileID, kind string) (*File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	var (
		f       File
		created sqliteTime
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, user_id, filename, kind, content_type, size, created_at FROM files WHERE id = ? AND user_id = ? AND kind = ?",
		fileID, tenantID, kind,
	).Scan(&f.ID, &f.TenantID, &f.Filename, &f.Kind, &f.ContentType, &f.Size, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	f.CreatedAt = created.Time

	if _, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE user_id = ? AND file_id = ?", tenantID, fileID); err != nil {
		return nil, fmt.Errorf("failed to delete file transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID); err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return &f, nil
}

// Transaction methods
const sqliteTxColumns = "id, user_id, description, amount, trans_date, category, merchant_name, content_hash, source, file_id, created_at, updated_at"

func (s *SQLiteStore) UpsertTransaction(ctx context.Context, t *Transaction) (*Transaction, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO transactions (`+sqliteTxColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, content_hash) DO UPDATE SET
            description = excluded.description,
            amount = excluded.amount,
            category = excluded.category,
            merchant_name = excluded.merchant_name,
            source = excluded.source,
            file_id = excluded.file_id,
            updated_at = excluded.updated_at
        RETURNING `+sqliteTxColumns,
		uuid.NewString(), t.TenantID, t.Description, t.Amount.String(), t.TransDate.Format(dateLayout),
		t.Category, t.MerchantName, t.ContentHash, t.Source, t.FileID, now, now)

	stored, err := scanSQLiteTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) GetTransactionByHash(ctx context.Context, tenantID, contentHash string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteTxColumns+" FROM transactions WHERE user_id = ? AND content_hash = ?",
		tenantID, contentHash)
	t, err := scanSQLiteTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteTxColumns+" FROM transactions WHERE user_id = ? ORDER BY trans_date DESC, created_at DESC LIMIT ?",
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqliteTime scans DATETIME columns whether the driver hands back a parsed time or the raw text,
// which happens for RETURNING clauses.
type sqliteTime struct{ time.Time }

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (st *sqliteTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case time.Time:
		st.Time = v
		return nil
	case nil:
		st.Time = time.Time{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			st.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", s)
}

func scanSQLiteTransaction(r rowScanner) (*Transaction, error) {
	var (
		t                Transaction
		amount           string
		date             string
		fileID           sql.NullString
		created, updated sqliteTime
	)
	if err := r.Scan(&t.ID, &t.TenantID, &t.Description, &amount, &date, &t.Category, &t.MerchantName,
		&t.ContentHash, &t.Source, &fileID, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = created.Time, updated.Time

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	if t.TransDate, err = time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("bad trans_date %q: %w", date, err)
	}
	if fileID.Valid {
		t.FileID = &fileID.String
	}
	return &t, nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, user_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.TenantID, msg.Sender, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns the tenant's latest messages in chronological order
func (s *SQLiteStore) ListMessages(ctx context.Context, tenantID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, sender, content, created_at FROM messages WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m       Message
			created sqliteTime
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Sender, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.CreatedAt = created.Time
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}
