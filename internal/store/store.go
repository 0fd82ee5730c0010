// Package store persists engine configuration, uploaded files, transactions and chat messages.
// SQLite serves local runs and tests, Postgres serves deployments; both satisfy Store.
package store

import (
	"context"
	"strings"
)

type ConfigStore interface {
	// GetConfig returns (nil, nil) when the tenant has no configuration yet
	GetConfig(ctx context.Context, tenantID string) (*EngineConfig, error)
	UpsertConfig(ctx context.Context, tenantID string, cfg EngineConfig) (*EngineConfig, error)
}

type FileStore interface {
	CreateFile(ctx context.Context, f *File) error
	ListFiles(ctx context.Context, tenantID string) ([]File, error)
	// DeleteFile removes the file and the transactions ingested from it. It returns the deleted
	// file, or (nil, nil) when no file of that kind exists for the tenant.
	DeleteFile(ctx context.Context, tenantID, fileID, kind string) (*File, error)
}

type TransactionStore interface {
	// UpsertTransaction inserts tx or overwrites the row sharing (tenant, content hash).
	// It returns (nil, nil) when the database acknowledged no row.
	UpsertTransaction(ctx context.Context, tx *Transaction) (*Transaction, error)
	// GetTransactionByHash returns (nil, nil) when not found
	GetTransactionByHash(ctx context.Context, tenantID, contentHash string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, tenantID string, limit int) ([]Message, error)
}

type Store interface {
	ConfigStore
	FileStore
	TransactionStore
	MessageStore
	Close() error
}

// Open picks the backend from the connection string: postgres:// and postgresql:// URLs go to
// Postgres, anything else is a SQLite data source name.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	if IsPostgresURL(databaseURL) {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(databaseURL)
}

func IsPostgresURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}
