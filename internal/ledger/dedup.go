// Package ledger writes transactions through their content fingerprint so that re-ingesting the
// same purchase updates the stored row instead of duplicating it.
package ledger

import (
	"context"

	"github.com/rs/zerolog"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/fingerprint"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/metrics"
	"moneyrag.io/backend/internal/store"
)

// Deduplicator upserts transactions keyed on (tenant, content hash)
type Deduplicator struct {
	store   store.TransactionStore
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

func NewDeduplicator(s store.TransactionStore, m *metrics.Metrics) *Deduplicator {
	return &Deduplicator{store: s, log: logger.Named("ledger"), metrics: m}
}

// Upsert fingerprints tx, writes it and returns the stored row. A colliding row keeps its id and
// takes tx's description, amount, category, merchant, source and file.
func (d *Deduplicator) Upsert(ctx context.Context, tenantID string, tx store.Transaction) (*store.Transaction, error) {
	if tenantID == "" {
		return nil, apperr.New(apperr.KindAuthentication, "missing tenant")
	}
	tx.TenantID = tenantID
	tx.ContentHash = fingerprint.Compute(tx.TransDate, tx.Amount, fingerprint.Merchant(tx.MerchantName, tx.Description))

	stored, err := d.upsert(ctx, tx)
	d.metrics.RecordUpsert(tx.Source, err)
	return stored, err
}

func (d *Deduplicator) upsert(ctx context.Context, tx store.Transaction) (*store.Transaction, error) {
	stored, err := d.store.UpsertTransaction(ctx, &tx)
	if err != nil {
		if _, classified := apperr.As(err); classified {
			return nil, err
		}
		return nil, apperr.Wrap(err, apperr.KindStore, "failed to save transaction")
	}
	if stored != nil {
		return stored, nil
	}

	// The store acknowledged no row; read back whatever holds the hash.
	d.log.Warn().Str("tenant_id", tx.TenantID).Str("content_hash", tx.ContentHash).Msg("upsert returned no row, re-reading by hash")
	existing, err := d.store.GetTransactionByHash(ctx, tx.TenantID, tx.ContentHash)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStore, "failed to read back transaction")
	}
	if existing == nil {
		return nil, apperr.Newf(apperr.KindDedupConsistency, "transaction %s was neither stored nor found", tx.ContentHash)
	}
	return existing, nil
}

// UpsertBatch upserts txs in order and stops at the first failure
func (d *Deduplicator) UpsertBatch(ctx context.Context, tenantID string, txs []store.Transaction) ([]store.Transaction, error) {
	out := make([]store.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		stored, err := d.Upsert(ctx, tenantID, tx)
		if err != nil {
			return out, err
		}
		out = append(out, *stored)
	}
	return out, nil
}
