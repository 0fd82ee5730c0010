package gemini

import (
	"context"
	"fmt"

	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/store"
)

// Builder is the engine.Factory for the Google provider. A new engine is seeded with the
// tenant's stored transactions.
type Builder struct {
	txs        store.TransactionStore
	maxIndexed int
}

var _ engine.Factory = (*Builder)(nil)

func NewBuilder(txs store.TransactionStore) *Builder {
	return &Builder{txs: txs, maxIndexed: MaxIndexedTransactions}
}

func (b *Builder) Build(ctx context.Context, tenantID string, cfg store.EngineConfig) (engine.Engine, error) {
	e, err := newEngine(ctx, tenantID, cfg)
	if err != nil {
		return nil, err
	}

	existing, err := b.txs.ListTransactions(ctx, tenantID, b.maxIndexed)
	if err != nil {
		_ = e.Teardown(ctx)
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if err := e.Index(ctx, existing); err != nil {
		_ = e.Teardown(ctx)
		return nil, err
	}
	e.log.Info().Int("transactions", len(existing)).Str("decode_model", cfg.DecodeModel).Msg("gemini engine ready")
	return e, nil
}
