package core

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/ledger"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

const (
	DefaultCategory          = "Uncategorized"
	DefaultTransactionsLimit = 100
	MaxTransactionsLimit     = 1000
)

// NewTransaction is a manually entered transaction
type NewTransaction struct {
	Description  string
	Amount       decimal.Decimal
	TransDate    time.Time
	Category     string
	MerchantName string
}

type TransactionService struct {
	txs     store.TransactionStore
	ledger  *ledger.Deduplicator
	engines EngineCache
}

func NewTransactionService(txs store.TransactionStore, dedup *ledger.Deduplicator, engines EngineCache) *TransactionService {
	return &TransactionService{txs: txs, ledger: dedup, engines: engines}
}

// Create stores a manual transaction through the deduplicator. A live engine picks it up
// immediately; otherwise it is indexed when the engine is next built.
func (s *TransactionService) Create(ctx context.Context, tenantID string, in NewTransaction) (*store.Transaction, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperr.New(apperr.KindValidation, "description is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "amount must be greater than 0")
	}
	if in.TransDate.IsZero() {
		return nil, apperr.New(apperr.KindValidation, "trans_date is required")
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = DefaultCategory
	}
	merchant := strings.TrimSpace(in.MerchantName)
	if merchant == "" {
		merchant = description
	}

	stored, err := s.ledger.Upsert(ctx, tenantID, store.Transaction{
		Description:  description,
		Amount:       in.Amount,
		TransDate:    in.TransDate,
		Category:     category,
		MerchantName: merchant,
		Source:       store.SourceManual,
	})
	if err != nil {
		return nil, err
	}

	if eng, ok := s.engines.Peek(tenantID); ok {
		if err := eng.Index(ctx, []store.Transaction{*stored}); err != nil {
			logger.C(ctx).Warn().Err(err).Str("transaction_id", stored.ID).Msg("failed to index manual transaction")
		}
	}
	return stored, nil
}

func (s *TransactionService) List(ctx context.Context, tenantID string, limit int) ([]store.Transaction, error) {
	if limit <= 0 {
		limit = DefaultTransactionsLimit
	}
	limit = min(limit, MaxTransactionsLimit)

	txs, err := s.txs.ListTransactions(ctx, tenantID, limit)
	if err != nil {
		return nil, classifyStore(err, "failed to load transactions")
	}
	return txs, nil
}
