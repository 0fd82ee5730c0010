// Package engine defines the per-tenant retrieval/generation engine, the factory that builds it
// and the cache that owns live instances.
package engine

import (
	"context"
	"strings"
	"sync"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/store"
)

// Document is an uploaded file handed to an engine for extraction
type Document struct {
	FileID      string
	Filename    string
	Kind        string // store.FileKindCSV or store.FileKindBill
	ContentType string
	Content     []byte
}

// Engine is a tenant-scoped pipeline over that tenant's financial data. Instances are expensive
// and are owned by a Cache; callers must not call Teardown themselves.
type Engine interface {
	// Ask answers a question using the tenant's indexed transactions and prior conversation
	Ask(ctx context.Context, question string, history []store.Message) (string, error)
	// Extract reads transactions out of an uploaded document. Returned records carry no hash or id.
	Extract(ctx context.Context, doc Document) ([]store.Transaction, error)
	// Index makes stored transactions available to Ask
	Index(ctx context.Context, txs []store.Transaction) error
	// Teardown releases the engine's resources
	Teardown(ctx context.Context) error
}

// Factory builds an engine for a tenant from its configuration
type Factory interface {
	Build(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error)

func (f FactoryFunc) Build(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error) {
	return f(ctx, tenantID, cfg)
}

// ValidateConfig reports a configuration error for an incomplete or unknown-provider config
func ValidateConfig(cfg store.EngineConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.Provider) == "" {
		missing = append(missing, "llm_provider")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(cfg.DecodeModel) == "" {
		missing = append(missing, "decode_model")
	}
	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		missing = append(missing, "embedding_model")
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.KindConfiguration, "account configuration incomplete: missing %s", strings.Join(missing, ", "))
	}

	switch cfg.Provider {
	case store.ProviderGoogle, store.ProviderOpenAI:
		return nil
	}
	return apperr.Newf(apperr.KindConfiguration, "unknown llm provider %q", cfg.Provider)
}

// Registry is a Factory dispatching on EngineConfig.Provider
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Factory)}
}

// Register installs the builder for a provider, replacing any previous one
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[provider] = f
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for p := range r.builders {
		out = append(out, p)
	}
	return out
}

// Build validates cfg and delegates to the provider's builder. Builder failures that are not
// already classified become construction errors.
func (r *Registry) Build(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	r.mu.RLock()
	f, ok := r.builders[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.KindConfiguration, "provider not supported: %s", cfg.Provider)
	}

	e, err := f.Build(ctx, tenantID, cfg)
	if err != nil {
		if _, classified := apperr.As(err); classified {
			return nil, err
		}
		return nil, apperr.Wrapf(err, apperr.KindConstruction, "failed to build %s engine", cfg.Provider)
	}
	return e, nil
}
