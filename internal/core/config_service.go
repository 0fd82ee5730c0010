package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

// ConfigGateway reads and writes per-tenant engine configuration
type ConfigGateway interface {
	GetConfig(ctx context.Context, tenantID string) (*store.EngineConfig, error)
	UpsertConfig(ctx context.Context, tenantID string, cfg store.EngineConfig) (*store.EngineConfig, error)
}

// EngineCache is the part of engine.Cache the services use
type EngineCache interface {
	GetOrCreate(ctx context.Context, tenantID string, cfg store.EngineConfig) (engine.Engine, error)
	Peek(tenantID string) (engine.Engine, bool)
	Invalidate(ctx context.Context, tenantID string)
}

// ConfigService owns tenant configuration and hands out the engine built from it
type ConfigService struct {
	gateway ConfigGateway
	cache   EngineCache
	log     *zerolog.Logger
}

func NewConfigService(gateway ConfigGateway, cache EngineCache) *ConfigService {
	return &ConfigService{gateway: gateway, cache: cache, log: logger.Named("config_service")}
}

// Get returns the tenant's configuration, or nil when none is saved
func (s *ConfigService) Get(ctx context.Context, tenantID string) (*store.EngineConfig, error) {
	cfg, err := s.gateway.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, classifyStore(err, "failed to load config")
	}
	return cfg, nil
}

// Require is Get that treats a missing configuration as a configuration error
func (s *ConfigService) Require(ctx context.Context, tenantID string) (store.EngineConfig, error) {
	cfg, err := s.Get(ctx, tenantID)
	if err != nil {
		return store.EngineConfig{}, err
	}
	if cfg == nil {
		return store.EngineConfig{}, apperr.New(apperr.KindConfiguration, "account configuration not found; save your provider settings first")
	}
	return *cfg, nil
}

// Put saves cfg and drops the tenant's cached engine so the next use builds from cfg
func (s *ConfigService) Put(ctx context.Context, tenantID string, cfg store.EngineConfig) (*store.EngineConfig, error) {
	if err := engine.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	saved, err := s.gateway.UpsertConfig(ctx, tenantID, cfg)
	if err != nil {
		return nil, classifyStore(err, "failed to save config")
	}

	s.cache.Invalidate(ctx, tenantID)
	logger.C(ctx).Info().Str("provider", cfg.Provider).Str("decode_model", cfg.DecodeModel).
		Msg("config updated and engine invalidated")
	return saved, nil
}

// Engine returns the tenant's engine, building it from the saved configuration on a miss. When a
// config change invalidates the engine mid-build, the configuration is read again and the build
// retried once.
func (s *ConfigService) Engine(ctx context.Context, tenantID string) (engine.Engine, error) {
	for attempt := 0; ; attempt++ {
		cfg, err := s.Require(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		eng, err := s.cache.GetOrCreate(ctx, tenantID, cfg)
		if errors.Is(err, engine.ErrInvalidated) && attempt == 0 {
			logger.C(ctx).Debug().Msg("engine invalidated during build, reloading config")
			continue
		}
		return eng, err
	}
}

// Invalidate drops the tenant's engine; the next use rebuilds it from the store
func (s *ConfigService) Invalidate(ctx context.Context, tenantID string) {
	s.cache.Invalidate(ctx, tenantID)
}

// classifyStore keeps an existing classification and marks anything else as a store failure
func classifyStore(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Wrap(err, apperr.KindStore, msg)
}
