package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/metrics"
	"moneyrag.io/backend/internal/store"
)

// DefaultTeardownTimeout bounds a teardown when WithTeardownTimeout is not given
const DefaultTeardownTimeout = 10 * time.Second

var (
	// ErrInvalidated is returned to callers whose build or wait was overtaken by Invalidate. The
	// configuration they passed may be stale, so they must reload it before trying again.
	ErrInvalidated = apperr.New(apperr.KindUnavailable, "engine was invalidated while it was being built")

	// ErrClosed is returned once CleanupAll has started
	ErrClosed = apperr.New(apperr.KindUnavailable, "engine cache is closed")
)

// slot holds one tenant's engine. lock is a single-holder lock that waiters can abandon when
// their context ends. A dead slot has been detached from the cache and must not be reused;
// invalidated tells an Invalidate apart from a failed build.
type slot struct {
	lock        chan struct{}
	inst        Engine
	dead        atomic.Bool
	invalidated atomic.Bool
}

func newSlot() *slot {
	return &slot{lock: make(chan struct{}, 1)}
}

func (s *slot) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) release() { <-s.lock }

// Cache owns the tenant -> engine mapping. Construction is serialized per tenant; the map lock is
// never held while an engine is built or torn down.
type Cache struct {
	factory         Factory
	teardownTimeout time.Duration
	log             *zerolog.Logger
	metrics         *metrics.Metrics

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
}

// Option configures a Cache
type Option func(*Cache)

// WithTeardownTimeout bounds each engine teardown
func WithTeardownTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.teardownTimeout = d
		}
	}
}

// WithLogger replaces the default engine_cache logger
func WithLogger(l *zerolog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(factory Factory, opts ...Option) *Cache {
	c := &Cache{
		factory:         factory,
		teardownTimeout: DefaultTeardownTimeout,
		log:             logger.Named("engine_cache"),
		slots:           make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len is the number of tenants with a cached or in-flight engine
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *Cache) slotFor(tenantID string) (*slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s, ok := c.slots[tenantID]
	if !ok {
		s = newSlot()
		c.slots[tenantID] = s
	}
	return s, nil
}

// detach removes the tenant's slot from the map and marks it dead
func (c *Cache) detach(tenantID string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[tenantID]
	if !ok {
		return nil
	}
	delete(c.slots, tenantID)
	s.invalidated.Store(true)
	s.dead.Store(true)
	return s
}

// detachIf removes s only if it is still the tenant's current slot
func (c *Cache) detachIf(tenantID string, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[tenantID] == s {
		delete(c.slots, tenantID)
	}
	s.dead.Store(true)
}

// GetOrCreate returns the tenant's engine, building it from cfg on a miss. Concurrent callers for
// the same tenant share one construction. A cached engine is returned as is; configuration
// changes must go through Invalidate. Nothing is cached when construction fails. A caller whose
// build or wait is overtaken by Invalidate gets ErrInvalidated and never a rebuild from cfg.
func (c *Cache) GetOrCreate(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error) {
	if tenantID == "" {
		return nil, apperr.New(apperr.KindAuthentication, "missing tenant")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	for {
		s, err := c.slotFor(tenantID)
		if err != nil {
			return nil, err
		}
		if err := s.acquire(ctx); err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "gave up waiting for engine")
		}
		if s.dead.Load() {
			invalidated := s.invalidated.Load()
			s.release()
			if invalidated {
				return nil, ErrInvalidated
			}
			// the previous build failed; try again with our own cfg
			continue
		}
		if s.inst != nil {
			inst := s.inst
			s.release()
			c.metrics.RecordCacheLookup(true)
			return inst, nil
		}

		c.metrics.RecordCacheLookup(false)
		inst, err := c.build(ctx, tenantID, cfg)
		if err != nil {
			c.detachIf(tenantID, s)
			s.release()
			c.metrics.SetLiveEngines(c.Len())
			return nil, err
		}
		s.inst = inst
		invalidated := s.dead.Load()
		s.release()
		c.metrics.SetLiveEngines(c.Len())
		if invalidated {
			// Invalidate ran while we were building and now owns inst
			return nil, ErrInvalidated
		}
		return inst, nil
	}
}

// Peek returns the tenant's engine only if one is cached and not being built or torn down.
// It never blocks and never builds.
func (c *Cache) Peek(tenantID string) (Engine, bool) {
	c.mu.Lock()
	s, ok := c.slots[tenantID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case s.lock <- struct{}{}:
	default:
		return nil, false
	}
	inst := s.inst
	dead := s.dead.Load()
	s.release()
	if dead || inst == nil {
		return nil, false
	}
	return inst, true
}

func (c *Cache) build(ctx context.Context, tenantID string, cfg store.EngineConfig) (Engine, error) {
	start := time.Now()
	inst, err := c.factory.Build(ctx, tenantID, cfg)
	c.metrics.RecordEngineBuild(cfg.Provider, time.Since(start), err)
	if err != nil {
		c.log.Warn().Err(err).Str("tenant_id", tenantID).Str("provider", cfg.Provider).Msg("engine construction failed")
		if _, classified := apperr.As(err); classified {
			return nil, err
		}
		return nil, apperr.Wrap(err, apperr.KindConstruction, "failed to build engine")
	}
	if inst == nil {
		return nil, apperr.New(apperr.KindConstruction, "factory returned no engine")
	}
	c.log.Info().Str("tenant_id", tenantID).Str("provider", cfg.Provider).
		Str("decode_model", cfg.DecodeModel).Dur("elapsed", time.Since(start)).Msg("engine built")
	return inst, nil
}

// Invalidate drops the tenant's engine and tears it down. The entry is always removed; teardown
// failures are logged, never returned.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) {
	_ = c.invalidate(ctx, tenantID)
}

func (c *Cache) invalidate(ctx context.Context, tenantID string) error {
	s := c.detach(tenantID)
	if s == nil {
		return nil
	}
	c.metrics.SetLiveEngines(c.Len())

	if err := s.acquire(ctx); err != nil {
		// A construction is still running. Whatever it produces belongs to this dead slot, so
		// finish the retirement in the background.
		go func() {
			bg := context.WithoutCancel(ctx)
			if err := s.acquire(bg); err == nil {
				_ = c.retire(bg, tenantID, s)
			}
		}()
		return apperr.Wrapf(err, apperr.KindTeardown, "teardown of engine for tenant %s deferred", tenantID)
	}
	return c.retire(ctx, tenantID, s)
}

// retire takes the instance out of a held, dead slot, releases it and tears the instance down
func (c *Cache) retire(ctx context.Context, tenantID string, s *slot) error {
	inst := s.inst
	s.inst = nil
	s.release()
	if inst == nil {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, c.teardownTimeout)
	defer cancel()

	err := inst.Teardown(tctx)
	c.metrics.RecordEngineTeardown(err)
	if err != nil {
		c.log.Error().Err(err).Str("tenant_id", tenantID).Msg("engine teardown failed")
		return apperr.Wrapf(err, apperr.KindTeardown, "teardown of engine for tenant %s failed", tenantID)
	}
	c.log.Debug().Str("tenant_id", tenantID).Msg("engine torn down")
	return nil
}

// CleanupAll invalidates every cached tenant in parallel. It is meant to run once at shutdown.
// All teardowns are attempted; their failures are returned joined. The cache is empty afterwards
// and refuses new engines with ErrClosed.
func (c *Cache) CleanupAll(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	tenants := make([]string, 0, len(c.slots))
	for t := range c.slots {
		tenants = append(tenants, t)
	}
	c.mu.Unlock()

	var (
		mu       sync.Mutex
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, tenantID := range tenants {
		g.Go(func() error {
			if err := c.invalidate(gctx, tenantID); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.log.Info().Int("engines", len(tenants)).Int("failures", len(failures)).Msg("engine cache cleaned up")
	return errors.Join(failures...)
}
