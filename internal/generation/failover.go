package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
	"golang.org/x/sync/singleflight"
)

// FailoverConfig configures a FailoverManager.
type FailoverConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	WriteTimeout time.Duration
	// CallTimeout bounds one shared generation, which outlives any single
	// caller's cancellation.
	CallTimeout time.Duration
}

// DefaultCallTimeout bounds a shared generation when FailoverConfig.CallTimeout is unset.
const DefaultCallTimeout = 2 * time.Minute

// FailoverManager tries providers in order and caches successful responses.
type FailoverManager struct {
	providers []Provider
	cache     cache.Store
	config    FailoverConfig
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
	group     singleflight.Group
}

var _ Generator = (*FailoverManager)(nil)

// FailoverOption configures a FailoverManager.
type FailoverOption func(*FailoverManager)

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) FailoverOption {
	return func(m *FailoverManager) {
		m.recorder = r
	}
}

// WithClock overrides the time source used for cache freshness.
func WithClock(now func() time.Time) FailoverOption {
	return func(m *FailoverManager) {
		m.now = now
	}
}

// NewFailoverManager creates a FailoverManager. Provider order is failover order.
// A nil store disables caching regardless of cfg.CacheEnabled.
func NewFailoverManager(
	providers []Provider,
	store cache.Store,
	cfg FailoverConfig,
	logger *slog.Logger,
	opts ...FailoverOption,
) (*FailoverManager, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: at least one provider is required", ErrInvalidConfig)
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: provider %d is nil", ErrInvalidConfig, i)
		}
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if store == nil {
		cfg.CacheEnabled = false
	}

	m := &FailoverManager{
		providers: providers,
		cache:     store,
		config:    cfg,
		logger:    logger.With("component", "failover"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ProviderNames returns the configured providers in failover order.
func (m *FailoverManager) ProviderNames() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate returns a cached response when one is fresh, otherwise the first
// provider success. When every provider fails it falls back to a stale cached
// response, and only then returns a *ProvidersExhaustedError.
//
// Identical concurrent calls share one execution. It runs detached from
// every caller's cancellation, bounded by CallTimeout, so one caller giving
// up never fails the others; a cancelled caller returns its own ctx.Err().
func (m *FailoverManager) Generate(ctx context.Context, input string, maxOutput int) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	key := cache.ContentHash(cache.DomainGeneration, []byte(input))
	ch := m.group.DoChan(fmt.Sprintf("%s/%d", key, maxOutput), func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.CallTimeout)
		defer cancel()
		return m.generate(callCtx, key, input, maxOutput)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*Result)
		if res.Shared {
			m.logger.DebugContext(ctx, "shared in-flight generation", "cache_key", key)
		}
		return &result, nil
	}
}

func (m *FailoverManager) generate(ctx context.Context, key, input string, maxOutput int) (*Result, error) {
	var stale *cache.Artifact

	if m.config.CacheEnabled {
		artifact, err := m.cache.Get(ctx, key)
		switch {
		case err == nil && artifact.Fresh(m.now()):
			m.observeCache(CacheHit)
			m.logger.DebugContext(ctx, "generation cache hit",
				"cache_key", key,
				"provider", artifact.Provider)
			return &Result{
				Text:     string(artifact.Value),
				Provider: artifact.Provider,
				Cached:   true,
			}, nil
		case err == nil:
			stale = artifact
			m.observeCache(CacheMiss)
		case errors.Is(err, cache.ErrMiss):
			m.observeCache(CacheMiss)
		default:
			m.observeCache(CacheError)
			m.logger.WarnContext(ctx, "generation cache lookup failed",
				"cache_key", key,
				"error", err)
		}
	}

	failures := make([]ProviderFailure, 0, len(m.providers))
	for _, provider := range m.providers {
		name := provider.Name()

		if err := ctx.Err(); err != nil {
			failures = append(failures, ProviderFailure{Provider: name, Err: err})
			break
		}

		if !provider.IsAvailable(ctx) {
			m.logger.InfoContext(ctx, "skipping unavailable provider", "provider", name)
			failures = append(failures, ProviderFailure{Provider: name, Err: ErrProviderUnavailable})
			continue
		}

		start := time.Now()
		out, err := provider.Generate(ctx, input, maxOutput)
		if m.recorder != nil {
			m.recorder.ObserveProviderCall(name, time.Since(start), err)
		}
		if err != nil {
			m.logger.WarnContext(ctx, "provider failed, trying next",
				"provider", name,
				"error", err)
			failures = append(failures, ProviderFailure{Provider: name, Err: err})
			continue
		}

		if m.config.CacheEnabled {
			// A failed write is already logged; the response is still good.
			_ = cache.WriteThrough(ctx, m.cache, &cache.Artifact{
				Key:      key,
				Value:    []byte(out.Text),
				Provider: name,
			}, m.config.CacheTTL, m.config.WriteTimeout, m.logger)
		}

		return &Result{
			Text:     out.Text,
			Usage:    out.Usage,
			Provider: name,
		}, nil
	}

	if m.config.CacheEnabled {
		if stale == nil {
			artifact, err := m.cache.Get(context.WithoutCancel(ctx), key)
			if err == nil {
				stale = artifact
			}
		}
		if stale != nil {
			m.observeCache(CacheStale)
			m.logger.WarnContext(ctx, "all providers failed, serving stale cached response",
				"cache_key", key,
				"provider", stale.Provider,
				"expired_at", stale.ExpiresAt)
			return &Result{
				Text:     string(stale.Value),
				Provider: stale.Provider,
				Cached:   true,
				Stale:    true,
			}, nil
		}
	}

	m.logger.ErrorContext(ctx, "all providers failed", "providers", len(failures))
	return nil, &ProvidersExhaustedError{Failures: failures}
}

func (m *FailoverManager) observeCache(outcome string) {
	if m.recorder != nil {
		m.recorder.ObserveCacheLookup("generation", outcome)
	}
}
