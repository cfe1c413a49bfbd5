package embedding

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GatewayConfig bounds calls into a provider.
type GatewayConfig struct {
	// RequestsPerSecond is the maximum dispatch rate; zero or less means unlimited.
	RequestsPerSecond float64
	// MaxConcurrency is the maximum number of in-flight provider calls.
	MaxConcurrency int
	// MaxOverloadRetries is how often an overloaded request is requeued before failing.
	MaxOverloadRetries int
	// QueryCacheSize is the capacity of the query embedding cache.
	QueryCacheSize int
}

// GatewayStats are cumulative counters.
type GatewayStats struct {
	Dispatched int64 `json:"dispatched"`
	Retried    int64 `json:"retried"`
	Failed     int64 `json:"failed"`
	CacheHits  int64 `json:"cache_hits"`
}

// Gateway paces and bounds calls into a Provider and applies the retry policy.
// Waiting callers are served in arrival order; after an idle period the next
// call dispatches immediately.
type Gateway struct {
	provider   Provider
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	cache      *QueryCache
	maxRetries int
	logger     *zap.Logger

	dispatched atomic.Int64
	retried    atomic.Int64
	failed     atomic.Int64
	cacheHits  atomic.Int64
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway wraps p.
func NewGateway(p Provider, cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxOverloadRetries < 0 {
		cfg.MaxOverloadRetries = 0
	}
	g := &Gateway{
		provider:   p,
		limiter:    rate.NewLimiter(limit, 1),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		cache:      NewQueryCache(cfg.QueryCacheSize),
		maxRetries: cfg.MaxOverloadRetries,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Identity returns the provider identity.
func (g *Gateway) Identity() ProviderIdentity {
	return g.provider.Identity()
}

// Stats returns a copy of the counters.
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		Dispatched: g.dispatched.Load(),
		Retried:    g.retried.Load(),
		Failed:     g.failed.Load(),
		CacheHits:  g.cacheHits.Load(),
	}
}

// Close closes the provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}

func (g *Gateway) dispatch(ctx context.Context, text string) ([]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	g.dispatched.Add(1)
	return g.provider.Embed(ctx, text)
}

// Embed embeds text. An input reported too long is retried once, truncated in
// proportion to the reported limit; an overloaded request waits its turn again
// up to MaxOverloadRetries times. Other failures are returned as *EmbeddingError.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	input := text
	truncated := false
	overloads := 0
	for {
		vec, err := g.dispatch(ctx, input)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, &EmbeddingError{Err: err}
		}

		var tooLong *TooLongError
		switch {
		case errors.As(err, &tooLong) && !truncated:
			if next, ok := truncateProportional(input, tooLong); ok {
				g.logger.Debug("retrying truncated input",
					zap.Int("from_runes", len([]rune(input))),
					zap.Int("to_runes", len([]rune(next))))
				input, truncated = next, true
				g.retried.Add(1)
				continue
			}
		case errors.Is(err, ErrOverloaded) && overloads < g.maxRetries:
			overloads++
			g.logger.Debug("provider overloaded, requeueing", zap.Int("attempt", overloads))
			g.retried.Add(1)
			continue
		}
		g.failed.Add(1)
		return nil, &EmbeddingError{Err: err}
	}
}

// EmbedQuery embeds a query text, serving repeated queries from the cache.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	id := g.provider.Identity()
	if vec, ok := g.cache.Get(id, text); ok {
		g.cacheHits.Add(1)
		return vec, nil
	}
	vec, err := g.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	g.cache.Add(id, text, vec)
	return vec, nil
}

// truncateProportional shortens s to len(s)*Limit/Actual runes, always at least one rune shorter.
func truncateProportional(s string, e *TooLongError) (string, bool) {
	runes := []rune(s)
	n := len(runes)
	target := n / 2
	if e.Limit > 0 && e.Actual > 0 {
		target = int(int64(n) * int64(e.Limit) / int64(e.Actual))
	}
	if target >= n {
		target = n - 1
	}
	if target < 1 {
		return "", false
	}
	return string(runes[:target]), true
}
