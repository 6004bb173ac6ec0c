package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNoProvider is returned when the router has nothing registered.
var ErrNoProvider = errors.New("no provider available")

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `json:"max_failures"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultBreakerConfig trips after 3 consecutive failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second}
}

// Router manages multiple LLM providers and routes requests.
// Each provider sits behind its own circuit breaker; when the default
// provider fails the fallback chain is tried in order.
type Router struct {
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	fallbacks []string
	defaults  string
	breaker   BreakerConfig
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(cfg BreakerConfig, logger *zap.Logger) *Router {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultBreakerConfig().Timeout
	}
	return &Router{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		breaker:   cfg,
		logger:    logger,
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	r.breakers[p.ID()] = r.newBreaker(p.ID())
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

func (r *Router) newBreaker(id string) *gobreaker.CircuitBreaker {
	maxFailures := r.breaker.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider:" + id,
		MaxRequests: 1,
		Timeout:     r.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("provider breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetFallbacks configures the fallback chain tried after the default fails.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = providerIDs
}

// Chat sends a chat request through the default provider, falling back on failure.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	chain := make([]string, 0, len(r.fallbacks)+1)
	if r.defaults != "" {
		chain = append(chain, r.defaults)
	}
	for _, id := range r.fallbacks {
		if id != r.defaults {
			chain = append(chain, id)
		}
	}
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, ErrNoProvider
	}

	// A pinned model belongs to the default provider; fallbacks use their own.
	fallbackReq := *req
	fallbackReq.Model = ""

	var lastErr error
	for i, id := range chain {
		p, cb, ok := r.lookup(id)
		if !ok {
			continue
		}
		call := req
		if i > 0 {
			call = &fallbackReq
		}
		out, err := cb.Execute(func() (interface{}, error) {
			return p.Chat(ctx, call)
		})
		if err == nil {
			return out.(*ChatResponse), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("provider failed", zap.String("provider", id), zap.Error(err))
	}
	if lastErr == nil {
		return nil, ErrNoProvider
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (r *Router) lookup(id string) (Provider, *gobreaker.CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, nil, false
	}
	return p, r.breakers[id], true
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
