package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/performance"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Cache is the persistence capability the resolver needs; the session store
// satisfies it.
type Cache interface {
	CachedGeo() *visitor.GeoInfo
	SaveGeo(geo *visitor.GeoInfo)
}

// Resolver walks the provider chain, caching the first usable answer for the
// configured TTL. A provider that keeps failing trips its circuit breaker and
// is skipped without burning its timeout on every resolve.
type Resolver struct {
	providers       []Provider
	breakers        map[string]*gobreaker.CircuitBreaker[*visitor.GeoInfo]
	cache           Cache
	client          *http.Client
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
	cacheTTL        time.Duration
	providerTimeout time.Duration
}

// NewResolver creates a resolver over the given provider chain.
func NewResolver(providers []Provider, cache Cache, cacheTTL, providerTimeout time.Duration, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Resolver {
	breakers := make(map[string]*gobreaker.CircuitBreaker[*visitor.GeoInfo], len(providers))
	for _, p := range providers {
		name := p.Name
		breakers[name] = gobreaker.NewCircuitBreaker[*visitor.GeoInfo](gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Geo().Warn("Provider breaker state changed",
					"provider", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return &Resolver{
		providers:       providers,
		breakers:        breakers,
		cache:           cache,
		client:          &http.Client{Timeout: providerTimeout},
		logger:          logger,
		perfTracker:     perfTracker,
		cacheTTL:        cacheTTL,
		providerTimeout: providerTimeout,
	}
}

// Resolve returns cached metadata when fresh, otherwise walks the provider
// chain. It never fails: when every provider is down it returns the sentinel
// GeoInfo, which is deliberately not cached so the next flush retries.
func (r *Resolver) Resolve(ctx context.Context) *visitor.GeoInfo {
	if cached := r.cache.CachedGeo(); cached != nil {
		if !cached.IsSentinel() && time.Since(cached.ResolvedAt) < r.cacheTTL {
			return cached
		}
	}

	marker := r.perfTracker.StartOperation("geo_resolve")
	defer marker.Complete()

	for _, provider := range r.providers {
		breaker := r.breakers[provider.Name]

		info, err := breaker.Execute(func() (*visitor.GeoInfo, error) {
			return r.fetch(ctx, provider)
		})
		if err != nil {
			r.logger.Geo().Debug("Provider failed, trying next",
				"provider", provider.Name, "error", err.Error())
			continue
		}

		info.ResolvedAt = time.Now().UTC()
		r.cache.SaveGeo(info)
		r.logger.Geo().Info("Geo resolved",
			"provider", provider.Name, "country", info.Country, "city", info.City)
		return info
	}

	r.logger.Geo().Warn("All geo providers failed, using sentinel")
	return visitor.SentinelGeoInfo()
}

func (r *Resolver) fetch(ctx context.Context, provider Provider) (*visitor.GeoInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, provider.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", provider.Name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", provider.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", provider.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider.Name, err)
	}

	info, err := provider.Map(body)
	if err != nil {
		return nil, err
	}
	if !UsableIP(info.IP) {
		return nil, fmt.Errorf("%s returned no usable address", provider.Name)
	}
	return info, nil
}
