package spsp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// spspAccept is the SPSP4 media type; it is forced onto upstream requests
// so a plain GET against the proxy still performs an SPSP query.
const spspAccept = "application/spsp4+json"

// Proxy reverse-proxies SPSP queries to registered endpoints. Endpoint
// URLs are cached per hash in an in-process map on the hot path; Delete
// invalidates the local entry and a periodic SweepCache clears the whole
// map so deletions made by other instances converge too.
type Proxy struct {
	registry *Registry
	cache    *xsync.Map[string, string]
	logger   *zap.Logger
}

// NewProxy returns a Proxy resolving endpoints through registry.
func NewProxy(registry *Registry, logger *zap.Logger) *Proxy {
	return &Proxy{
		registry: registry,
		cache:    xsync.NewMap[string, string](),
		logger:   logger,
	}
}

// Resolve returns the endpoint URL for hash, consulting the local cache
// before the registry.
func (p *Proxy) Resolve(ctx context.Context, hash string) (string, error) {
	if endpoint, ok := p.cache.Load(hash); ok {
		return endpoint, nil
	}
	endpoint, err := p.registry.Lookup(ctx, hash)
	if err != nil {
		return "", err
	}
	p.cache.Store(hash, endpoint)
	return endpoint, nil
}

// Invalidate drops the cached endpoint for hash. Called after Delete.
func (p *Proxy) Invalidate(hash string) {
	p.cache.Delete(hash)
}

// SweepCache clears the whole endpoint cache. Run from the scheduler so
// mappings deleted on other instances stop being served within one sweep
// interval.
func (p *Proxy) SweepCache() {
	p.cache.Clear()
}

// ServeQuery proxies an SPSP query for hash to its registered endpoint.
func (p *Proxy) ServeQuery(w http.ResponseWriter, r *http.Request, hash string) {
	endpoint, err := p.Resolve(r.Context(), hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "unknown payment pointer", http.StatusNotFound)
			return
		}
		p.logger.Error("SPSP endpoint resolution failed",
			zap.String("hash", hash),
			zap.Error(err))
		http.Error(w, "upstream resolution failed", http.StatusBadGateway)
		return
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		p.logger.Error("Registered endpoint is not a valid URL",
			zap.String("hash", hash),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		http.Error(w, "bad upstream endpoint", http.StatusBadGateway)
		return
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = target.Host
			pr.Out.Header.Set("Accept", spspAccept)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("SPSP upstream query failed",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	rp.ServeHTTP(w, r)
}
