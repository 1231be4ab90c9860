package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-atlas/internal/metrics"
)

// CatalogLoader fetches catalogs into a store. Every request carries a
// generation number; only the response to the most recent request is
// applied.
type CatalogLoader struct {
	fetcher Fetcher
	store   *CatalogStore
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	gen    uint64
	onLoad func(Catalog)
}

// NewCatalogLoader creates a loader writing into store.
func NewCatalogLoader(fetcher Fetcher, store *CatalogStore, logger zerolog.Logger, m *metrics.Metrics) *CatalogLoader {
	return &CatalogLoader{fetcher: fetcher, store: store, logger: logger, metrics: m}
}

// Load fetches the catalog for scope/locale. On failure the store keeps
// its previous contents and is flagged with an error. If a newer Load was
// started while this one was in flight, the response is dropped and
// ErrStaleResponse is returned.
func (l *CatalogLoader) Load(ctx context.Context, scope, locale string) (Catalog, error) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	l.store.MarkLoading()
	c, err := l.fetcher.Fetch(ctx, scope, locale)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		l.metrics.IncCatalogStale()
		l.logger.Debug().
			Uint64("generation", gen).
			Uint64("latest", l.gen).
			Msg("discarding stale catalog response")
		return Catalog{}, ErrStaleResponse
	}
	if err != nil {
		l.store.MarkFailed()
		l.metrics.IncCatalogLoad("error")
		l.logger.Warn().Err(err).
			Str("site_scope", scope).
			Str("locale", locale).
			Msg("catalog fetch failed")
		return Catalog{}, fmt.Errorf("loading catalog: %w", err)
	}

	l.store.Replace(c, scope, locale)
	if l.onLoad != nil {
		l.onLoad(c)
	}
	l.metrics.IncCatalogLoad("ok")
	return c, nil
}

// OnLoad registers fn to run after each applied catalog, while no other
// response can be applied.
func (l *CatalogLoader) OnLoad(fn func(Catalog)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLoad = fn
}

// Store returns the store this loader writes into.
func (l *CatalogLoader) Store() *CatalogStore {
	return l.store
}
