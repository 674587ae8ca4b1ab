package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Monthlyaway/linktrack/internal/filter"
	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"go.uber.org/zap"
)

// RecordCache is a best-effort record cache. Get returns nil, nil on a miss.
type RecordCache interface {
	Get(ctx context.Context, shortCode string) (*model.URLRecord, error)
	Set(ctx context.Context, rec *model.URLRecord, ttl time.Duration) error
	Delete(ctx context.Context, shortCode string) error
}

// codeLister is implemented by stores able to enumerate every stored code
type codeLister interface {
	ShortCodes(ctx context.Context) ([]string, error)
}

// CachedStore puts a bloom filter and a record cache in front of a Store.
//
// Lookups consult the filter, then the cache, then the inner store. Writes go
// to the inner store first and refresh the cache while holding the code's lock,
// so the cache never moves backwards. Cache failures are logged and never
// surface to callers. A code whose cached copy could not be evicted is marked
// stale and bypasses the cache until a later write or eviction succeeds.
type CachedStore struct {
	inner   Store
	cache   RecordCache
	codes   *filter.CodeFilter
	locks   *keyLocks
	clock   utils.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	staleMu sync.RWMutex
	stale   map[string]struct{}
}

// NewCachedStore wraps inner. Call Warm before serving traffic.
func NewCachedStore(inner Store, cache RecordCache, codes *filter.CodeFilter, clock utils.Clock, m *metrics.Metrics, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		inner:   inner,
		cache:   cache,
		codes:   codes,
		locks:   newKeyLocks(),
		clock:   clock,
		metrics: m,
		logger:  logger.Named("cache"),
		stale:   make(map[string]struct{}),
	}
}

// Warm loads every stored code into the bloom filter
func (s *CachedStore) Warm(ctx context.Context) (int, error) {
	var codes []string
	if l, ok := s.inner.(codeLister); ok {
		var err error
		if codes, err = l.ShortCodes(ctx); err != nil {
			return 0, err
		}
	} else {
		recs, err := s.inner.List(ctx, ListOptions{})
		if err != nil {
			return 0, err
		}
		for _, rec := range recs {
			codes = append(codes, rec.ShortCode)
		}
	}
	s.codes.Remember(codes...)
	if s.codes.Saturated() {
		s.logger.Warn("bloom filter over capacity, false positives will rise",
			zap.Int("codes", len(codes)),
			zap.Uint32("estimate", s.codes.Estimate()),
		)
	}
	return len(codes), nil
}

func (s *CachedStore) Create(ctx context.Context, rec *model.URLRecord) error {
	release, err := s.locks.acquire(ctx, rec.ShortCode)
	if err != nil {
		return err
	}
	defer release()

	if err := s.inner.Create(ctx, rec); err != nil {
		return err
	}
	s.codes.Remember(rec.ShortCode)
	s.fill(ctx, rec)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, shortCode string) (*model.URLRecord, error) {
	if err := checkCtx(ctx, "get "+shortCode); err != nil {
		return nil, err
	}
	if !s.codes.MayExist(shortCode) {
		s.metrics.CacheLookupsTotal.WithLabelValues("filtered").Inc()
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, shortCode)
	}

	var cached *model.URLRecord
	var err error
	if !s.isStale(shortCode) {
		cached, err = s.cache.Get(ctx, shortCode)
	}
	switch {
	case err != nil:
		s.cacheError("get", shortCode, err)
	case cached != nil:
		if cached.IsExpired(s.clock.Now()) {
			s.metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			return nil, fmt.Errorf("%w: %s", model.ErrExpired, shortCode)
		}
		if err := cached.Verify(); err == nil {
			s.metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		s.invalidate(ctx, shortCode)
	}
	s.metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.inner.Get(ctx, shortCode)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.invalidate(ctx, shortCode)
		}
		return nil, err
	}
	s.fill(ctx, rec)
	return rec, nil
}

func (s *CachedStore) Update(ctx context.Context, shortCode string, fn Mutator) (*model.URLRecord, error) {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.inner.Update(ctx, shortCode, fn)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, rec)
	return rec, nil
}

func (s *CachedStore) List(ctx context.Context, opts ListOptions) ([]*model.URLRecord, error) {
	return s.inner.List(ctx, opts)
}

func (s *CachedStore) Delete(ctx context.Context, shortCode string) error {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return err
	}
	defer release()

	if err := s.inner.Delete(ctx, shortCode); err != nil {
		return err
	}
	s.invalidate(ctx, shortCode)
	return nil
}

// DeleteExpired sweeps the inner store. Cached copies expire through their TTL
// and are rejected on read once past their expiry.
func (s *CachedStore) DeleteExpired(ctx context.Context) (int, error) {
	return s.inner.DeleteExpired(ctx)
}

// fill caches rec until its expiry
func (s *CachedStore) fill(ctx context.Context, rec *model.URLRecord) {
	ttl := rec.ExpiresAt.Sub(s.clock.Now())
	if err := s.cache.Set(ctx, rec, ttl); err != nil {
		s.cacheError("set", rec.ShortCode, err)
		// a stale entry must not outlive a failed refresh
		s.invalidate(ctx, rec.ShortCode)
		return
	}
	s.setStale(rec.ShortCode, false)
}

func (s *CachedStore) invalidate(ctx context.Context, shortCode string) {
	if err := s.cache.Delete(ctx, shortCode); err != nil {
		s.cacheError("delete", shortCode, err)
		s.setStale(shortCode, true)
		return
	}
	s.setStale(shortCode, false)
}

func (s *CachedStore) isStale(shortCode string) bool {
	s.staleMu.RLock()
	defer s.staleMu.RUnlock()
	_, ok := s.stale[shortCode]
	return ok
}

func (s *CachedStore) setStale(shortCode string, stale bool) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if stale {
		s.stale[shortCode] = struct{}{}
	} else {
		delete(s.stale, shortCode)
	}
}

func (s *CachedStore) cacheError(op, shortCode string, err error) {
	s.metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	s.logger.Warn("cache operation failed",
		zap.String("operation", op),
		zap.String("short_code", shortCode),
		zap.Error(err),
	)
}
