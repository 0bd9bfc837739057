package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/cache"
	"github.com/BaSui01/nodeflow/workflow"
)

const cacheType = "workflow"

// CacheRecorder receives cache hit/miss counts. metrics.Collector implements it.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedStore puts a Redis read-through cache in front of another Store.
// Writes go to the backing store first and then evict the cached copy and
// the cached list. Cache failures are logged and never fail a request.
type CachedStore struct {
	Store
	cache   *cache.Manager
	ttl     time.Duration
	metrics CacheRecorder
	logger  *zap.Logger
}

// NewCachedStore wraps backing. A zero ttl uses the cache manager's default.
func NewCachedStore(backing Store, manager *cache.Manager, ttl time.Duration, metrics CacheRecorder, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:   backing,
		cache:   manager,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "cached_store")),
	}
}

const listKey = "workflows"

func cacheKey(id string) string { return "workflow:" + id }

// GetWorkflowByID serves from the cache, falling back to the backing store.
// Concurrent misses for the same id load it once.
func (s *CachedStore) GetWorkflowByID(ctx context.Context, id string) (*workflow.Definition, error) {
	var def workflow.Definition
	hit, err := s.cache.Fetch(ctx, cacheKey(id), &def, s.ttl, func(ctx context.Context) (any, error) {
		return s.Store.GetWorkflowByID(ctx, id)
	})
	s.record(hit)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// List serves the definition list from the cache. Writes through this
// store evict it.
func (s *CachedStore) List(ctx context.Context) ([]*workflow.Definition, error) {
	var defs []*workflow.Definition
	hit, err := s.cache.Fetch(ctx, listKey, &defs, s.ttl, func(ctx context.Context) (any, error) {
		return s.Store.List(ctx)
	})
	s.record(hit)
	if err != nil {
		return nil, err
	}
	if defs == nil {
		defs = []*workflow.Definition{}
	}
	return defs, nil
}

// Save writes through and evicts the cached copy.
func (s *CachedStore) Save(ctx context.Context, def *workflow.Definition) error {
	if err := s.Store.Save(ctx, def); err != nil {
		return err
	}
	s.evict(ctx, def.ID)
	return nil
}

// Delete removes from the backing store and evicts the cached copy.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.evict(ctx, id)
	return nil
}

// PingCache checks the Redis cache alone. A failing cache degrades reads
// but the store keeps serving from the backing store.
func (s *CachedStore) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// CacheStats reports this process's cache counters.
func (s *CachedStore) CacheStats() cache.Stats { return s.cache.Stats() }

// Close closes the backing store and the cache.
func (s *CachedStore) Close() error {
	return errors.Join(s.Store.Close(), s.cache.Close())
}

func (s *CachedStore) evict(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, cacheKey(id), listKey); err != nil {
		s.logger.Warn("cache eviction failed", zap.String("id", id), zap.Error(err))
	}
}

func (s *CachedStore) record(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(cacheType)
	} else {
		s.metrics.RecordCacheMiss(cacheType)
	}
}
