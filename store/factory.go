package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/cache"
	"github.com/BaSui01/nodeflow/internal/database"
	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/workflow"
)

// Metrics is what the stores report to. metrics.Collector implements it.
type Metrics interface {
	QueryRecorder
	CacheRecorder
	database.StatsRecorder
}

// Options carries collaborators wired into the stores New builds.
type Options struct {
	Logger  *zap.Logger
	Metrics Metrics
}

// New creates the Store selected by cfg.Storage, wrapped in a Redis
// read-through cache when cfg.Storage.Cache is set.
func New(ctx context.Context, cfg *config.Config, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := newBacking(ctx, cfg, opts.Metrics, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.Cache {
		return s, nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = cfg.Redis.Addr
	cacheCfg.Password = cfg.Redis.Password
	cacheCfg.DB = cfg.Redis.DB
	cacheCfg.PoolSize = cfg.Redis.PoolSize
	cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
	cacheCfg.TLSEnabled = cfg.Redis.TLSEnabled
	cacheCfg.KeyPrefix = cfg.Redis.KeyPrefix + "cache:"
	cacheCfg.DefaultTTL = cfg.Storage.CacheTTL

	manager, err := cache.NewManager(cacheCfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create workflow cache: %w", err)
	}
	return NewCachedStore(s, manager, cfg.Storage.CacheTTL, opts.Metrics, logger), nil
}

func newBacking(ctx context.Context, cfg *config.Config, metrics Metrics, logger *zap.Logger) (Store, error) {
	switch StoreType(cfg.Storage.Type) {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil

	case StoreTypeFile:
		return NewFileStore(cfg.Storage.Dir, FileStoreOptions{
			Watch:  cfg.Storage.Watch,
			Logger: logger,
		})

	case StoreTypeDatabase:
		db := cfg.Database
		pool, err := database.Open(db.Driver, db.DSN(), database.PoolConfig{
			MaxIdleConns:        db.MaxIdleConns,
			MaxOpenConns:        db.MaxOpenConns,
			ConnMaxLifetime:     db.ConnMaxLifetime,
			HealthCheckInterval: db.HealthCheckInterval,
			SlowQueryThreshold:  db.SlowQueryThreshold,
		}, logger)
		if err != nil {
			return nil, err
		}
		if metrics != nil {
			pool.SetStatsRecorder(metrics)
		}
		var opts []GormOption
		if db.SkipAutoMigrate {
			opts = append(opts, WithoutAutoMigrate())
		}
		s, err := NewGormStore(pool, logger, metrics, opts...)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return s, nil

	case StoreTypeRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, logger), nil

	case StoreTypeMongo:
		return NewMongoStore(ctx, MongoStoreOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
			Logger:     logger,
		})

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Storage.Type)
	}
}

// NewRedisClient creates a client from config and tests the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = tlsutil.ClientConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// HistoryOf returns the run history store behind s, if its backend keeps one.
func HistoryOf(s Store) (workflow.HistoryStore, bool) {
	if c, ok := s.(*CachedStore); ok {
		s = c.Store
	}
	h, ok := s.(workflow.HistoryStore)
	return h, ok
}
