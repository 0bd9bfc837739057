package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config 缓存配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 所有键都加上该前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// TTL 随机上浮比例（0~1），错开同批写入的过期时间
	TTLJitter float64 `yaml:"ttl_jitter" json:"ttl_jitter"`

	MaxRetries   int  `yaml:"max_retries" json:"max_retries"`
	PoolSize     int  `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int  `yaml:"min_idle_conns" json:"min_idle_conns"`
	TLSEnabled   bool `yaml:"tls_enabled" json:"tls_enabled"`

	// 0 表示不做后台健康检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "nodeflow:cache:",
		DefaultTTL:          5 * time.Minute,
		TTLJitter:           0.1,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Stats 是本进程观察到的缓存读取统计
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Errors  uint64 `json:"errors"`
	Shared  uint64 `json:"shared"`
	Healthy bool   `json:"healthy"`
}

// Manager 封装 go-redis，统一键前缀、TTL 与 JSON 编解码。
// Fetch 用 singleflight 合并同一键上并发的回源加载。
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
	flight singleflight.Group

	hits, misses, errs, shared atomic.Uint64
	healthy                    atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewManager 连接 Redis 并确认可达
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = tlsutil.ClientConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewManagerWithClient(client, cfg, logger), nil
}

// NewManagerWithClient 复用已有客户端，Close 时一并关闭
func NewManagerWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}
	m.healthy.Store(true)

	if cfg.HealthCheckInterval > 0 {
		m.wg.Add(1)
		go m.watchHealth()
	}
	m.logger.Debug("cache manager ready",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
	)
	return m
}

func (m *Manager) key(k string) string { return m.cfg.KeyPrefix + k }

func (m *Manager) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = m.key(k)
	}
	return out
}

// expiry 返回实际 TTL：0 取默认值，再按 TTLJitter 随机上浮
func (m *Manager) expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if ttl > 0 && m.cfg.TTLJitter > 0 {
		ttl += time.Duration(rand.Float64() * m.cfg.TTLJitter * float64(ttl))
	}
	return ttl
}

// Get 读取原始值
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	val, err := m.client.Get(ctx, m.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		m.misses.Add(1)
		return "", ErrCacheMiss
	case err != nil:
		m.errs.Add(1)
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	m.hits.Add(1)
	return val, nil
}

// Set 写入原始值，ttl 为 0 时使用默认 TTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.client.Set(ctx, m.key(key), value, m.expiry(ttl)).Err(); err != nil {
		m.errs.Add(1)
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetJSON 读取并解码 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON 编码为 JSON 后写入
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s for cache: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Fetch 读穿：命中时解码到 dest；未命中时调用 load 回源，写回缓存后
// 解码到 dest。同一键的并发未命中只回源一次。缓存自身故障只记录日志，
// 不影响回源结果；load 的错误原样返回。hit 报告是否由缓存直接提供。
func (m *Manager) Fetch(ctx context.Context, key string, dest any, ttl time.Duration, load func(context.Context) (any, error)) (hit bool, err error) {
	err = m.GetJSON(ctx, key, dest)
	if err == nil {
		return true, nil
	}
	if !IsCacheMiss(err) {
		m.logger.Warn("cache read failed, loading from source", zap.String("key", key), zap.Error(err))
	}

	data, err, shared := m.flight.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s for cache: %w", key, err)
		}
		if err := m.Set(ctx, key, string(raw), ttl); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return raw, nil
	})
	if shared {
		m.shared.Add(1)
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data.([]byte), dest); err != nil {
		return false, fmt.Errorf("decode loaded %s: %w", key, err)
	}
	return false, nil
}

// Delete 删除键，使用 UNLINK 异步回收
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Unlink(ctx, m.keys(keys)...).Err(); err != nil {
		m.errs.Add(1)
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Exists 返回存在的键数量
func (m *Manager) Exists(ctx context.Context, keys ...string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	n, err := m.client.Exists(ctx, m.keys(keys)...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache exists: %w", err)
	}
	return n, nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Stats 返回计数快照
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Errors:  m.errs.Load(),
		Shared:  m.shared.Load(),
		Healthy: m.healthy.Load(),
	}
}

// Close 停止健康检查并关闭客户端，可重复调用
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.stop)
		m.wg.Wait()
		err = m.client.Close()
	})
	return err
}

// watchHealth 定期 PING，只在状态变化时记录日志
func (m *Manager) watchHealth() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.client.Ping(ctx).Err()
		cancel()

		was := m.healthy.Swap(err == nil)
		switch {
		case err != nil && was:
			m.logger.Warn("cache unreachable", zap.Error(err))
		case err == nil && !was:
			m.logger.Info("cache reachable again")
		}
	}
}
