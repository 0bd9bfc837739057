package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// StatsRecorder 接收健康检查时采集的连接数，metrics.Collector 实现了它。
type StatsRecorder interface {
	RecordDBConnections(database string, open, idle int)
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// 超过该耗时的查询以 warn 级别记录，0 表示不记录慢查询
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold"`
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive")
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	case c.HealthCheckInterval < 0, c.SlowQueryThreshold < 0:
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

// DefaultPoolConfig 返回工作流存储使用的默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        25,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
		SlowQueryThreshold:  200 * time.Millisecond,
	}
}

// PoolManager 持有 GORM 实例与底层 sql.DB，并在后台探活。
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	name   string

	mu       sync.RWMutex
	recorder StatsRecorder
	closed   bool
	healthy  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPoolManager 应用连接池参数并启动健康检查
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:      db,
		sqlDB:   sqlDB,
		config:  config,
		name:    db.Dialector.Name(),
		healthy: true,
		stop:    make(chan struct{}),
	}
	pm.logger = logger.With(zap.String("component", "db_pool"), zap.String("dialect", pm.name))

	if config.HealthCheckInterval > 0 {
		pm.wg.Add(1)
		go pm.healthLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Duration("health_check_interval", config.HealthCheckInterval),
	)
	return pm, nil
}

// SetStatsRecorder 设置连接数上报目标
func (pm *PoolManager) SetStatsRecorder(recorder StatsRecorder) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.recorder = recorder
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB { return pm.db }

// Name 返回方言名（postgres、mysql、sqlite）
func (pm *PoolManager) Name() string { return pm.name }

// Ping 探活；关闭后返回 ErrPoolClosed
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回 database/sql 连接统计
func (pm *PoolManager) Stats() sql.DBStats { return pm.sqlDB.Stats() }

// Healthy 返回最近一次健康检查的结果
func (pm *PoolManager) Healthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthy && !pm.closed
}

// Close 停止健康检查并关闭连接，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.mu.Unlock()

	pm.wg.Wait()
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

func (pm *PoolManager) healthLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.checkHealth()
		}
	}
}

func (pm *PoolManager) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.sqlDB.PingContext(ctx)

	pm.mu.Lock()
	wasHealthy := pm.healthy
	pm.healthy = err == nil
	recorder := pm.recorder
	pm.mu.Unlock()

	switch {
	case err != nil && wasHealthy:
		pm.logger.Error("database health check failed", zap.Error(err))
		return
	case err != nil:
		pm.logger.Debug("database still unreachable", zap.Error(err))
		return
	case !wasHealthy:
		pm.logger.Info("database reachable again")
	}

	stats := pm.sqlDB.Stats()
	if recorder != nil {
		recorder.RecordDBConnections(pm.name, stats.OpenConnections, stats.Idle)
	}
}

// TransactionFunc 事务函数类型
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在事务中执行 fn，fn 返回错误时回滚
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 对死锁、序列化失败、锁超时与断连重试整个事务，
// 最多 attempts 次，退避从 50ms 起翻倍。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := 50 * time.Millisecond
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = pm.WithTransaction(ctx, fn); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		pm.logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}
