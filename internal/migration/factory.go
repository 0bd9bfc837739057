package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/database"
)

// migration runs hold at most one connection for the lock and one for DDL
var migrationPool = database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 2}

// NewMigratorFromConfig opens cfg's database with a small dedicated pool.
// The returned migrator owns the connection.
func NewMigratorFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	pool, err := database.Open(cfg.Driver, cfg.DSN(), migrationPool, logger)
	if err != nil {
		return nil, err
	}
	return NewMigratorFromPool(pool, dialect, Options{Logger: logger})
}

// NewMigratorFromPool shares the pool's *sql.DB. Closing the migrator also
// closes the pool, and so does a construction failure.
func NewMigratorFromPool(pool *database.PoolManager, dialect Dialect, opts Options) (m *DefaultMigrator, err error) {
	defer func() {
		if err != nil {
			_ = pool.Close()
		}
	}()

	sqlDB, err := pool.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if m, err = NewMigrator(sqlDB, dialect, opts); err != nil {
		return nil, err
	}
	m.onClose(pool.Close)
	return m, nil
}
