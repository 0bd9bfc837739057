package database

import (
	"fmt"
	"strings"

	glebarez "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 支持的驱动名
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"  // 纯 Go 实现，无需 cgo
	DriverSQLite3  = "sqlite3" // mattn/go-sqlite3，需要 cgo
)

// OpenDialector 根据驱动名构造 GORM Dialector
func OpenDialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pg":
		return postgres.Open(dsn), nil
	case DriverMySQL, "mariadb":
		return mysql.Open(dsn), nil
	case DriverSQLite, "":
		return glebarez.Open(dsn), nil
	case DriverSQLite3:
		return cgosqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open 打开数据库并包装为 PoolManager，SQL 日志写入 logger。
// sqlite 只保留一条长连接，:memory: 库随连接关闭而丢失。
func Open(driver, dsn string, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := OpenDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logger, config.SlowQueryThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if isSQLite(driver) {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
		config.ConnMaxLifetime = 0
		config.ConnMaxIdleTime = 0
	}

	pm, err := NewPoolManager(db, config, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pm, nil
}

func isSQLite(driver string) bool {
	d := strings.ToLower(driver)
	return d == DriverSQLite || d == DriverSQLite3 || d == ""
}
