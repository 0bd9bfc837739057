package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// DefaultTableName 记录迁移版本的表
const DefaultTableName = "nodeflow_schema_migrations"

const defaultLockTimeout = 15 * time.Second

// Dialect 选择 migrations/ 下的 SQL 目录与 golang-migrate 驱动
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 把 config 中的驱动名映射为方言，空串视为 sqlite
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", driver)
}

func (d Dialect) dir() string { return path.Join("migrations", string(d)) }

func (d Dialect) driver(db *sql.DB, table string) (database.Driver, error) {
	switch d {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DialectSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	}
	return nil, fmt.Errorf("unsupported database type: %s", d)
}

// Migration 是一个内嵌的 up/down 文件对
type Migration struct {
	Version uint
	Name    string
}

// MigrationStatus 是某个内嵌迁移相对当前版本的状态
type MigrationStatus struct {
	Migration
	Applied bool
	Dirty   bool
}

// MigrationInfo 汇总当前 Schema 状态
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Options configures a migrator.
type Options struct {
	// TableName is the version table, DefaultTableName when empty.
	TableName string
	// LockTimeout bounds waiting for the migration lock.
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Migrator 是 nodeflow migrate 子命令依赖的操作集。
// 取消 ctx 会让正在进行的迁移在当前文件完成后停止。
type Migrator interface {
	Up(ctx context.Context) error
	// Down rolls back one migration.
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps applies n > 0 or rolls back n < 0 migrations.
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force records version as applied and clean without running anything.
	Force(ctx context.Context, version int) error
	// Version is 0 when nothing has been applied.
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator runs the embedded SQL of one dialect with golang-migrate.
type DefaultMigrator struct {
	dialect Dialect
	migrate *migrate.Migrate
	logger  *zap.Logger
	closers []func() error
}

// NewMigrator takes ownership of db: Close releases it.
func NewMigrator(db *sql.DB, dialect Dialect, opts Options) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if opts.TableName == "" {
		opts.TableName = DefaultTableName
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	driver, err := dialect.driver(db, opts.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger := opts.Logger.With(zap.String("component", "migrator"), zap.String("dialect", string(dialect)))
	m.LockTimeout = opts.LockTimeout
	m.Log = migrateLogger{logger: logger}

	return &DefaultMigrator{dialect: dialect, migrate: m, logger: logger}, nil
}

// run executes one golang-migrate operation. ErrNoChange counts as success,
// and a cancelled ctx asks migrate to stop after the current file.
func (m *DefaultMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migration %s: %w", op, err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	err := fn()
	close(done)
	wg.Wait()
	// a stop request that arrived after fn returned must not leak into the next call
	select {
	case <-m.migrate.GracefulStop:
	default:
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("migration %s interrupted: %w", op, ctxErr)
	}
	m.logger.Debug("migration finished", zap.String("op", op))
	return nil
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down", m.migrate.Down)
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, fmt.Sprintf("steps(%d)", n), func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, fmt.Sprintf("goto(%d)", version), func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("schema version forced", zap.Int("version", version))
	return nil
}

func (m *DefaultMigrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	all, err := listMigrations(m.dialect)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(all))
	for i, mig := range all {
		out[i] = MigrationStatus{
			Migration: mig,
			Applied:   mig.Version <= current,
			Dirty:     dirty && mig.Version == current,
		}
	}
	return out, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close releases the migrate instance and then anything registered by onClose.
func (m *DefaultMigrator) Close() error {
	var errs []error
	if m.migrate != nil {
		srcErr, dbErr := m.migrate.Close()
		errs = append(errs, srcErr, dbErr)
	}
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) onClose(fn func() error) {
	m.closers = append(m.closers, fn)
}

// listMigrations walks the embedded source of a dialect through the same
// iofs driver golang-migrate uses, oldest first.
func listMigrations(dialect Dialect) ([]Migration, error) {
	switch dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dialect)
	}
	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	defer src.Close()

	var out []Migration
	version, err := src.First()
	for err == nil {
		name, nameErr := upName(src, version)
		if nameErr != nil {
			return nil, nameErr
		}
		out = append(out, Migration{Version: version, Name: name})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	return out, nil
}

func upName(src source.Driver, version uint) (string, error) {
	body, name, err := src.ReadUp(version)
	if err != nil {
		return "", fmt.Errorf("failed to read migration %d: %w", version, err)
	}
	_ = body.Close()
	return name, nil
}

// migrateLogger routes golang-migrate output to zap.
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
