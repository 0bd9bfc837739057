package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/database"
	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/workflow"
)

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, *database.PoolManager) {
	t.Helper()
	pool, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "nodeflow.db"),
		database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	m, err := NewMigratorFromPool(pool, DialectSQLite, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, pool
}

func tableExists(t *testing.T, pool *database.PoolManager, name string) bool {
	t.Helper()
	return pool.DB().Migrator().HasTable(name)
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input    string
		expected Dialect
		wantErr  bool
	}{
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"mariadb", DialectMySQL, false},
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"POSTGRES", DialectPostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDialect(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestListMigrations_EveryDialectMatches(t *testing.T) {
	sqlite, err := listMigrations(DialectSQLite)
	require.NoError(t, err)
	require.Len(t, sqlite, 2)
	assert.Equal(t, uint(1), sqlite[0].Version)
	assert.Equal(t, "create_workflows", sqlite[0].Name)
	assert.Equal(t, "create_runs", sqlite[1].Name)

	for _, dialect := range []Dialect{DialectPostgres, DialectMySQL} {
		got, err := listMigrations(dialect)
		require.NoError(t, err)
		assert.Equal(t, sqlite, got, dialect)
	}

	_, err = listMigrations("oracle")
	assert.Error(t, err)
}

func TestMigrator_UpDownLifecycle(t *testing.T) {
	ctx := context.Background()
	m, pool := newSQLiteMigrator(t)

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, pool, "nodeflow_workflows"))
	assert.True(t, tableExists(t, pool, "nodeflow_runs"))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationInfo{CurrentVersion: 2, TotalMigrations: 2, AppliedMigrations: 2}, info)

	// idempotent
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.True(t, tableExists(t, pool, "nodeflow_workflows"))
	assert.False(t, tableExists(t, pool, "nodeflow_runs"))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.DownAll(ctx))
	assert.False(t, tableExists(t, pool, "nodeflow_workflows"))

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, m.Steps(ctx, -2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigrator_Force(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)

	require.NoError(t, m.Force(ctx, 1))
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Up(ctx)
	require.ErrorIs(t, err, context.Canceled)

	version, _, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Zero(t, version)

	// no stale stop request survives into the next call
	require.NoError(t, m.Up(context.Background()))
	version, _, err = m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestNewMigrator_Errors(t *testing.T) {
	_, err := NewMigrator(nil, DialectSQLite, Options{})
	assert.Error(t, err)
}

func TestCLI(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)

	var out bytes.Buffer
	cli := NewCLI(m, &out)

	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "schema version 2")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, out.String(), "000001")
	assert.Contains(t, out.String(), "create_runs")
	assert.Contains(t, out.String(), "applied")
	assert.Contains(t, out.String(), "2 migration(s): 2 applied, 0 pending")

	out.Reset()
	require.NoError(t, cli.RunDown(ctx, false))
	assert.Contains(t, out.String(), "schema version 1")

	out.Reset()
	require.NoError(t, cli.RunSteps(ctx, 1))
	assert.Contains(t, out.String(), "schema version 2")

	assert.Error(t, cli.RunSteps(ctx, 0))

	out.Reset()
	require.NoError(t, cli.RunDown(ctx, true))
	assert.Contains(t, out.String(), "schema version 0")

	out.Reset()
	require.NoError(t, cli.RunGoto(ctx, 1))
	assert.Contains(t, out.String(), "schema version 1")

	out.Reset()
	require.NoError(t, cli.RunForce(ctx, 2))
	assert.Contains(t, out.String(), "schema version forced to 2")
}

func TestMigratedSchemaServesGormStore(t *testing.T) {
	ctx := context.Background()
	m, pool := newSQLiteMigrator(t)
	require.NoError(t, m.Up(ctx))

	s, err := store.NewGormStore(pool, zap.NewNop(), nil, store.WithoutAutoMigrate())
	require.NoError(t, err)

	def := &workflow.Definition{
		ID:   "wf",
		Name: "Migrated",
		Data: workflow.Graph{Nodes: []workflow.Node{{ID: "start", Type: "start"}}},
	}
	require.NoError(t, s.Save(ctx, def))

	got, err := s.GetWorkflowByID(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "Migrated", got.Name)
	assert.Len(t, got.Data.Nodes, 1)
}
