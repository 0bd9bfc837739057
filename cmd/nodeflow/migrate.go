package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移
// =============================================================================

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema of the database store",
		Long: `Versions the nodeflow_workflows and nodeflow_runs tables of the database
store. Connection settings come from the database section of the config.
Set database.skip_auto_migrate to stop the server creating tables itself.`,
	}

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			return cli.RunDown(cmd.Context(), all)
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back every migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		},
		down,
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply (n > 0) or roll back (n < 0) n migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return cli.RunSteps(cmd.Context(), n)
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunGoto(cmd.Context(), uint(v))
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without running migrations",
			Long:  "Clears the dirty flag after a failed migration was repaired by hand. -1 means no version.",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(cmd.Context(), v)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrationCLI(func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		},
	)
	return cmd
}

// withMigrationCLI opens the configured database for the duration of one
// subcommand.
func withMigrationCLI(fn func(*cobra.Command, *migration.CLI, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logCfg := cfg.Log
		logCfg.OutputPaths = []string{"stderr"}
		logger := initLogger(logCfg)
		defer func() { _ = logger.Sync() }()

		m, err := migration.NewMigratorFromConfig(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				logger.Warn("failed to close migrator", zap.Error(err))
			}
		}()

		return fn(cmd, migration.NewCLI(m, cmd.OutOrStdout()), args)
	}
}
