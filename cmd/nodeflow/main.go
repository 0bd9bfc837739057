// =============================================================================
// NodeFlow 主入口
// =============================================================================
// 工作流引擎的服务端与命令行工具
//
// 使用方法:
//
//	nodeflow serve                              # 启动 HTTP 服务
//	nodeflow serve --config config.yaml         # 指定配置文件
//	nodeflow run flow.yaml --input name=Ada     # 本地运行一个工作流文件
//	nodeflow validate flow.yaml                 # 校验工作流文件
//	nodeflow nodes                              # 列出可用节点类型
//	nodeflow migrate up                         # 应用数据库迁移
//	nodeflow health --addr http://localhost:8080
//	nodeflow version
// =============================================================================

// @title NodeFlow API
// @version 1.0.0
// @description NodeFlow executes node graphs with named-port edges, try/catch scopes, loops and sub-workflows.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/nodeflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nodeflow",
		Short: "NodeFlow workflow engine",
		Long: `NodeFlow runs workflow graphs: nodes joined by named-port edges, with
concurrent fan-out, try/catch scopes, conditions, loops and sub-workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (YAML)")
	root.PersistentFlags().Bool("strict-config", false, "Reject unknown keys in the config file")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newValidateCmd(),
		newNodesCmd(),
		newVersionCmd(),
		newHealthCmd(),
		newMigrateCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig 按 默认值 → 文件 → 环境变量 加载并校验配置
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	opts := []config.Option{config.WithFile(path), config.WithValidator((*config.Config).Validate)}
	if strict, _ := cmd.Flags().GetBool("strict-config"); strict {
		opts = append(opts, config.WithStrict())
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newConfigCmd 打印合并默认值、文件与环境变量后的生效配置
func newConfigCmd() *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords and keys unmasked")
	return cmd
}

// =============================================================================
// 📋 版本
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "NodeFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
