package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/nodes"
)

// =============================================================================
// ▶️ run
// =============================================================================

func newRunCmd() *cobra.Command {
	var (
		globals      []string
		inputs       []string
		workflowsDir string
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow definition file and print the final state",
		Long: `Run executes a workflow definition (YAML or JSON) locally. Observer events
are logged to stderr; the run result is printed to stdout as JSON.

Sub-workflow nodes resolve ids against the file itself and, with
--workflows-dir, against every definition in that directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logCfg := cfg.Log
			logCfg.OutputPaths = []string{"stderr"}
			logger := initLogger(logCfg)
			defer func() { _ = logger.Sync() }()

			def, err := workflow.LoadFromFile(args[0])
			if err != nil {
				return err
			}

			req := handlers.RunRequest{}
			if req.Globals, err = parseAssignments(globals); err != nil {
				return fmt.Errorf("--global: %w", err)
			}
			if req.Inputs, err = parseAssignments(inputs); err != nil {
				return fmt.Errorf("--input: %w", err)
			}

			loader, closeLoader, err := localLoader(def, workflowsDir, logger)
			if err != nil {
				return err
			}
			defer closeLoader()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			runner := handlers.NewRunner(newCLIRegistry(cfg.Engine, logger), loader, nil, logger)
			resp, runErr := runner.RunWorkflow(ctx, def.ID, req, workflow.NewLogObserver(logger))
			if resp != nil {
				if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if resp != nil && resp.Status != handlers.RunStatusCompleted {
				return fmt.Errorf("run finished with failed nodes: %s", strings.Join(resp.FailedNodes, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&globals, "global", "g", nil, "Global variable as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Form input as key=value (repeatable)")
	cmd.Flags().StringVar(&workflowsDir, "workflows-dir", "", "Directory of definitions available to sub-workflow nodes")
	return cmd
}

func newCLIRegistry(cfg config.EngineConfig, logger *zap.Logger) *workflow.Registry {
	return nodes.NewRegistry(nodes.Options{
		HTTPTimeout: cfg.HTTPTimeout,
		MaxDelay:    cfg.MaxDelay,
		Logger:      logger,
	})
}

// localLoader resolves the definition being run first, then the directory.
func localLoader(def *workflow.Definition, dir string, logger *zap.Logger) (workflow.WorkflowLoader, func(), error) {
	self := workflow.MapLoader{def.ID: def}
	if dir == "" {
		return self, func() {}, nil
	}

	fs, err := store.NewFileStore(dir, store.FileStoreOptions{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	loader := workflow.LoaderFunc(func(ctx context.Context, id string) (*workflow.Definition, error) {
		if d, err := self.GetWorkflowByID(ctx, id); err == nil {
			return d, nil
		}
		return fs.GetWorkflowByID(ctx, id)
	})
	return loader, func() { _ = fs.Close() }, nil
}

// parseAssignments 解析 key=value 列表。值按 JSON 解析，失败时作为字符串。
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// ✅ validate
// =============================================================================

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := newCLIRegistry(config.DefaultConfig().Engine, nil)
			out := cmd.OutOrStdout()

			var failed int
			for _, path := range args {
				if err := validateFile(registry, path); err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "✓ %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateFile(registry *workflow.Registry, path string) error {
	def, err := workflow.LoadFromFile(path)
	if err != nil {
		return err
	}
	return registry.Validate(&def.Data)
}

// =============================================================================
// 🧩 nodes
// =============================================================================

func newNodesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the available node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := handlers.DescribeCatalog(newCLIRegistry(config.DefaultConfig().Engine, nil))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), catalog)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tTYPE\tOUTPUTS")
			for _, c := range catalog {
				for _, n := range c.Nodes {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, n.Type, strings.Join(n.Outputs, ","))
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}

// =============================================================================
// 🏥 health
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(cmd.Context(), cmd.OutOrStdout(), addr, timeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

var errUnhealthy = errors.New("server unhealthy")

func checkHealth(ctx context.Context, out io.Writer, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(addr, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := tlsutil.SecureHTTPClient(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errUnhealthy, resp.Status)
	}
	fmt.Fprintln(out, "healthy")
	return nil
}
