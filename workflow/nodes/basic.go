package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/dsl"
)

// Start is the conventional entry node. It publishes its data unchanged so
// later nodes can reference {{start.x}}.
func Start() workflow.Implementation {
	return workflow.NewFunc(TypeStart, []string{PortOut},
		func(_ context.Context, data map[string]any, _ workflow.Observer, _ *workflow.ExecContext) (workflow.Result, error) {
			return workflow.Result{Data: data}, nil
		}).WithDefaults(map[string]any{})
}

type variableConfig struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}

func decodeVariable(data map[string]any) (variableConfig, error) {
	var cfg variableConfig
	if err := decode(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return cfg, workflow.NewNodeError("variable name is required", nil)
	}
	return cfg, nil
}

// SetVariable assigns a global variable.
func SetVariable() workflow.Implementation {
	return workflow.NewFunc(TypeSetVariable, []string{PortOut},
		func(_ context.Context, data map[string]any, _ workflow.Observer, ec *workflow.ExecContext) (workflow.Result, error) {
			cfg, err := decodeVariable(data)
			if err != nil {
				return workflow.Result{}, err
			}
			ec.Globals.Set(cfg.Name, cfg.Value)
			return workflow.Result{Data: map[string]any{"name": cfg.Name, "value": cfg.Value}}, nil
		}).WithDefaults(map[string]any{"name": "", "value": ""})
}

// AppendVariable appends to a list-valued global variable, creating it when
// missing. The update is atomic with respect to other branches.
func AppendVariable() workflow.Implementation {
	return workflow.NewFunc(TypeAppendVariable, []string{PortOut, workflow.PortError},
		func(_ context.Context, data map[string]any, _ workflow.Observer, ec *workflow.ExecContext) (workflow.Result, error) {
			cfg, err := decodeVariable(data)
			if err != nil {
				return workflow.Result{}, err
			}

			var appendErr error
			next := ec.Globals.Update(cfg.Name, func(cur any, exists bool) any {
				if !exists || cur == nil {
					return []any{cfg.Value}
				}
				list, ok := cur.([]any)
				if !ok {
					appendErr = workflow.NewNodeError(
						fmt.Sprintf("variable %q is not a list", cfg.Name),
						map[string]any{"variable": cfg.Name},
					)
					return cur
				}
				out := make([]any, len(list), len(list)+1)
				copy(out, list)
				return append(out, cfg.Value)
			})
			if appendErr != nil {
				return workflow.Result{}, appendErr
			}

			length := 0
			if list, ok := next.([]any); ok {
				length = len(list)
			}
			return workflow.Result{Data: map[string]any{"name": cfg.Name, "value": cfg.Value, "length": length}}, nil
		}).WithDefaults(map[string]any{"name": "", "value": ""})
}

type logConfig struct {
	Message string `mapstructure:"-"`
	Level   string `mapstructure:"level"`
}

// Log writes a message to the observer.
func Log() workflow.Implementation {
	return workflow.NewFunc(TypeLog, []string{PortOut},
		func(_ context.Context, data map[string]any, obs workflow.Observer, ec *workflow.ExecContext) (workflow.Result, error) {
			var cfg logConfig
			if err := decode(map[string]any{"level": data["level"]}, &cfg); err != nil {
				return workflow.Result{}, err
			}
			// message may be a whole-token reference to a non-string value
			switch msg := data["message"].(type) {
			case nil:
			case string:
				cfg.Message = msg
			default:
				cfg.Message = workflow.Stringify(msg)
			}

			switch strings.ToLower(cfg.Level) {
			case "success":
				obs.Success(cfg.Message)
			case "warn", "warning":
				obs.Warn(cfg.Message)
			case "error":
				obs.Error(cfg.Message)
			default:
				obs.Info(cfg.Message)
			}
			if ec.Logger != nil {
				ec.Logger.Debug(cfg.Message)
			}
			return workflow.Result{Data: map[string]any{"message": cfg.Message}}, nil
		}).WithDefaults(map[string]any{"message": "", "level": "info"})
}

type delayConfig struct {
	Milliseconds int           `mapstructure:"milliseconds"`
	Duration     time.Duration `mapstructure:"duration"`
}

// Delay waits before continuing. It honours context cancellation.
func Delay(maxDelay time.Duration) workflow.Implementation {
	return workflow.NewFunc(TypeDelay, []string{PortOut, workflow.PortError},
		func(ctx context.Context, data map[string]any, _ workflow.Observer, _ *workflow.ExecContext) (workflow.Result, error) {
			var cfg delayConfig
			if err := decode(data, &cfg); err != nil {
				return workflow.Result{}, err
			}
			wait := cfg.Duration
			if wait == 0 {
				wait = time.Duration(cfg.Milliseconds) * time.Millisecond
			}
			if wait < 0 {
				return workflow.Result{}, workflow.NewNodeError("delay must not be negative", nil)
			}
			if maxDelay > 0 && wait > maxDelay {
				return workflow.Result{}, workflow.NewNodeError(
					fmt.Sprintf("delay %s exceeds the maximum of %s", wait, maxDelay), nil)
			}

			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return workflow.Result{}, ctx.Err()
			case <-timer.C:
			}
			return workflow.Result{Data: map[string]any{"waitedMs": wait.Milliseconds()}}, nil
		}).WithDefaults(map[string]any{"milliseconds": 1000})
}

type failConfig struct {
	Message string         `mapstructure:"message"`
	Context map[string]any `mapstructure:"context"`
}

// Fail always fails with the configured message.
func Fail() workflow.Implementation {
	return workflow.NewFunc(TypeFail, []string{PortOut, workflow.PortError},
		func(_ context.Context, data map[string]any, _ workflow.Observer, _ *workflow.ExecContext) (workflow.Result, error) {
			var cfg failConfig
			if err := decode(data, &cfg); err != nil {
				return workflow.Result{}, err
			}
			if cfg.Message == "" {
				cfg.Message = "failed"
			}
			return workflow.Result{}, workflow.NewNodeError(cfg.Message, cfg.Context)
		}).WithDefaults(map[string]any{"message": "failed"})
}

type transformConfig struct {
	Expression string `mapstructure:"expression"`
	Target     string `mapstructure:"target"`
}

// Transform evaluates an expression against the run scope. The value is
// published as {{node.value}} and optionally stored in a global variable.
func Transform() workflow.Implementation {
	return workflow.NewFunc(TypeTransform, []string{PortOut, workflow.PortError},
		func(_ context.Context, data map[string]any, _ workflow.Observer, ec *workflow.ExecContext) (workflow.Result, error) {
			var cfg transformConfig
			if err := decode(data, &cfg); err != nil {
				return workflow.Result{}, err
			}
			if strings.TrimSpace(cfg.Expression) == "" {
				return workflow.Result{}, workflow.NewNodeError("expression is required", nil)
			}

			scope := workflow.NewScope(ec.Globals.Snapshot(), ec.FormInputs, ec.State.Snapshot())
			value, err := dsl.EvaluateValue(cfg.Expression, scope)
			if err != nil {
				return workflow.Result{}, workflow.NewNodeError(err.Error(), map[string]any{"expression": cfg.Expression})
			}
			if cfg.Target != "" {
				ec.Globals.Set(cfg.Target, value)
			}
			return workflow.Result{Data: map[string]any{"value": value}}, nil
		}).WithDefaults(map[string]any{"expression": "", "target": ""})
}
