package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "NODEFLOW"

// Option 调整 Load 的行为
type Option func(*loadOptions)

type loadOptions struct {
	files      []string
	envPrefix  string
	lookup     func(string) (string, bool)
	strict     bool
	validators []func(*Config) error
}

// WithFile 追加一个 YAML 文件，多个文件按顺序叠加，后者覆盖前者。
// 不存在的文件被跳过。
func WithFile(path string) Option {
	return func(o *loadOptions) {
		if path != "" {
			o.files = append(o.files, path)
		}
	}
}

// WithEnvPrefix 设置环境变量前缀，空串表示不读取环境变量覆盖
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) { o.envPrefix = prefix }
}

// WithEnvLookup 替换环境变量来源，同时作用于覆盖与 ${VAR} 展开
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookup = lookup }
}

// WithStrict 拒绝配置文件中的未知字段
func WithStrict() Option {
	return func(o *loadOptions) { o.strict = true }
}

// WithValidator 在所有来源合并之后运行校验
func WithValidator(v func(*Config) error) Option {
	return func(o *loadOptions) { o.validators = append(o.validators, v) }
}

// Load 依次叠加默认值、YAML 文件与环境变量：
//
//	cfg, err := config.Load(
//	    config.WithFile("nodeflow.yaml"),
//	    config.WithValidator((*config.Config).Validate),
//	)
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{envPrefix: DefaultEnvPrefix, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := DefaultConfig()
	for _, path := range o.files {
		if err := o.overlayFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if o.envPrefix != "" {
		if err := applyEnv(cfg, o.envPrefix, o.lookup); err != nil {
			return nil, fmt.Errorf("load config from env: %w", err)
		}
	}

	for _, v := range o.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// MustLoad 与 Load 相同，失败时 panic
func MustLoad(opts ...Option) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// overlayFile decodes path on top of cfg. Keys absent from the file keep
// their current values.
func (o *loadOptions) overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	expanded := os.Expand(string(raw), func(key string) string {
		v, _ := o.lookup(key)
		return v
	})
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(o.strict)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}
