package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// env replaces the process environment for one Load call.
func env(kv map[string]string) Option {
	return WithEnvLookup(func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	})
}

func writeYAML(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const fullYAML = `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins: ["http://localhost:3000"]
engine:
  http_timeout: 5s
  history_limit: 50
storage:
  type: file
  dir: ./flows
  watch: true
redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1
mongo:
  uri: "mongodb://mongo:27017"
log:
  level: debug
  format: console
`

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	cfg, err := Load(WithFile(writeYAML(t, "nodeflow.yaml", fullYAML)), env(nil))
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, time.Minute, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Engine.HTTPTimeout)
	assert.Equal(t, 50, cfg.Engine.HistoryLimit)
	assert.Equal(t, StorageFile, cfg.Storage.Type)
	assert.Equal(t, "./flows", cfg.Storage.Dir)
	assert.True(t, cfg.Storage.Watch)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "console", cfg.Log.Format)

	// keys the file does not mention keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.Engine.MaxDelay, cfg.Engine.MaxDelay)
	assert.Equal(t, def.Mongo.Database, cfg.Mongo.Database)
}

func TestLoad_FilesOverlayInOrder(t *testing.T) {
	t.Parallel()

	base := writeYAML(t, "base.yaml", "server:\n  http_port: 8100\nlog:\n  level: debug\n")
	local := writeYAML(t, "local.yaml", "server:\n  http_port: 8200\n")

	cfg, err := Load(WithFile(base), WithFile(local), WithFile(""), env(nil))
	require.NoError(t, err)
	assert.Equal(t, 8200, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Env(t *testing.T) {
	t.Parallel()

	cfg, err := Load(env(map[string]string{
		"NODEFLOW_SERVER_HTTP_PORT":            "7777",
		"NODEFLOW_SERVER_RATE_LIMIT_RPS":       "2.5",
		"NODEFLOW_SERVER_CORS_ALLOWED_ORIGINS": "http://a.example, http://b.example",
		"NODEFLOW_ENGINE_MAX_DELAY":            "30s",
		"NODEFLOW_STORAGE_TYPE":                "redis",
		"NODEFLOW_STORAGE_CACHE":               "true",
		"NODEFLOW_TELEMETRY_SAMPLE_RATE":       "0.5",
		"NODEFLOW_LOG_OUTPUT_PATHS":            "stderr",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Engine.MaxDelay)
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.True(t, cfg.Storage.Cache)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Parallel()

	path := writeYAML(t, "nodeflow.yaml", "server:\n  http_port: 8888\ndatabase:\n  driver: sqlite\n  name: yaml.db\n")
	cfg, err := Load(WithFile(path), env(map[string]string{
		"NODEFLOW_SERVER_HTTP_PORT": "9999",
		"NODEFLOW_DATABASE_NAME":    "env.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env.db", cfg.Database.Name)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_EnvPrefix(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		"MYAPP_SERVER_HTTP_PORT":    "6666",
		"NODEFLOW_SERVER_HTTP_PORT": "7777",
	}

	cfg, err := Load(WithEnvPrefix("MYAPP"), env(vars))
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)

	cfg, err = Load(WithEnvPrefix(""), env(vars))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestLoad_ExpandsVariablesInFile(t *testing.T) {
	t.Parallel()

	path := writeYAML(t, "nodeflow.yaml", "redis:\n  password: ${REDIS_PASSWORD}\n  addr: $REDIS_HOST:6379\n")
	cfg, err := Load(WithFile(path), env(map[string]string{
		"REDIS_PASSWORD": "from-env",
		"REDIS_HOST":     "cache",
	}))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Redis.Password)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	t.Setenv("NODEFLOW_MONGO_DATABASE", "env-only")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.Mongo.Database)
}

func TestLoad_FileEdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("missing file is skipped", func(t *testing.T) {
		cfg, err := Load(WithFile("/non/existent/nodeflow.yaml"), env(nil))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("empty file", func(t *testing.T) {
		cfg, err := Load(WithFile(writeYAML(t, "empty.yaml", "")), env(nil))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeYAML(t, "bad.yaml", "server:\n  http_port: [invalid\n")
		_, err := Load(WithFile(path), env(nil))
		assert.ErrorContains(t, err, "parse yaml")
		assert.ErrorContains(t, err, path)
	})

	t.Run("directory instead of file", func(t *testing.T) {
		_, err := Load(WithFile(t.TempDir()), env(nil))
		assert.Error(t, err)
	})
}

func TestLoad_Strict(t *testing.T) {
	t.Parallel()

	path := writeYAML(t, "nodeflow.yaml", "server:\n  http_prot: 9000\n")

	cfg, err := Load(WithFile(path), env(nil))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	_, err = Load(WithFile(path), WithStrict(), env(nil))
	assert.ErrorContains(t, err, "http_prot")
}

func TestLoad_Validators(t *testing.T) {
	t.Parallel()

	privileged := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}
	_, err := Load(WithValidator(privileged), env(map[string]string{"NODEFLOW_SERVER_HTTP_PORT": "80"}))
	assert.ErrorIs(t, err, assert.AnError)

	_, err = Load(WithValidator((*Config).Validate), env(map[string]string{"NODEFLOW_STORAGE_TYPE": "etcd"}))
	assert.ErrorContains(t, err, "config validation failed")
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Parallel()

	_, err := Load(env(map[string]string{"NODEFLOW_SERVER_HTTP_PORT": "not-a-number"}))
	assert.ErrorContains(t, err, "NODEFLOW_SERVER_HTTP_PORT")
}

func TestApplyEnv_LeavesFieldOnError(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	lookup := func(k string) (string, bool) {
		if k == "APP_ENGINE_MAX_DELAY" {
			return "soon", true
		}
		return "", false
	}

	err := applyEnv(cfg, "APP", lookup)
	assert.ErrorContains(t, err, "APP_ENGINE_MAX_DELAY")
	assert.Equal(t, DefaultConfig().Engine.MaxDelay, cfg.Engine.MaxDelay)
}

func TestMustLoad(t *testing.T) {
	t.Parallel()

	good := writeYAML(t, "good.yaml", "server:\n  http_port: 8181\n")
	assert.Equal(t, 8181, MustLoad(WithFile(good), env(nil)).Server.HTTPPort)

	bad := writeYAML(t, "bad.yaml", "invalid: [yaml")
	assert.Panics(t, func() { MustLoad(WithFile(bad), env(nil)) })
}
