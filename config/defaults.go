package config

import (
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig 返回零配置即可启动的设置：内存存储、8080 端口、JSON 日志、遥测关闭
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Engine: EngineConfig{
			HTTPTimeout:  30 * time.Second,
			MaxDelay:     10 * time.Minute,
			HistoryLimit: 1000,
		},
		Storage: StorageConfig{
			Type:     StorageMemory,
			Dir:      "workflows",
			CacheTTL: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "nodeflow:",
		},
		Database: DatabaseConfig{
			Driver:              "postgres",
			Host:                "localhost",
			Port:                5432,
			User:                "nodeflow",
			Name:                "nodeflow",
			SSLMode:             "disable",
			MaxOpenConns:        25,
			MaxIdleConns:        5,
			ConnMaxLifetime:     5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			SlowQueryThreshold:  200 * time.Millisecond,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "nodeflow",
			Collection: "workflows",
			Timeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			ServiceName:  "nodeflow",
			SampleRate:   0.1,
		},
	}
}

const redactedValue = "******"

// Redacted 返回副本，密码与 JWT 密钥被替换，Mongo URI 中的口令显示为 xxxxx
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORSAllowedOrigins = append([]string(nil), c.Server.CORSAllowedOrigins...)
	out.Log.OutputPaths = append([]string(nil), c.Log.OutputPaths...)

	mask := func(s *string) {
		if *s != "" {
			*s = redactedValue
		}
	}
	mask(&out.Server.JWTSecret)
	mask(&out.Redis.Password)
	mask(&out.Database.Password)

	if u, err := url.Parse(c.Mongo.URI); err == nil {
		out.Mongo.URI = u.Redacted()
	}
	return &out
}

// YAML 以 loader 可读回的格式输出配置
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
