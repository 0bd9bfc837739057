package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config 是 NodeFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server"`

	// Engine 工作流引擎与内置节点配置
	Engine EngineConfig `yaml:"engine"`

	// Storage 工作流定义存储配置
	Storage StorageConfig `yaml:"storage"`

	// Redis 存储与缓存配置
	Redis RedisConfig `yaml:"redis"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database"`

	// Mongo 文档存储配置
	Mongo MongoConfig `yaml:"mongo"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时，需覆盖同步运行工作流的耗时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TLS 证书文件
	TLSCertFile string `yaml:"tls_cert_file"`
	// TLS 私钥文件
	TLSKeyFile string `yaml:"tls_key_file"`
	// 每 IP 每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// JWT HMAC 密钥，为空时不启用鉴权
	JWTSecret string `yaml:"jwt_secret"`
	// JWT 签发者，非空时校验 iss
	JWTIssuer string `yaml:"jwt_issuer"`
	// 允许跨域的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// http_request 节点默认超时
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// delay 节点最长等待
	MaxDelay time.Duration `yaml:"max_delay"`
	// 内存中保留的运行历史条数
	HistoryLimit int `yaml:"history_limit"`
}

// 存储类型
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageDatabase = "database"
	StorageRedis    = "redis"
	StorageMongo    = "mongo"
)

// StorageConfig 工作流定义存储配置
type StorageConfig struct {
	// 类型: memory, file, database, redis, mongo
	Type string `yaml:"type"`
	// file 类型的定义目录
	Dir string `yaml:"dir"`
	// file 类型是否监听目录变化
	Watch bool `yaml:"watch"`
	// 是否在存储前加 Redis 读穿缓存
	Cache bool `yaml:"cache"`
	// 缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr"`
	// 密码
	Password string `yaml:"password"`
	// 数据库编号
	DB int `yaml:"db"`
	// 连接池大小
	PoolSize int `yaml:"pool_size"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix"`
	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite3
	Driver string `yaml:"driver"`
	// 主机
	Host string `yaml:"host"`
	// 端口
	Port int `yaml:"port"`
	// 用户名
	User string `yaml:"user"`
	// 密码
	Password string `yaml:"password"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// 慢查询阈值，0 表示不记录
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	// 为 true 时不自动建表，Schema 由 nodeflow migrate 管理
	SkipAutoMigrate bool `yaml:"skip_auto_migrate"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri"`
	// 数据库名
	Database string `yaml:"database"`
	// 集合名
	Collection string `yaml:"collection"`
	// 操作超时
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// 是否使用明文 gRPC 连接
	Insecure bool `yaml:"insecure"`
	// 服务名称
	ServiceName string `yaml:"service_name"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate"`
}

// Validate 校验配置，一次返回所有问题
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		fail("invalid HTTP port %d", c.Server.HTTPPort)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		fail("tls_cert_file and tls_key_file must be set together")
	}
	if c.Server.RateLimitRPS < 0 {
		fail("rate_limit_rps must not be negative")
	}

	switch c.Storage.Type {
	case StorageMemory, StorageDatabase, StorageRedis:
	case StorageFile:
		if c.Storage.Dir == "" {
			fail("storage.dir is required for file storage")
		}
	case StorageMongo:
		if c.Mongo.URI == "" {
			fail("mongo.uri is required for mongo storage")
		}
	default:
		fail("unknown storage type %q", c.Storage.Type)
	}

	if c.Engine.HistoryLimit < 0 {
		fail("history_limit must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		fail("sample_rate must be between 0 and 1")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DSN 按驱动拼接连接字符串，未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql", "mariadb":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
