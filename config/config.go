package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Monthlyaway/linktrack/internal/utils"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when CONFIG_PATH is unset
const DefaultPath = "config/config.yaml"

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Redis       RedisConfig       `yaml:"redis"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	ShortCode   ShortCodeConfig   `yaml:"shortcode"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Logging     LoggingConfig     `yaml:"logging"`
	LogSink     LogSinkConfig     `yaml:"log_sink"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Mode           string        `yaml:"mode"`
	BaseURL        string        `yaml:"base_url"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects the record store
type StorageConfig struct {
	// Driver is one of memory, mysql or sqlite
	Driver           string        `yaml:"driver"`
	SQLitePath       string        `yaml:"sqlite_path"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// MySQLConfig represents MySQL configuration
type MySQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// CacheTTL caps how long a record stays cached
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BloomFilterConfig represents Bloom filter configuration
type BloomFilterConfig struct {
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// ShortCodeConfig controls generated short codes
type ShortCodeConfig struct {
	// Strategy is random or snowflake
	Strategy    string `yaml:"strategy"`
	Length      int    `yaml:"length"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// ReaperConfig controls the background expiry sweep
type ReaperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// LogSinkConfig controls shipping of log events to a remote collector
type LogSinkConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Stack   string        `yaml:"stack"`
	Level   string        `yaml:"level"`
	Buffer  int           `yaml:"buffer"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig controls the click event stream
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Strategy string        `yaml:"strategy"`
	Limit    int           `yaml:"limit"`
	Window   time.Duration `yaml:"window"`

	// Key is ip_route (per client and route) or ip (per client)
	Key string `yaml:"key"`
}

// DSN returns MySQL data source name
func (m *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from path, applies environment overrides and
// fills defaults. An empty path falls back to CONFIG_PATH, then DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Override with environment variables if present
func (c *Config) applyEnv() error {
	if host := os.Getenv("MYSQL_HOST"); host != "" {
		c.MySQL.Host = host
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		c.Server.Port = n
	}
	if driver := os.Getenv("STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("LOG_SINK_URL"); url != "" {
		c.LogSink.URL = url
		c.LogSink.Enabled = true
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
		c.Kafka.Enabled = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 5 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "linktrack.db"
	}
	if c.Storage.OperationTimeout == 0 {
		c.Storage.OperationTimeout = 2 * time.Second
	}

	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = time.Hour
	}

	if c.BloomFilter.Capacity == 0 {
		c.BloomFilter.Capacity = 1_000_000
	}
	if c.BloomFilter.FalsePositiveRate == 0 {
		c.BloomFilter.FalsePositiveRate = 0.001
	}

	if c.ShortCode.Strategy == "" {
		c.ShortCode.Strategy = "random"
	}
	if c.ShortCode.Length == 0 {
		c.ShortCode.Length = 6
	}
	if c.ShortCode.MaxAttempts == 0 {
		c.ShortCode.MaxAttempts = 10
	}

	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}

	if c.LogSink.Stack == "" {
		c.LogSink.Stack = "backend"
	}
	if c.LogSink.Level == "" {
		c.LogSink.Level = "info"
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "short-link-clicks"
	}

	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "sliding_window"
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Key == "" {
		c.RateLimit.Key = "ip_route"
	}
}

// Validate reports every setting that cannot be used as given
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "memory", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.ShortCode.Strategy {
	case "random", "snowflake":
	default:
		errs = append(errs, fmt.Errorf("unknown shortcode.strategy %q", c.ShortCode.Strategy))
	}
	if c.ShortCode.Length < utils.MinCodeLength || c.ShortCode.Length > utils.MaxCustomCodeLength {
		errs = append(errs, fmt.Errorf("shortcode.length must be between %d and %d, got %d",
			utils.MinCodeLength, utils.MaxCustomCodeLength, c.ShortCode.Length))
	}
	if c.ShortCode.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("shortcode.max_attempts must be at least 1, got %d", c.ShortCode.MaxAttempts))
	}
	if c.BloomFilter.FalsePositiveRate <= 0 || c.BloomFilter.FalsePositiveRate >= 1 {
		errs = append(errs, fmt.Errorf("bloom_filter.false_positive_rate must be in (0, 1)"))
	}
	if c.LogSink.Enabled && c.LogSink.URL == "" {
		errs = append(errs, errors.New("log_sink.url is required when the sink is enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	switch c.RateLimit.Key {
	case "ip", "ip_route":
	default:
		errs = append(errs, fmt.Errorf("unknown rate_limit.key %q", c.RateLimit.Key))
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("rate_limit requires redis.enabled"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
