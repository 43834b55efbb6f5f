package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Queue    QueueConfig    `yaml:"queue"`
	Retry    RetryConfig    `yaml:"retry"`
	Workers  WorkersConfig  `yaml:"workers"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Database DatabaseConfig `yaml:"database"`
	Writers  WritersConfig  `yaml:"writers"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds exchange REST settings.
type APIConfig struct {
	RestURL         string        `yaml:"rest_url"`
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	Passphrase      string        `yaml:"passphrase"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ThrottleCodes   []string      `yaml:"throttle_codes"` // envelope codes meaning "slow down"
}

// HasCredentials reports whether private routes can be signed.
func (a APIConfig) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	MaxEntries     int                      `yaml:"max_entries"`
	StaleRetention time.Duration            `yaml:"stale_retention"`
	SweepInterval  time.Duration            `yaml:"sweep_interval"`
	Classes        map[string]time.Duration `yaml:"classes"` // cache class -> TTL, 0 disables caching
}

// QueueConfig holds request queue settings.
type QueueConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	Dispatchers        int           `yaml:"dispatchers"`
	Backlog            int           `yaml:"backlog"`
	RateTokens         float64       `yaml:"rate_tokens"` // negative disables rate limiting
	RateInterval       time.Duration `yaml:"rate_interval"`
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
	BackgroundTimeout  time.Duration `yaml:"background_timeout"`
}

// RetryConfig holds retry policy settings.
type RetryConfig struct {
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	InteractiveAttempts int           `yaml:"interactive_attempts"`
	BackgroundAttempts  int           `yaml:"background_attempts"`
	RateLimitFactor     float64       `yaml:"rate_limit_factor"`
}

// WorkersConfig holds worker pool settings.
type WorkersConfig struct {
	Count      int              `yaml:"count"`
	TopSymbols []string         `yaml:"top_symbols"`
	Schedule   []ScheduleConfig `yaml:"schedule"`
}

// ScheduleConfig is one refresh job.
type ScheduleConfig struct {
	Kind     string        `yaml:"kind"`
	Interval time.Duration `yaml:"interval"`
}

// MonitorConfig holds connection pool monitor settings.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Threshold   float64       `yaml:"threshold"` // percent
	History     int           `yaml:"history"`
	Consecutive int           `yaml:"consecutive"`
}

// DatabaseConfig holds the optional TimescaleDB connection used to persist
// pool samples and breaches.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RedisConfig holds the optional payload mirror.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig holds the HTTP server for health, stats and the stream.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}
