package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL             = "https://api.bitget.com"
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxConnsPerHost     = 16
	DefaultMaxIdleConns        = 16
	DefaultMaxEntries          = 10000
	DefaultStaleRetention      = 5 * time.Minute
	DefaultSweepInterval       = time.Minute
	DefaultTickerTTL           = 5 * time.Second
	DefaultSymbolListTTL       = 10 * time.Minute
	DefaultCandlesTTL          = 30 * time.Second
	DefaultConcurrency         = 10
	DefaultBacklog             = 256
	DefaultRateTokens          = 8
	DefaultRateInterval        = time.Second
	DefaultInteractiveTimeout  = 10 * time.Second
	DefaultBackgroundTimeout   = 60 * time.Second
	DefaultBaseDelay           = 200 * time.Millisecond
	DefaultMaxDelay            = 10 * time.Second
	DefaultInteractiveAttempts = 3
	DefaultBackgroundAttempts  = 5
	DefaultRateLimitFactor     = 2
	DefaultWorkers             = 4
	DefaultMonitorInterval     = 60 * time.Second
	DefaultMonitorThreshold    = 80
	DefaultMonitorHistory      = 500
	DefaultMonitorConsecutive  = 2
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 1000
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 10000
	DefaultRedisAddr           = "localhost:6379"
	DefaultRedisTimeout        = 500 * time.Millisecond
	DefaultServerPort          = 8080
	DefaultLogLevel            = "info"
	DefaultShutdownTimeout     = 10 * time.Second
)

// DefaultSchedule is used when workers.schedule is empty.
func DefaultSchedule() []ScheduleConfig {
	return []ScheduleConfig{
		{Kind: "tickers", Interval: DefaultTickerTTL},
		{Kind: "symbols", Interval: DefaultSymbolListTTL},
	}
}

func (c *GatewayConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxConnsPerHost == 0 {
		c.API.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if c.API.MaxIdleConns == 0 {
		c.API.MaxIdleConns = DefaultMaxIdleConns
	}
	if len(c.API.ThrottleCodes) == 0 {
		c.API.ThrottleCodes = []string{"429", "43001"}
	}

	// Cache defaults
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultMaxEntries
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = DefaultStaleRetention
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}
	if c.Cache.Classes == nil {
		c.Cache.Classes = make(map[string]time.Duration)
	}
	for class, ttl := range map[string]time.Duration{
		"ticker":      DefaultTickerTTL,
		"symbol-list": DefaultSymbolListTTL,
		"candles":     DefaultCandlesTTL,
		"account":     0,
	} {
		if _, ok := c.Cache.Classes[class]; !ok {
			c.Cache.Classes[class] = ttl
		}
	}

	// Queue defaults
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = DefaultConcurrency
	}
	if c.Queue.Dispatchers == 0 {
		c.Queue.Dispatchers = c.Queue.Concurrency
	}
	if c.Queue.Backlog == 0 {
		c.Queue.Backlog = DefaultBacklog
	}
	if c.Queue.RateTokens == 0 {
		c.Queue.RateTokens = DefaultRateTokens
	}
	if c.Queue.RateInterval == 0 {
		c.Queue.RateInterval = DefaultRateInterval
	}
	if c.Queue.InteractiveTimeout == 0 {
		c.Queue.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if c.Queue.BackgroundTimeout == 0 {
		c.Queue.BackgroundTimeout = DefaultBackgroundTimeout
	}

	// Retry defaults
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Retry.InteractiveAttempts == 0 {
		c.Retry.InteractiveAttempts = DefaultInteractiveAttempts
	}
	if c.Retry.BackgroundAttempts == 0 {
		c.Retry.BackgroundAttempts = DefaultBackgroundAttempts
	}
	if c.Retry.RateLimitFactor == 0 {
		c.Retry.RateLimitFactor = DefaultRateLimitFactor
	}

	// Workers defaults
	if c.Workers.Count == 0 {
		c.Workers.Count = DefaultWorkers
	}
	if len(c.Workers.Schedule) == 0 {
		c.Workers.Schedule = DefaultSchedule()
	}

	// Monitor defaults
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = DefaultMonitorInterval
	}
	if c.Monitor.Threshold == 0 {
		c.Monitor.Threshold = DefaultMonitorThreshold
	}
	if c.Monitor.History == 0 {
		c.Monitor.History = DefaultMonitorHistory
	}
	if c.Monitor.Consecutive == 0 {
		c.Monitor.Consecutive = DefaultMonitorConsecutive
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.Timeout == 0 {
		c.Redis.Timeout = DefaultRedisTimeout
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
