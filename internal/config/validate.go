package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rickgao/exchange-gateway/internal/worker"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxConnsPerHost < 1 {
		return errors.New("api.max_conns_per_host must be >= 1")
	}
	if (c.API.APIKey == "") != (c.API.APISecret == "") {
		return errors.New("api.api_key and api.api_secret must be set together")
	}

	if c.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}
	for class, ttl := range c.Cache.Classes {
		if ttl < 0 {
			return fmt.Errorf("cache.classes.%s must be >= 0", class)
		}
	}

	if c.Queue.Concurrency < 1 {
		return errors.New("queue.concurrency must be >= 1")
	}
	if c.Queue.Dispatchers < 1 {
		return errors.New("queue.dispatchers must be >= 1")
	}
	if c.Queue.Backlog < 1 {
		return errors.New("queue.backlog must be >= 1")
	}

	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay cannot be less than retry.base_delay")
	}
	if c.Retry.InteractiveAttempts < 1 || c.Retry.BackgroundAttempts < 1 {
		return errors.New("retry attempts must be >= 1")
	}

	if c.Workers.Count < 1 {
		return errors.New("workers.count must be >= 1")
	}
	catalog := worker.DefaultCatalog(c.Workers.TopSymbols)
	for i, s := range c.Workers.Schedule {
		if _, ok := catalog[s.Kind]; !ok {
			return fmt.Errorf("workers.schedule[%d].kind %q is not one of %s",
				i, s.Kind, strings.Join(catalog.Kinds(), ", "))
		}
		if s.Interval <= 0 {
			return fmt.Errorf("workers.schedule[%d].interval must be positive", i)
		}
		if (s.Kind == worker.KindTopTickers || s.Kind == worker.KindCandles) && len(c.Workers.TopSymbols) == 0 {
			return fmt.Errorf("workers.top_symbols is required for job %q", s.Kind)
		}
	}

	if c.Monitor.Threshold <= 0 || c.Monitor.Threshold > 100 {
		return fmt.Errorf("monitor.threshold must be in (0, 100], got %v", c.Monitor.Threshold)
	}
	if c.Monitor.Consecutive < 2 {
		return errors.New("monitor.consecutive must be >= 2")
	}

	if c.Database.Timescale.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps log.level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
