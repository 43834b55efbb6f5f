package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// StatSource is implemented by *pgxpool.Pool.
type StatSource interface {
	Stat() *pgxpool.Stat
}

// PoolAdapter reports a pgx pool's usage as api.PoolStats.
type PoolAdapter struct {
	pool StatSource
}

// NewPoolAdapter wraps a pgx pool.
func NewPoolAdapter(pool StatSource) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

// PoolStats returns acquired, idle and max connections.
func (a *PoolAdapter) PoolStats() api.PoolStats {
	s := a.pool.Stat()
	return api.PoolStats{
		Active: int(s.AcquiredConns()),
		Idle:   int(s.IdleConns()),
		Max:    int(s.MaxConns()),
	}
}
