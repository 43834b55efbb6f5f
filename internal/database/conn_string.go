package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/exchange-gateway/internal/config"
)

// ApplicationName is reported to Postgres as application_name.
const ApplicationName = "exchange-gateway"

// BuildConnString builds a pgxpool connection URL. Pool sizing travels in
// the pool_max_conns and pool_min_conns parameters.
func BuildConnString(cfg config.DBConfig) string {
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	if cfg.SSLMode == "" {
		q.Set("sslmode", config.DefaultDBSSLMode)
	}
	q.Set("application_name", ApplicationName)
	if cfg.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		q.Set("pool_min_conns", strconv.Itoa(cfg.MinConns))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
