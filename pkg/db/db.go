package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// MustConnect opens a pgx pool for the settlement store and verifies
// the connection before returning. Panics on misconfiguration so the
// service fails at startup rather than on the first request.
func MustConnect(dsn string) *pgxpool.Pool {
	if dsn == "" {
		panic("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		panic(err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		panic(err)
	}
	log.Infof("connected to postgres (max_conns=%d)", cfg.MaxConns)
	return pool
}
