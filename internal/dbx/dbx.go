package dbx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DSNEnv names the environment variables consulted for a DSN, in order.
var DSNEnv = []string{"RELAY_DB_DSN", "DATABASE_URL"}

// PoolSettings tune a pgx pool. Zero fields keep the defaults.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	PingTimeout     time.Duration
}

func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 2 * time.Minute,
		PingTimeout:     2 * time.Second,
	}
}

// ResolveDSN returns dsn, or the first non-empty DSN from the environment.
func ResolveDSN(dsn string) (string, error) {
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		return dsn, nil
	}

	for _, name := range DSNEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}

	return "", fmt.Errorf("database not configured (%s)", strings.Join(DSNEnv, " / "))
}

// NewPGXPool opens and pings a pool.
func NewPGXPool(ctx context.Context, dsn string, settings PoolSettings) (*pgxpool.Pool, error) {
	dsn, err := ResolveDSN(dsn)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	def := DefaultPoolSettings()
	if settings.MaxConns == 0 {
		settings.MaxConns = def.MaxConns
	}

	if settings.MinConns == 0 {
		settings.MinConns = def.MinConns
	}

	if settings.MaxConnLifetime == 0 {
		settings.MaxConnLifetime = def.MaxConnLifetime
	}

	if settings.MaxConnIdleTime == 0 {
		settings.MaxConnIdleTime = def.MaxConnIdleTime
	}

	if settings.PingTimeout == 0 {
		settings.PingTimeout = def.PingTimeout
	}

	cfg.MaxConns = settings.MaxConns
	cfg.MinConns = settings.MinConns
	cfg.MaxConnLifetime = settings.MaxConnLifetime
	cfg.MaxConnIdleTime = settings.MaxConnIdleTime
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, settings.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()

		return nil, err
	}

	return pool, nil
}
