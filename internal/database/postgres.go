package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/config"
)

// NewPostgresPool creates and validates a PostgreSQL connection pool. Statements
// slower than cfg.SlowQuery are logged at warn level.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	if cfg.SlowQuery > 0 {
		poolCfg.ConnConfig.Tracer = &SlowQueryTracer{
			Threshold: cfg.SlowQuery,
			Log:       log.With().Str("component", "postgres").Logger(),
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Str("database", poolCfg.ConnConfig.Database).
		Dur("slow_query", cfg.SlowQuery).
		Msg("PostgreSQL connected")

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// SlowQueryTracer is a pgx.QueryTracer that reports statements exceeding Threshold.
type SlowQueryTracer struct {
	Threshold time.Duration
	Log       zerolog.Logger
	now       func() time.Time
}

func (t *SlowQueryTracer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *SlowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: t.clock(), sql: data.SQL})
}

func (t *SlowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := t.clock().Sub(start.at)
	if elapsed < t.Threshold {
		return
	}

	ev := t.Log.Warn()
	if data.Err != nil {
		ev = ev.Err(data.Err)
	}
	ev.Dur("elapsed", elapsed).
		Str("sql", start.sql).
		Int64("rows", data.CommandTag.RowsAffected()).
		Msg("Slow query")
}
