// Package database opens the PostgreSQL pool shared by the consent and audit
// stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"consentledger/internal/platform/config"
)

const connectTimeout = 5 * time.Second

// Pool is a pgx-backed *sql.DB. A nil *Pool means no database is configured;
// its methods are safe to call.
type Pool struct {
	db *sql.DB
}

// New opens and pings the database. It returns nil, nil when cfg.URL is
// empty so callers can fall back to another store.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{db: db}, nil
}

func (p *Pool) DB() *sql.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Health is registered as the "database" readiness check.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not configured")
	}
	return p.db.PingContext(ctx)
}

// RegisterMetrics exposes the database/sql pool statistics (open, idle and
// waiting connections) as go_sql_* collectors labelled db_name.
func (p *Pool) RegisterMetrics(reg prometheus.Registerer) error {
	if p == nil || p.db == nil {
		return nil
	}
	return reg.Register(collectors.NewDBStatsCollector(p.db, "consentledger"))
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
