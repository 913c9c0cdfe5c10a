// Package store persists raw topics, analysis records, and ingestion
// markers in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// DB is the subset of *pgxpool.Pool the stores use. pgx.Tx satisfies it
// too, so stores can run inside a caller's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Open creates a connection pool and verifies connectivity. maxConns must
// leave room for one held connection per advisory-lock worker.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w: %w", domain.ErrConfiguration, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, dbErr("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dbErr("ping", err)
	}
	return pool, nil
}

// withTx runs fn in a transaction, committing on nil and rolling back on
// error or panic.
func withTx(ctx context.Context, db DB, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return dbErr("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("store: rollback failed", "original_error", err, "rollback_error", rbErr)
			}
		} else if cErr := tx.Commit(ctx); cErr != nil {
			err = dbErr("commit", cErr)
		}
	}()

	return fn(tx)
}

func dbErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, domain.ErrDatabase, err)
}
