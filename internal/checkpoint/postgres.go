package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/wis2box-migrate/internal/core"
)

// Postgres keeps checkpoints in one table keyed by "<version>/<index>".
type Postgres struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

var _ core.Checkpointer = (*Postgres)(nil)

// NewPostgres connects to databaseURL and creates the checkpoint table if
// it does not exist yet. Close releases the pool.
func NewPostgres(ctx context.Context, databaseURL, table string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint database URL: %w", err)
	}
	poolConfig.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to checkpoint database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping checkpoint database: %w", err)
	}

	if u, err := url.Parse(databaseURL); err == nil {
		slog.Debug("connected to checkpoint database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	p := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := p.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+p.table+` (
			key         TEXT PRIMARY KEY,
			next_cursor INTEGER NOT NULL,
			snapshot    TEXT NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create checkpoint table %s: %w", p.table, err)
	}

	// Tables created before snapshots were recorded lack the column.
	_, err = p.pool.Exec(ctx, `ALTER TABLE `+p.table+` ADD COLUMN IF NOT EXISTS snapshot TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return fmt.Errorf("upgrade checkpoint table %s: %w", p.table, err)
	}
	return nil
}

// Load implements core.Checkpointer.
func (p *Postgres) Load(ctx context.Context, key string) (core.Checkpoint, bool, error) {
	var cp core.Checkpoint
	err := p.pool.QueryRow(ctx, `SELECT next_cursor, snapshot FROM `+p.table+` WHERE key = $1`, key).
		Scan(&cp.Cursor, &cp.Snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Checkpoint{}, false, nil
	}
	if err != nil {
		return core.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Save implements core.Checkpointer.
func (p *Postgres) Save(ctx context.Context, key string, cp core.Checkpoint) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO `+p.table+` (key, next_cursor, snapshot, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET
			next_cursor = EXCLUDED.next_cursor,
			snapshot    = EXCLUDED.snapshot,
			updated_at  = EXCLUDED.updated_at`,
		key, cp.Cursor, cp.Snapshot)
	return err
}

// Clear implements core.Checkpointer.
func (p *Postgres) Clear(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM `+p.table+` WHERE key = $1`, key)
	return err
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
