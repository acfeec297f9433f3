package db

import (
    "context"
    "fmt"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
    Pool *pgxpool.Pool
}

func ConnectPostgres(ctx context.Context, url string) (*Postgres, error) {
    cfg, err := pgxpool.ParseConfig(url)
    if err != nil {
        return nil, fmt.Errorf("parse db url: %w", err)
    }
    cfg.MaxConns = 10
    pool, err := pgxpool.NewWithConfig(ctx, cfg)
    if err != nil {
        return nil, fmt.Errorf("pgxpool: %w", err)
    }
    ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := pool.Ping(ctxPing); err != nil {
        pool.Close()
        return nil, fmt.Errorf("db ping: %w", err)
    }
    return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Dialect() string { return "postgres" }

func (p *Postgres) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
    rows, err := p.Pool.Query(ctx, query, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    fields := rows.FieldDescriptions()
    out := []Row{}
    for rows.Next() {
        vals, err := rows.Values()
        if err != nil { return nil, err }
        row := make(Row, len(fields))
        for i, f := range fields {
            row[f.Name] = vals[i]
        }
        out = append(out, row)
    }
    return out, rows.Err()
}

// Exec reports LastInsertID as 0; Postgres has no implicit row id.
func (p *Postgres) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
    tag, err := p.Pool.Exec(ctx, query, args...)
    if err != nil { return ExecResult{}, err }
    return ExecResult{Changes: tag.RowsAffected()}, nil
}

func (p *Postgres) RecordRequest(ctx context.Context, rec RequestRecord) error {
    if rec.At.IsZero() { rec.At = time.Now() }
    _, err := p.Pool.Exec(ctx, `INSERT INTO request_log(request_id, client, method, path, status, state, duration_ms, created_at)
        VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
        rec.RequestID, rec.Client, rec.Method, rec.Path, rec.Status, rec.State, rec.Duration.Milliseconds(), rec.At)
    if err != nil { return fmt.Errorf("record request: %w", err) }
    return nil
}

func (p *Postgres) PurgeRequests(ctx context.Context, before time.Time) (int64, error) {
    tag, err := p.Pool.Exec(ctx, `DELETE FROM request_log WHERE created_at < $1`, before)
    if err != nil { return 0, fmt.Errorf("purge requests: %w", err) }
    return tag.RowsAffected(), nil
}

func (p *Postgres) EnsureMigrationsTable(ctx context.Context) error {
    if _, err := p.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
        return fmt.Errorf("create schema_migrations: %w", err)
    }
    return nil
}

func (p *Postgres) MigrationApplied(ctx context.Context, name string) (bool, error) {
    var exists bool
    if err := p.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&exists); err != nil {
        return false, fmt.Errorf("check migration %s: %w", name, err)
    }
    return exists, nil
}

func (p *Postgres) ApplyMigration(ctx context.Context, name, script string) error {
    tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return fmt.Errorf("begin tx: %w", err)
    }
    if _, err := tx.Exec(ctx, script); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("apply migration %s: %w", name, err)
    }
    if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(name) VALUES($1)`, name); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("record migration %s: %w", name, err)
    }
    if err := tx.Commit(ctx); err != nil {
        return fmt.Errorf("commit migration %s: %w", name, err)
    }
    return nil
}

func (p *Postgres) Close() error {
    p.Pool.Close()
    return nil
}
