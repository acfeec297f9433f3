package db

import (
    "context"
    "fmt"
    "log/slog"
    "runtime"
    "time"

    "zombiezen.com/go/sqlite"
    "zombiezen.com/go/sqlite/sqlitex"
)

var sqlitePragmas = []string{
    "PRAGMA journal_mode=WAL",
    "PRAGMA synchronous=NORMAL",
    "PRAGMA busy_timeout=5000",
    "PRAGMA foreign_keys=ON",
    "PRAGMA temp_store=MEMORY",
}

type SQLite struct {
    pool   *sqlitex.Pool
    path   string
    logger *slog.Logger
}

// OpenSQLite opens a WAL-mode connection pool on path. The parent directory
// must exist.
func OpenSQLite(path string, size int, logger *slog.Logger) (*SQLite, error) {
    if path == "" { return nil, fmt.Errorf("sqlite: empty path") }
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    if size <= 0 {
        size = runtime.NumCPU()
        if size < 4 { size = 4 }
    }
    pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
        PoolSize: size,
        PrepareConn: func(conn *sqlite.Conn) error {
            for _, p := range sqlitePragmas {
                if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
                    return fmt.Errorf("%s: %w", p, err)
                }
            }
            return nil
        },
    })
    if err != nil { return nil, fmt.Errorf("sqlite open %s: %w", path, err) }
    logger.Info("store_open", "dialect", "sqlite", "path", path, "pool_size", size)
    return &SQLite{pool: pool, path: path, logger: logger}, nil
}

func (s *SQLite) Dialect() string { return "sqlite" }

func (s *SQLite) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
    conn, err := s.pool.Take(ctx)
    if err != nil { return nil, fmt.Errorf("sqlite take: %w", err) }
    defer s.pool.Put(conn)

    rows := []Row{}
    err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
        Args: args,
        ResultFunc: func(stmt *sqlite.Stmt) error {
            rows = append(rows, scanRow(stmt))
            return nil
        },
    })
    if err != nil { return nil, err }
    return rows, nil
}

func (s *SQLite) Exec(ctx context.Context, query string, args ...any) (ExecResult, error) {
    conn, err := s.pool.Take(ctx)
    if err != nil { return ExecResult{}, fmt.Errorf("sqlite take: %w", err) }
    defer s.pool.Put(conn)

    if err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
        return ExecResult{}, err
    }
    return ExecResult{Changes: int64(conn.Changes()), LastInsertID: conn.LastInsertRowID()}, nil
}

func scanRow(stmt *sqlite.Stmt) Row {
    row := make(Row, stmt.ColumnCount())
    for i := 0; i < stmt.ColumnCount(); i++ {
        name := stmt.ColumnName(i)
        switch stmt.ColumnType(i) {
        case sqlite.TypeInteger:
            row[name] = stmt.ColumnInt64(i)
        case sqlite.TypeFloat:
            row[name] = stmt.ColumnFloat(i)
        case sqlite.TypeText:
            row[name] = stmt.ColumnText(i)
        case sqlite.TypeBlob:
            buf := make([]byte, stmt.ColumnLen(i))
            stmt.ColumnBytes(i, buf)
            row[name] = buf
        default:
            row[name] = nil
        }
    }
    return row
}

func (s *SQLite) RecordRequest(ctx context.Context, rec RequestRecord) error {
    if rec.At.IsZero() { rec.At = time.Now() }
    _, err := s.Exec(ctx, `INSERT INTO request_log(request_id, client, method, path, status, state, duration_ms, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
        rec.RequestID, rec.Client, rec.Method, rec.Path, int64(rec.Status), rec.State,
        rec.Duration.Milliseconds(), rec.At.UTC().UnixMilli())
    if err != nil { return fmt.Errorf("record request: %w", err) }
    return nil
}

func (s *SQLite) PurgeRequests(ctx context.Context, before time.Time) (int64, error) {
    res, err := s.Exec(ctx, `DELETE FROM request_log WHERE created_at < ?`, before.UTC().UnixMilli())
    if err != nil { return 0, fmt.Errorf("purge requests: %w", err) }
    return res.Changes, nil
}

func (s *SQLite) EnsureMigrationsTable(ctx context.Context) error {
    _, err := s.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`)
    if err != nil { return fmt.Errorf("create schema_migrations: %w", err) }
    return nil
}

func (s *SQLite) MigrationApplied(ctx context.Context, name string) (bool, error) {
    rows, err := s.Query(ctx, `SELECT 1 AS present FROM schema_migrations WHERE name = ?`, name)
    if err != nil { return false, fmt.Errorf("check migration %s: %w", name, err) }
    return len(rows) > 0, nil
}

func (s *SQLite) ApplyMigration(ctx context.Context, name, script string) (err error) {
    conn, err := s.pool.Take(ctx)
    if err != nil { return fmt.Errorf("sqlite take: %w", err) }
    defer s.pool.Put(conn)

    endFn, err := sqlitex.ImmediateTransaction(conn)
    if err != nil { return fmt.Errorf("begin migration %s: %w", name, err) }
    defer endFn(&err)

    if err = sqlitex.ExecuteScript(conn, script, nil); err != nil {
        return fmt.Errorf("apply migration %s: %w", name, err)
    }
    err = sqlitex.ExecuteTransient(conn, `INSERT INTO schema_migrations(name, applied_at) VALUES(?, ?)`,
        &sqlitex.ExecOptions{Args: []any{name, time.Now().UTC().UnixMilli()}})
    if err != nil { return fmt.Errorf("record migration %s: %w", name, err) }
    return nil
}

func (s *SQLite) Close() error {
    if err := s.pool.Close(); err != nil {
        return fmt.Errorf("sqlite close %s: %w", s.path, err)
    }
    s.logger.Info("store_closed", "dialect", "sqlite", "path", s.path)
    return nil
}
