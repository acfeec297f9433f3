package db

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "math"
    "strings"
    "time"
)

// Row is one result row keyed by column name.
type Row map[string]any

// ExecResult is what a mutating statement reports back.
type ExecResult struct {
    Changes      int64
    LastInsertID int64
}

// RequestRecord is one line of the gateway's audit log.
type RequestRecord struct {
    RequestID string
    Client    string
    Method    string
    Path      string
    Status    int
    State     string
    Duration  time.Duration
    At        time.Time
}

// Store is the persistent relational store shared by the statement tool, the
// audit log and migrations. Implementations are safe for concurrent use;
// writers serialize inside the engine.
type Store interface {
    Dialect() string
    Query(ctx context.Context, query string, args ...any) ([]Row, error)
    Exec(ctx context.Context, query string, args ...any) (ExecResult, error)
    RecordRequest(ctx context.Context, rec RequestRecord) error
    PurgeRequests(ctx context.Context, before time.Time) (int64, error)

    EnsureMigrationsTable(ctx context.Context) error
    MigrationApplied(ctx context.Context, name string) (bool, error)
    ApplyMigration(ctx context.Context, name, script string) error

    Close() error
}

var ErrUnsupportedArg = errors.New("unsupported statement parameter")

// Open picks the engine from the URL: postgres:// and postgresql:// go to
// Postgres, everything else is a SQLite file path (an optional sqlite://
// prefix is stripped).
func Open(ctx context.Context, url string, logger *slog.Logger) (Store, error) {
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    switch {
    case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
        pg, err := ConnectPostgres(ctx, url)
        if err != nil { return nil, err }
        logger.Info("store_open", "dialect", "postgres")
        return pg, nil
    case url == "":
        return nil, fmt.Errorf("empty store url")
    default:
        lite, err := OpenSQLite(strings.TrimPrefix(url, "sqlite://"), 0, logger)
        if err != nil { return nil, err }
        return lite, nil
    }
}

// NormalizeArgs converts decoded JSON parameters into the scalar types both
// engines bind. Whole floats become int64 so that integer columns compare.
func NormalizeArgs(params []any) ([]any, error) {
    out := make([]any, len(params))
    for i, p := range params {
        switch v := p.(type) {
        case nil, string, bool, int64, []byte:
            out[i] = v
        case int:
            out[i] = int64(v)
        case float64:
            if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
                out[i] = int64(v)
            } else {
                out[i] = v
            }
        case json.Number:
            if n, err := v.Int64(); err == nil {
                out[i] = n
            } else if f, err := v.Float64(); err == nil {
                out[i] = f
            } else {
                return nil, fmt.Errorf("parameter %d: %w", i+1, ErrUnsupportedArg)
            }
        default:
            return nil, fmt.Errorf("parameter %d: %w", i+1, ErrUnsupportedArg)
        }
    }
    return out, nil
}
