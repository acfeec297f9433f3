package tools

import (
    "bytes"
    "context"
    "encoding/json"
    "log/slog"
    "strings"

    "wiregate/internal/db"
)

// SQL runs single statements against the store. Statements that start with
// a read-only keyword return rows; everything else reports change counts.
type SQL struct {
    store         db.Store
    maxQueryBytes int
    logger        *slog.Logger
}

func NewSQL(store db.Store, maxQueryBytes int, logger *slog.Logger) *SQL {
    if maxQueryBytes <= 0 { maxQueryBytes = 64 << 10 }
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    return &SQL{store: store, maxQueryBytes: maxQueryBytes, logger: logger}
}

type sqlInput struct {
    Query  string `json:"query"`
    Params []any  `json:"params"`
}

type QueryResult struct {
    Success  bool     `json:"success"`
    Rows     []db.Row `json:"rows"`
    RowCount int      `json:"rowCount"`
}

type ExecResult struct {
    Success         bool  `json:"success"`
    Changes         int64 `json:"changes"`
    LastInsertRowid int64 `json:"lastInsertRowid"`
}

func (s *SQL) Register(r *Registry) {
    r.Register(&Tool{
        Name:        "execute_sql",
        Description: "Execute one SQL statement against the " + s.store.Dialect() + " store with optional positional params.",
        Parameters:  json.RawMessage(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"},"params":{"type":"array"}}}`),
        Execute: func(ctx context.Context, input json.RawMessage) any {
            if len(input) == 0 { return fail("Invalid input") }
            var in sqlInput
            dec := json.NewDecoder(bytes.NewReader(input))
            dec.UseNumber()
            if err := dec.Decode(&in); err != nil { return fail("Invalid input") }
            return s.Execute(ctx, in.Query, in.Params)
        },
    })
}

func (s *SQL) Execute(ctx context.Context, query string, params []any) any {
    if strings.TrimSpace(query) == "" { return fail("Query is empty") }
    if len(query) > s.maxQueryBytes { return fail("Query too large") }
    args, err := db.NormalizeArgs(params)
    if err != nil { return fail("Unsupported parameter type") }

    if IsReadOnly(query) {
        rows, err := s.store.Query(ctx, query, args...)
        if err != nil {
            s.logger.Warn("tool_sql_error", "error", err)
            return fail("Database error")
        }
        return QueryResult{Success: true, Rows: rows, RowCount: len(rows)}
    }
    res, err := s.store.Exec(ctx, query, args...)
    if err != nil {
        s.logger.Warn("tool_sql_error", "error", err)
        return fail("Database error")
    }
    return ExecResult{Success: true, Changes: res.Changes, LastInsertRowid: res.LastInsertID}
}

var readOnlyPrefixes = []string{"SELECT", "WITH", "EXPLAIN"}

// IsReadOnly reports whether the statement's leading keyword is one that
// returns rows. PRAGMA counts only when it does not assign.
func IsReadOnly(query string) bool {
    q := strings.ToUpper(strings.TrimLeft(query, " \t\r\n("))
    for _, p := range readOnlyPrefixes {
        if hasKeyword(q, p) { return true }
    }
    return hasKeyword(q, "PRAGMA") && !strings.Contains(q, "=")
}

func hasKeyword(q, kw string) bool {
    if !strings.HasPrefix(q, kw) { return false }
    if len(q) == len(kw) { return true }
    c := q[len(kw)]
    return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '(' || c == ';'
}
