package migrate

import (
    "context"
    "embed"
    "fmt"
    "sort"
    "strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Target is a store that can record and run migrations for its own dialect.
type Target interface {
    Dialect() string
    EnsureMigrationsTable(ctx context.Context) error
    MigrationApplied(ctx context.Context, name string) (bool, error)
    ApplyMigration(ctx context.Context, name, script string) error
}

// Apply runs every embedded migration for the target's dialect that has not
// been recorded yet, in file name order. Returns the names it applied.
func Apply(ctx context.Context, t Target) ([]string, error) {
    dir := "migrations/" + t.Dialect()
    if err := t.EnsureMigrationsTable(ctx); err != nil {
        return nil, err
    }

    entries, err := migrationsFS.ReadDir(dir)
    if err != nil {
        return nil, fmt.Errorf("read migrations for %s: %w", t.Dialect(), err)
    }
    names := make([]string, 0, len(entries))
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)

    var applied []string
    for _, name := range names {
        exists, err := t.MigrationApplied(ctx, name)
        if err != nil {
            return applied, err
        }
        if exists {
            continue
        }
        sqlBytes, err := migrationsFS.ReadFile(dir + "/" + name)
        if err != nil {
            return applied, fmt.Errorf("read migration %s: %w", name, err)
        }
        if err := t.ApplyMigration(ctx, name, string(sqlBytes)); err != nil {
            return applied, err
        }
        applied = append(applied, name)
    }
    return applied, nil
}
