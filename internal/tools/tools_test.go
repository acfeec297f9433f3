package tools

import (
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "wiregate/internal/db"
    "wiregate/internal/sandbox"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
    t.Helper()
    root := t.TempDir()
    if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
        t.Fatal(err)
    }
    if err := os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello"), 0o644); err != nil {
        t.Fatal(err)
    }
    v, err := sandbox.New(root)
    if err != nil {
        t.Fatal(err)
    }
    store, err := db.OpenSQLite(filepath.Join(t.TempDir(), "tools.db"), 2, nil)
    if err != nil {
        t.Fatal(err)
    }
    t.Cleanup(func() { store.Close() })

    r := NewRegistry(nil)
    NewFS(v, 16, 2, nil).Register(r)
    NewSQL(store, 256, nil).Register(r)
    return r, v.Root()
}

func call(t *testing.T, r *Registry, name, input string) map[string]any {
    t.Helper()
    var out map[string]any
    if err := json.Unmarshal(r.Call(context.Background(), name, json.RawMessage(input)), &out); err != nil {
        t.Fatalf("decode %s result: %v", name, err)
    }
    return out
}

func TestReadFile(t *testing.T) {
    r, _ := newTestRegistry(t)
    out := call(t, r, "read_file", `{"path":"docs/a.txt"}`)
    if out["success"] != true || out["content"] != "hello" || out["size"] != float64(5) {
        t.Fatalf("read = %v", out)
    }
    out = call(t, r, "read_file", `{"path":"docs/missing.txt"}`)
    if out["success"] != false || out["error"] != "File not found" {
        t.Fatalf("missing = %v", out)
    }
}

func TestReadFileTooLarge(t *testing.T) {
    r, root := newTestRegistry(t)
    if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("x", 17)), 0o644); err != nil {
        t.Fatal(err)
    }
    out := call(t, r, "read_file", `{"path":"big.txt"}`)
    if out["success"] != false || out["error"] != "File too large" {
        t.Fatalf("big = %v", out)
    }
}

func TestWriteFile(t *testing.T) {
    r, root := newTestRegistry(t)
    out := call(t, r, "write_file", `{"path":"docs/new.txt","content":"héllo"}`)
    if out["success"] != true || out["bytesWritten"] != float64(6) {
        t.Fatalf("write = %v", out)
    }
    got, err := os.ReadFile(filepath.Join(root, "docs", "new.txt"))
    if err != nil || string(got) != "héllo" {
        t.Fatalf("file = %q, %v", got, err)
    }

    out = call(t, r, "write_file", `{"path":"docs/big.txt","content":"`+strings.Repeat("y", 17)+`"}`)
    if out["success"] != false || out["error"] != "Content too large" {
        t.Fatalf("oversized write = %v", out)
    }
}

func TestWriteFileDeniedWithoutLeakingPath(t *testing.T) {
    r, root := newTestRegistry(t)
    for _, p := range []string{"../secret", "/etc/passwd", "nope/deeper/file.txt"} {
        out := call(t, r, "write_file", `{"path":"`+p+`","content":"x"}`)
        msg, _ := out["error"].(string)
        if out["success"] != false || !strings.HasPrefix(msg, "access denied: ") {
            t.Fatalf("write %q = %v", p, out)
        }
        if strings.Contains(msg, root) || strings.Contains(msg, "secret") {
            t.Fatalf("error leaks path: %q", msg)
        }
    }
    if _, err := os.Stat(filepath.Join(filepath.Dir(root), "secret")); err == nil {
        t.Fatal("file written outside the sandbox")
    }
}

func TestWriteFileRefusesSymlinkOut(t *testing.T) {
    r, root := newTestRegistry(t)
    outside := filepath.Join(t.TempDir(), "target.txt")
    if err := os.WriteFile(outside, []byte("orig"), 0o644); err != nil {
        t.Fatal(err)
    }
    if err := os.Symlink(outside, filepath.Join(root, "link.txt")); err != nil {
        t.Skipf("symlinks unsupported: %v", err)
    }
    out := call(t, r, "write_file", `{"path":"link.txt","content":"pwned"}`)
    if out["success"] != false {
        t.Fatalf("write through symlink = %v", out)
    }
    if got, _ := os.ReadFile(outside); string(got) != "orig" {
        t.Fatalf("outside file modified: %q", got)
    }
}

func TestListDirectory(t *testing.T) {
    r, root := newTestRegistry(t)
    out := call(t, r, "list_directory", `{"path":"docs"}`)
    if out["success"] != true || out["count"] != float64(1) || out["truncated"] != false {
        t.Fatalf("list = %v", out)
    }
    entry := out["entries"].([]any)[0].(map[string]any)
    if entry["name"] != "a.txt" || entry["type"] != "file" || entry["path"] != "docs/a.txt" {
        t.Fatalf("entry = %v", entry)
    }

    for _, name := range []string{"b", "c", "d"} {
        os.WriteFile(filepath.Join(root, name), nil, 0o644)
    }
    out = call(t, r, "list_directory", `{"path":"."}`)
    if out["count"] != float64(2) || out["truncated"] != true {
        t.Fatalf("capped list = %v", out)
    }
}

func TestMakeDirectoryOneLevel(t *testing.T) {
    r, root := newTestRegistry(t)
    out := call(t, r, "make_directory", `{"path":"docs/sub"}`)
    if out["success"] != true {
        t.Fatalf("mkdir = %v", out)
    }
    if info, err := os.Stat(filepath.Join(root, "docs", "sub")); err != nil || !info.IsDir() {
        t.Fatalf("directory not created: %v", err)
    }
    out = call(t, r, "make_directory", `{"path":"x/y/z"}`)
    if out["success"] != false {
        t.Fatalf("deep mkdir = %v", out)
    }
    out = call(t, r, "make_directory", `{"path":"docs"}`)
    if out["error"] != "Path already exists" {
        t.Fatalf("existing mkdir = %v", out)
    }
}

func TestExecuteSQL(t *testing.T) {
    r, _ := newTestRegistry(t)
    out := call(t, r, "execute_sql", `{"query":"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"}`)
    if out["success"] != true {
        t.Fatalf("create = %v", out)
    }
    out = call(t, r, "execute_sql", `{"query":"INSERT INTO notes(body) VALUES (?)","params":["first"]}`)
    if out["success"] != true || out["changes"] != float64(1) || out["lastInsertRowid"] != float64(1) {
        t.Fatalf("insert = %v", out)
    }
    out = call(t, r, "execute_sql", `{"query":"SELECT id, body FROM notes WHERE id = ?","params":[1]}`)
    if out["success"] != true || out["rowCount"] != float64(1) {
        t.Fatalf("select = %v", out)
    }
    row := out["rows"].([]any)[0].(map[string]any)
    if row["body"] != "first" {
        t.Fatalf("row = %v", row)
    }
}

func TestExecuteSQLErrorsAreGeneric(t *testing.T) {
    r, _ := newTestRegistry(t)
    out := call(t, r, "execute_sql", `{"query":"SELECT * FROM no_such_table"}`)
    if out["success"] != false || out["error"] != "Database error" {
        t.Fatalf("bad query = %v", out)
    }
    out = call(t, r, "execute_sql", `{"query":"SELECT '`+strings.Repeat("a", 300)+`'"}`)
    if out["error"] != "Query too large" {
        t.Fatalf("oversized = %v", out)
    }
    out = call(t, r, "execute_sql", `{"query":"SELECT ?","params":[{"a":1}]}`)
    if out["error"] != "Unsupported parameter type" {
        t.Fatalf("object param = %v", out)
    }
}

func TestIsReadOnly(t *testing.T) {
    tests := []struct {
        q    string
        want bool
    }{
        {"SELECT 1", true},
        {"  select * from t", true},
        {"WITH x AS (SELECT 1) SELECT * FROM x", true},
        {"EXPLAIN QUERY PLAN SELECT 1", true},
        {"PRAGMA table_info(t)", true},
        {"PRAGMA journal_mode = DELETE", false},
        {"SELECTED", false},
        {"INSERT INTO t VALUES (1)", false},
        {"DELETE FROM t", false},
    }
    for _, tt := range tests {
        if got := IsReadOnly(tt.q); got != tt.want {
            t.Errorf("IsReadOnly(%q) = %v, want %v", tt.q, got, tt.want)
        }
    }
}

func TestUnknownTool(t *testing.T) {
    r, _ := newTestRegistry(t)
    out := call(t, r, "rm_rf", `{}`)
    if out["success"] != false || out["error"] != "Unknown tool" {
        t.Fatalf("unknown = %v", out)
    }
    if n := len(r.Definitions()); n != 5 {
        t.Fatalf("definitions = %d, want 5", n)
    }
}
