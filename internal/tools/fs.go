package tools

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "io/fs"
    "log/slog"
    "os"
    "path/filepath"

    "wiregate/internal/sandbox"
)

// FS exposes sandboxed file operations. Every call validates its path right
// before touching the filesystem.
type FS struct {
    sandbox      *sandbox.Validator
    maxFileBytes int64
    maxEntries   int
    logger       *slog.Logger
}

func NewFS(v *sandbox.Validator, maxFileBytes int64, maxEntries int, logger *slog.Logger) *FS {
    if maxFileBytes <= 0 { maxFileBytes = 1 << 20 }
    if maxEntries <= 0 { maxEntries = 1000 }
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    return &FS{sandbox: v, maxFileBytes: maxFileBytes, maxEntries: maxEntries, logger: logger}
}

type pathInput struct {
    Path string `json:"path"`
}

type writeInput struct {
    Path    string `json:"path"`
    Content string `json:"content"`
}

type ReadResult struct {
    Success bool   `json:"success"`
    Content string `json:"content"`
    Size    int64  `json:"size"`
}

type WriteResult struct {
    Success      bool `json:"success"`
    BytesWritten int  `json:"bytesWritten"`
}

type Entry struct {
    Name string `json:"name"`
    Type string `json:"type"`
    Path string `json:"path"`
}

type ListResult struct {
    Success   bool    `json:"success"`
    Entries   []Entry `json:"entries"`
    Count     int     `json:"count"`
    Truncated bool    `json:"truncated"`
}

type MkdirResult struct {
    Success bool `json:"success"`
}

// Register adds read_file, write_file, list_directory and make_directory.
func (f *FS) Register(r *Registry) {
    r.Register(&Tool{
        Name:        "read_file",
        Description: "Read a text file inside the sandbox. Paths are relative to the sandbox root.",
        Parameters:  json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
        ReadOnly:    true,
        Execute: func(ctx context.Context, input json.RawMessage) any {
            var in pathInput
            if err := decodeInput(input, &in); err != nil { return fail("Invalid input") }
            return f.ReadFile(ctx, in.Path)
        },
    })
    r.Register(&Tool{
        Name:        "write_file",
        Description: "Create or overwrite a file inside the sandbox. The parent directory must exist.",
        Parameters:  json.RawMessage(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`),
        Execute: func(ctx context.Context, input json.RawMessage) any {
            var in writeInput
            if err := decodeInput(input, &in); err != nil { return fail("Invalid input") }
            return f.WriteFile(ctx, in.Path, in.Content)
        },
    })
    r.Register(&Tool{
        Name:        "list_directory",
        Description: "List a directory inside the sandbox. Use \".\" for the sandbox root.",
        Parameters:  json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
        ReadOnly:    true,
        Execute: func(ctx context.Context, input json.RawMessage) any {
            var in pathInput
            if err := decodeInput(input, &in); err != nil { return fail("Invalid input") }
            return f.ListDirectory(ctx, in.Path)
        },
    })
    r.Register(&Tool{
        Name:        "make_directory",
        Description: "Create one directory inside the sandbox. Its parent must already exist.",
        Parameters:  json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
        Execute: func(ctx context.Context, input json.RawMessage) any {
            var in pathInput
            if err := decodeInput(input, &in); err != nil { return fail("Invalid input") }
            return f.MakeDirectory(ctx, in.Path)
        },
    })
}

func (f *FS) ReadFile(_ context.Context, rel string) any {
    p, err := f.sandbox.Validate(rel)
    if err != nil { return f.failure("read_file", err) }
    info, err := os.Stat(p)
    if err != nil { return f.failure("read_file", err) }
    if info.IsDir() { return fail("Path is a directory") }
    if info.Size() > f.maxFileBytes { return fail("File too large") }

    file, err := os.Open(p)
    if err != nil { return f.failure("read_file", err) }
    defer file.Close()
    data, err := io.ReadAll(io.LimitReader(file, f.maxFileBytes+1))
    if err != nil { return f.failure("read_file", err) }
    if int64(len(data)) > f.maxFileBytes { return fail("File too large") }
    return ReadResult{Success: true, Content: string(data), Size: int64(len(data))}
}

func (f *FS) WriteFile(_ context.Context, rel, content string) any {
    if int64(len(content)) > f.maxFileBytes { return fail("Content too large") }
    p, err := f.sandbox.Validate(rel)
    if err != nil { return f.failure("write_file", err) }
    if info, err := os.Stat(p); err == nil && info.IsDir() { return fail("Path is a directory") }

    file, err := openNoFollow(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
    if err != nil { return f.failure("write_file", err) }
    n, err := file.WriteString(content)
    if cerr := file.Close(); err == nil { err = cerr }
    if err != nil { return f.failure("write_file", err) }
    return WriteResult{Success: true, BytesWritten: n}
}

func (f *FS) ListDirectory(_ context.Context, rel string) any {
    if rel == "" { rel = "." }
    p, err := f.sandbox.Validate(rel)
    if err != nil { return f.failure("list_directory", err) }
    dir, err := os.Open(p)
    if err != nil { return f.failure("list_directory", err) }
    defer dir.Close()
    // one extra entry tells us whether the listing was cut short
    des, err := dir.ReadDir(f.maxEntries + 1)
    if err != nil && !errors.Is(err, io.EOF) { return f.failure("list_directory", err) }

    res := ListResult{Success: true, Entries: []Entry{}}
    if len(des) > f.maxEntries {
        des = des[:f.maxEntries]
        res.Truncated = true
    }
    for _, de := range des {
        full := filepath.Join(p, de.Name())
        relPath, err := filepath.Rel(f.sandbox.Root(), full)
        if err != nil { continue }
        res.Entries = append(res.Entries, Entry{Name: de.Name(), Type: entryType(de.Type()), Path: filepath.ToSlash(relPath)})
    }
    res.Count = len(res.Entries)
    return res
}

func (f *FS) MakeDirectory(_ context.Context, rel string) any {
    p, err := f.sandbox.Validate(rel)
    if err != nil { return f.failure("make_directory", err) }
    if err := os.Mkdir(p, 0o755); err != nil { return f.failure("make_directory", err) }
    return MkdirResult{Success: true}
}

func entryType(m fs.FileMode) string {
    switch {
    case m.IsDir():
        return "directory"
    case m&fs.ModeSymlink != 0:
        return "symlink"
    case m.IsRegular():
        return "file"
    default:
        return "other"
    }
}

// failure turns err into a caller-safe message. Sandbox denials keep their
// policy reason; everything else is logged and reported generically.
func (f *FS) failure(op string, err error) any {
    var denied *sandbox.DeniedError
    switch {
    case errors.As(err, &denied):
        return fail(denied.Error())
    case errors.Is(err, fs.ErrNotExist):
        return fail("File not found")
    case errors.Is(err, fs.ErrExist):
        return fail("Path already exists")
    case errors.Is(err, fs.ErrPermission):
        return fail("Permission denied")
    }
    f.logger.Warn("tool_fs_error", "op", op, "error", err)
    return fail("Filesystem error")
}
