package sandbox

import (
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "strings"

    "golang.org/x/text/cases"
    "golang.org/x/text/unicode/norm"
)

// DeniedError carries a policy reason only. It never includes a path, so it
// is safe to hand back to the delegate.
type DeniedError struct {
    Reason string
}

func (e *DeniedError) Error() string { return "access denied: " + e.Reason }

func deny(reason string) error { return &DeniedError{Reason: reason} }

// IsDenied reports whether err is a sandbox policy denial.
func IsDenied(err error) bool {
    var d *DeniedError
    return errors.As(err, &d)
}

// Validator confines caller-supplied relative paths to a single root.
type Validator struct {
    root string
}

// New resolves root to an absolute, symlink-free directory.
func New(root string) (*Validator, error) {
    abs, err := filepath.Abs(root)
    if err != nil {
        return nil, fmt.Errorf("resolve sandbox root: %w", err)
    }
    resolved, err := filepath.EvalSymlinks(abs)
    if err != nil {
        return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
    }
    info, err := os.Stat(resolved)
    if err != nil {
        return nil, fmt.Errorf("stat sandbox root: %w", err)
    }
    if !info.IsDir() {
        return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
    }
    return &Validator{root: resolved}, nil
}

func (v *Validator) Root() string { return v.root }

// Validate returns the absolute path rel refers to inside the root. Rules are
// checked in order and the first violation wins. The result is only good for
// one filesystem operation; validate again before the next one.
func (v *Validator) Validate(rel string) (string, error) {
    if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
        return "", deny("absolute paths are not allowed")
    }
    if strings.IndexByte(rel, 0) >= 0 {
        return "", deny("path contains a null character")
    }
    if strings.HasSuffix(rel, "/") || strings.HasSuffix(rel, string(filepath.Separator)) {
        return "", deny("path must not end with a separator")
    }

    joined := filepath.Join(v.root, rel)
    if !v.contains(joined) {
        return "", deny("path escapes the sandbox root")
    }

    if _, err := os.Lstat(joined); err == nil {
        real, err := filepath.EvalSymlinks(joined)
        if err != nil {
            return "", deny("path could not be resolved")
        }
        if !v.contains(real) {
            return "", deny("path resolves outside the sandbox root")
        }
        return real, nil
    } else if !errors.Is(err, fs.ErrNotExist) {
        return "", deny("path could not be resolved")
    }

    parent, err := filepath.EvalSymlinks(filepath.Dir(joined))
    if err != nil {
        return "", deny("parent directory does not exist")
    }
    if !v.contains(parent) {
        return "", deny("parent directory resolves outside the sandbox root")
    }
    return filepath.Join(parent, filepath.Base(joined)), nil
}

// contains requires p to sit under the root both byte for byte and in
// case-folded, NFC-normalised form. Folding can only reject more paths: a
// sibling that differs from the root by case alone never passes.
func (v *Validator) contains(p string) bool {
    p = filepath.Clean(p)
    return hasPathPrefix(p, v.root) && hasPathPrefix(fold(p), fold(v.root))
}

func hasPathPrefix(p, root string) bool {
    if p == root {
        return true
    }
    if !strings.HasSuffix(root, string(filepath.Separator)) {
        root += string(filepath.Separator)
    }
    return strings.HasPrefix(p, root)
}

func fold(s string) string {
    return cases.Fold().String(norm.NFC.String(s))
}
