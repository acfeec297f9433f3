package logging

import (
    "io"
    "log/slog"
    "regexp"
    "strings"
)

const redacted = "[REDACTED]"

var sensitiveKey = regexp.MustCompile(`(?i)(pass(word|wd)?|secret|token|api[_-]?key|authorization|cookie|credential)`)

var valuePatterns = []struct {
    re   *regexp.Regexp
    repl string
}{
    {regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer " + redacted},
    {regexp.MustCompile(`(?i)\bbasic\s+[A-Za-z0-9+/=]+`), "Basic " + redacted},
    {regexp.MustCompile(`(?i)((?:set-)?cookie\s*:\s*)[^\r\n]+`), "${1}" + redacted},
    {regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`), "://" + redacted + "@"},
    {regexp.MustCompile(`(?i)\b((?:password|passwd|pwd|token|secret|api[_-]?key|access[_-]?key)\s*[=:]\s*"?)[^\s&,;"]+`), "${1}" + redacted},
}

// Redact masks credentials found inside free text.
func Redact(s string) string {
    for _, p := range valuePatterns {
        s = p.re.ReplaceAllString(s, p.repl)
    }
    return s
}

// New builds the process logger. format is "json" or "text"; unknown levels
// fall back to info. Every attribute passes through the redactor.
func New(level, format string, w io.Writer) *slog.Logger {
    opts := &slog.HandlerOptions{Level: ParseLevel(level), ReplaceAttr: redactAttr}
    if strings.EqualFold(format, "text") {
        return slog.New(slog.NewTextHandler(w, opts))
    }
    return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(s string) slog.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return slog.LevelDebug
    case "warn", "warning":
        return slog.LevelWarn
    case "error":
        return slog.LevelError
    default:
        return slog.LevelInfo
    }
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
    if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
        return a
    }
    if a.Key != slog.MessageKey && sensitiveKey.MatchString(a.Key) {
        return slog.String(a.Key, redacted)
    }
    v := a.Value.Resolve()
    switch v.Kind() {
    case slog.KindString:
        return slog.String(a.Key, Redact(v.String()))
    case slog.KindAny:
        if err, ok := v.Any().(error); ok {
            return slog.String(a.Key, Redact(err.Error()))
        }
    }
    return a
}
