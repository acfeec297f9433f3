package gateway

import (
    "encoding/base64"
    "fmt"
    "sort"
    "strings"
    "unicode/utf8"

    "wiregate/internal/types"
)

var errPromptTooLarge = fmt.Errorf("prompt exceeds ceiling")

// buildPrompt renders the request as the plain-text description handed to
// the delegate. Bodies that are not valid UTF-8 are sent base64 encoded.
func buildPrompt(id string, req *types.ParsedRequest, max int) (string, error) {
    var b strings.Builder
    fmt.Fprintf(&b, "Request ID: %s\n", id)
    fmt.Fprintf(&b, "%s %s %s\n", req.Method, req.Path, req.Version)
    if len(req.Query) > 0 {
        b.WriteString("\nQuery:\n")
        for _, kv := range req.Query {
            fmt.Fprintf(&b, "  %s=%s\n", kv.Key, kv.Value)
        }
    }
    if len(req.Headers) > 0 {
        b.WriteString("\nHeaders:\n")
        names := make([]string, 0, len(req.Headers))
        for name := range req.Headers { names = append(names, name) }
        sort.Strings(names)
        for _, name := range names {
            for _, v := range req.Headers[name] {
                fmt.Fprintf(&b, "  %s: %s\n", name, v)
            }
        }
    }
    if len(req.Body) > 0 {
        if utf8.Valid(req.Body) {
            fmt.Fprintf(&b, "\nBody (%d bytes):\n", len(req.Body))
            b.Write(req.Body)
        } else {
            fmt.Fprintf(&b, "\nBody (%d bytes, base64):\n", len(req.Body))
            b.WriteString(base64.StdEncoding.EncodeToString(req.Body))
        }
        b.WriteByte('\n')
    }
    if max > 0 && b.Len() > max {
        return "", errPromptTooLarge
    }
    return b.String(), nil
}
