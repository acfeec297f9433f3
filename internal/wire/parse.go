package wire

import (
    "bytes"
    "errors"
    "net/url"
    "strings"

    "wiregate/internal/types"
)

var (
    ErrMalformedRequest = errors.New("malformed request")
    ErrInvalidEnvelope  = errors.New("invalid response envelope")
)

var crlf = []byte("\r\n")

// Parse decodes a complete HTTP/1.1 request. Lines are split on CRLF; the
// body is every byte after the first empty line, untouched.
func Parse(data []byte) (*types.ParsedRequest, error) {
    if len(data) == 0 {
        return nil, ErrMalformedRequest
    }
    line, rest, more := bytes.Cut(data, crlf)
    method, target, version, err := parseRequestLine(string(line))
    if err != nil { return nil, err }

    path, rawQuery, _ := strings.Cut(target, "?")
    if path == "" {
        return nil, ErrMalformedRequest
    }
    query, err := parseQuery(rawQuery)
    if err != nil { return nil, err }

    req := &types.ParsedRequest{
        Method:  method,
        Path:    path,
        Query:   query,
        Version: version,
        Headers: map[string][]string{},
        Body:    []byte{},
    }
    for more {
        line, rest, more = bytes.Cut(rest, crlf)
        if len(line) == 0 {
            if more { req.Body = rest }
            break
        }
        idx := bytes.IndexByte(line, ':')
        if idx <= 0 { continue }
        name := strings.ToLower(strings.TrimSpace(string(line[:idx])))
        if name == "" { continue }
        value := strings.TrimSpace(string(line[idx+1:]))
        req.Headers[name] = append(req.Headers[name], value)
    }
    return req, nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
    parts := strings.Split(line, " ")
    if len(parts) != 3 {
        return "", "", "", ErrMalformedRequest
    }
    method, target, version = parts[0], parts[1], parts[2]
    if !isToken(method) || target == "" || !validVersion(version) {
        return "", "", "", ErrMalformedRequest
    }
    for i := 0; i < len(target); i++ {
        if target[i] < 0x21 || target[i] == 0x7f {
            return "", "", "", ErrMalformedRequest
        }
    }
    return method, target, version, nil
}

// parseQuery splits on '&'; a pair without '=' is a key with an empty value
// and an empty key is dropped. Duplicate keys keep the last value. Only
// percent escapes are decoded, so '+' stays a literal plus.
func parseQuery(raw string) (types.Params, error) {
    params := types.Params{}
    if raw == "" {
        return params, nil
    }
    for _, pair := range strings.Split(raw, "&") {
        k, v, _ := strings.Cut(pair, "=")
        key, err := url.PathUnescape(k)
        if err != nil { return nil, ErrMalformedRequest }
        if key == "" { continue }
        value, err := url.PathUnescape(v)
        if err != nil { return nil, ErrMalformedRequest }
        params.Set(key, value)
    }
    return params, nil
}

func validVersion(v string) bool {
    return len(v) == 8 && strings.HasPrefix(v, "HTTP/") &&
        isDigit(v[5]) && v[6] == '.' && isDigit(v[7])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isToken(s string) bool {
    if s == "" { return false }
    for i := 0; i < len(s); i++ {
        if !isTokenChar(s[i]) { return false }
    }
    return true
}

func isTokenChar(c byte) bool {
    if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) {
        return true
    }
    return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
