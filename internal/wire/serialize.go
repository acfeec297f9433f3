package wire

import (
    "bytes"
    "encoding/json"
    "fmt"
    "net/http"
    "net/textproto"
    "strconv"
    "strings"

    "wiregate/internal/types"
)

// Serialize renders an envelope as HTTP/1.1 bytes: status line, one
// "Name: value" line per header value, a blank line, then the body.
func Serialize(env *types.ResponseEnvelope) ([]byte, error) {
    if env == nil || !env.Preamble.Complete() {
        return nil, fmt.Errorf("%w: incomplete preamble", ErrInvalidEnvelope)
    }
    p := env.Preamble
    if strings.ContainsAny(p.Version, " \r\n") || strings.ContainsAny(p.Reason, "\r\n") {
        return nil, fmt.Errorf("%w: preamble contains line breaks", ErrInvalidEnvelope)
    }

    headers, err := mergeHeaders(env.Headers)
    if err != nil { return nil, err }

    body, err := encodeBody(env.Body)
    if err != nil { return nil, err }

    hasLength := false
    for _, h := range headers {
        if h.Name == "Content-Length" { hasLength = true }
    }
    if !hasLength && len(body) > 0 {
        headers = append(headers, types.Header{Name: "Content-Length", Values: []string{strconv.Itoa(len(body))}})
    }

    var buf bytes.Buffer
    buf.WriteString(p.Version)
    buf.WriteByte(' ')
    buf.WriteString(strconv.Itoa(p.Status))
    buf.WriteByte(' ')
    buf.WriteString(p.Reason)
    buf.Write(crlf)
    for _, h := range headers {
        for _, v := range h.Values {
            buf.WriteString(h.Name)
            buf.WriteString(": ")
            buf.WriteString(v)
            buf.Write(crlf)
        }
    }
    buf.Write(crlf)
    buf.Write(body)
    return buf.Bytes(), nil
}

// mergeHeaders folds names case-insensitively into canonical form, keeping
// first-seen order of names and the order of values within each name.
func mergeHeaders(in types.HeaderList) ([]types.Header, error) {
    var out []types.Header
    index := map[string]int{}
    for _, h := range in {
        if !isToken(h.Name) {
            return nil, fmt.Errorf("%w: bad header name", ErrInvalidEnvelope)
        }
        for _, v := range h.Values {
            if strings.ContainsAny(v, "\r\n\x00") {
                return nil, fmt.Errorf("%w: bad header value", ErrInvalidEnvelope)
            }
        }
        name := textproto.CanonicalMIMEHeaderKey(h.Name)
        i, ok := index[name]
        if !ok {
            i = len(out)
            index[name] = i
            out = append(out, types.Header{Name: name})
        }
        out[i].Values = append(out[i].Values, h.Values...)
    }
    return out, nil
}

func encodeBody(b types.Body) ([]byte, error) {
    switch b.Kind {
    case types.BodyText:
        return []byte(b.Text), nil
    case types.BodyBytes:
        return b.Bytes, nil
    case types.BodyJSON:
        var buf bytes.Buffer
        enc := json.NewEncoder(&buf)
        enc.SetEscapeHTML(false)
        if err := enc.Encode(b.Data); err != nil {
            return nil, fmt.Errorf("%w: body: %v", ErrInvalidEnvelope, err)
        }
        return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
    }
    return nil, nil
}

// DecodeEnvelope decodes the delegate's structured response. A document
// without a complete preamble is rejected rather than guessed at.
func DecodeEnvelope(data []byte) (*types.ResponseEnvelope, error) {
    var env types.ResponseEnvelope
    if err := json.Unmarshal(data, &env); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
    }
    if !env.Preamble.Complete() {
        return nil, fmt.Errorf("%w: incomplete preamble", ErrInvalidEnvelope)
    }
    return &env, nil
}

// ErrorEnvelope builds the generic JSON error response for a status. The
// message must be one of the fixed safe strings, never error text.
func ErrorEnvelope(status int, message string) *types.ResponseEnvelope {
    reason := http.StatusText(status)
    if reason == "" { reason = "Error" }
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: status, Reason: reason},
        Body:     types.JSONBody(map[string]string{"error": reason, "message": message}),
    }
    env.Headers.Add("Content-Type", "application/json")
    return env
}
