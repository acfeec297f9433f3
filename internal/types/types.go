package types

import (
    "bytes"
    "encoding/base64"
    "encoding/json"
    "fmt"
    "unicode/utf8"
)

// Param is a single decoded query parameter.
type Param struct {
    Key   string
    Value string
}

// Params keeps query parameters in the order their keys first appeared.
// Set on an existing key replaces the value in place, so the last value wins.
type Params []Param

func (p Params) Get(key string) (string, bool) {
    for _, kv := range p {
        if kv.Key == key { return kv.Value, true }
    }
    return "", false
}

func (p *Params) Set(key, value string) {
    for i := range *p {
        if (*p)[i].Key == key {
            (*p)[i].Value = value
            return
        }
    }
    *p = append(*p, Param{Key: key, Value: value})
}

func (p Params) MarshalJSON() ([]byte, error) {
    var buf bytes.Buffer
    buf.WriteByte('{')
    for i, kv := range p {
        if i > 0 { buf.WriteByte(',') }
        k, err := json.Marshal(kv.Key)
        if err != nil { return nil, err }
        v, err := json.Marshal(kv.Value)
        if err != nil { return nil, err }
        buf.Write(k)
        buf.WriteByte(':')
        buf.Write(v)
    }
    buf.WriteByte('}')
    return buf.Bytes(), nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
    dec := json.NewDecoder(bytes.NewReader(data))
    tok, err := dec.Token()
    if err != nil { return err }
    if tok == nil {
        *p = nil
        return nil
    }
    if d, ok := tok.(json.Delim); !ok || d != '{' {
        return fmt.Errorf("query: expected object")
    }
    var out Params
    for dec.More() {
        tok, err := dec.Token()
        if err != nil { return err }
        key, _ := tok.(string)
        var value string
        if err := dec.Decode(&value); err != nil { return fmt.Errorf("query: %q must be a string", key) }
        out.Set(key, value)
    }
    if _, err := dec.Token(); err != nil { return err }
    *p = out
    return nil
}

type ParsedRequest struct {
    Method  string
    Path    string
    Query   Params
    Version string
    Headers map[string][]string
    Body    []byte
}

// parsedRequestJSON is the wire form of ParsedRequest. The body travels as
// text when it is valid UTF-8 and as base64 otherwise.
type parsedRequestJSON struct {
    Method       string              `json:"method"`
    Path         string              `json:"path"`
    Query        Params              `json:"query"`
    Version      string              `json:"version"`
    Headers      map[string][]string `json:"headers"`
    Body         string              `json:"body"`
    BodyEncoding string              `json:"body_encoding,omitempty"`
}

func (r ParsedRequest) MarshalJSON() ([]byte, error) {
    out := parsedRequestJSON{Method: r.Method, Path: r.Path, Query: r.Query, Version: r.Version, Headers: r.Headers}
    if out.Query == nil { out.Query = Params{} }
    if out.Headers == nil { out.Headers = map[string][]string{} }
    if utf8.Valid(r.Body) {
        out.Body = string(r.Body)
    } else {
        out.Body = base64.StdEncoding.EncodeToString(r.Body)
        out.BodyEncoding = "base64"
    }
    return json.Marshal(out)
}

func (r *ParsedRequest) UnmarshalJSON(data []byte) error {
    var in parsedRequestJSON
    if err := json.Unmarshal(data, &in); err != nil { return err }
    *r = ParsedRequest{Method: in.Method, Path: in.Path, Query: in.Query, Version: in.Version, Headers: in.Headers, Body: []byte(in.Body)}
    if in.BodyEncoding == "base64" {
        b, err := base64.StdEncoding.DecodeString(in.Body)
        if err != nil { return fmt.Errorf("body: %w", err) }
        r.Body = b
    }
    return nil
}

// Header returns the first value recorded under the lowercased name.
func (r *ParsedRequest) Header(name string) string {
    if vs := r.Headers[name]; len(vs) > 0 { return vs[0] }
    return ""
}

type Preamble struct {
    Version string `json:"version"`
    Status  int    `json:"status"`
    Reason  string `json:"reason"`
}

// Complete reports whether every preamble field is present and the status is
// a valid HTTP status code.
func (p *Preamble) Complete() bool {
    return p != nil && p.Version != "" && p.Reason != "" && p.Status >= 100 && p.Status <= 599
}

type Header struct {
    Name   string
    Values []string
}

// HeaderList is an ordered header collection. Its JSON form is an object of
// name -> [values]; decoding keeps the object's key order.
type HeaderList []Header

func (h *HeaderList) Add(name string, values ...string) {
    *h = append(*h, Header{Name: name, Values: values})
}

func (h HeaderList) MarshalJSON() ([]byte, error) {
    var buf bytes.Buffer
    buf.WriteByte('{')
    for i, hd := range h {
        if i > 0 { buf.WriteByte(',') }
        k, err := json.Marshal(hd.Name)
        if err != nil { return nil, err }
        vals := hd.Values
        if vals == nil { vals = []string{} }
        v, err := json.Marshal(vals)
        if err != nil { return nil, err }
        buf.Write(k)
        buf.WriteByte(':')
        buf.Write(v)
    }
    buf.WriteByte('}')
    return buf.Bytes(), nil
}

func (h *HeaderList) UnmarshalJSON(data []byte) error {
    dec := json.NewDecoder(bytes.NewReader(data))
    tok, err := dec.Token()
    if err != nil { return err }
    if tok == nil {
        *h = nil
        return nil
    }
    if d, ok := tok.(json.Delim); !ok || d != '{' {
        return fmt.Errorf("headers: expected object")
    }
    var out HeaderList
    for dec.More() {
        tok, err := dec.Token()
        if err != nil { return err }
        name, ok := tok.(string)
        if !ok { return fmt.Errorf("headers: expected name") }
        var raw json.RawMessage
        if err := dec.Decode(&raw); err != nil { return err }
        var values []string
        if err := json.Unmarshal(raw, &values); err != nil {
            // a bare string is accepted as a single value
            var single string
            if err2 := json.Unmarshal(raw, &single); err2 != nil {
                return fmt.Errorf("headers: %q must be a list of strings", name)
            }
            values = []string{single}
        }
        out = append(out, Header{Name: name, Values: values})
    }
    if _, err := dec.Token(); err != nil { return err }
    *h = out
    return nil
}

type BodyKind int

const (
    BodyNone BodyKind = iota
    BodyText
    BodyBytes
    BodyJSON
)

// Body is the response payload: absent, a UTF-8 string, raw bytes or a
// structured JSON value that the codec re-encodes canonically.
type Body struct {
    Kind  BodyKind
    Text  string
    Bytes []byte
    Data  any
}

func TextBody(s string) Body  { return Body{Kind: BodyText, Text: s} }
func BytesBody(b []byte) Body { return Body{Kind: BodyBytes, Bytes: b} }
func JSONBody(v any) Body     { return Body{Kind: BodyJSON, Data: v} }

func (b Body) MarshalJSON() ([]byte, error) {
    switch b.Kind {
    case BodyText:
        return json.Marshal(b.Text)
    case BodyBytes:
        return json.Marshal(string(b.Bytes))
    case BodyJSON:
        return json.Marshal(b.Data)
    }
    return []byte("null"), nil
}

func (b *Body) UnmarshalJSON(data []byte) error {
    data = bytes.TrimSpace(data)
    if len(data) == 0 || bytes.Equal(data, []byte("null")) {
        *b = Body{}
        return nil
    }
    if data[0] == '"' {
        var s string
        if err := json.Unmarshal(data, &s); err != nil { return err }
        *b = TextBody(s)
        return nil
    }
    dec := json.NewDecoder(bytes.NewReader(data))
    dec.UseNumber()
    var v any
    if err := dec.Decode(&v); err != nil { return err }
    *b = JSONBody(v)
    return nil
}

type ResponseEnvelope struct {
    Preamble *Preamble  `json:"preamble"`
    Headers  HeaderList `json:"headers"`
    Body     Body       `json:"body"`
}
