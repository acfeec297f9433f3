package wire

import (
    "errors"
    "reflect"
    "strings"
    "testing"

    "wiregate/internal/types"
)

func TestParseSimpleGet(t *testing.T) {
    req, err := Parse([]byte("GET /api/users HTTP/1.1\r\nHost: x\r\n\r\n"))
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    if req.Method != "GET" || req.Path != "/api/users" || req.Version != "HTTP/1.1" {
        t.Fatalf("unexpected request line: %+v", req)
    }
    if !reflect.DeepEqual(req.Headers, map[string][]string{"host": {"x"}}) {
        t.Fatalf("headers = %v", req.Headers)
    }
    if len(req.Body) != 0 {
        t.Fatalf("body = %q, want empty", req.Body)
    }
}

func TestParseMalformed(t *testing.T) {
    tests := []struct {
        name string
        in   string
    }{
        {"empty", ""},
        {"two tokens", "GET /\r\n\r\n"},
        {"four tokens", "GET / HTTP/1.1 extra\r\n\r\n"},
        {"double space", "GET  / HTTP/1.1\r\n\r\n"},
        {"leading blank line", "\r\nGET / HTTP/1.1\r\n\r\n"},
        {"bad method", "G(T / HTTP/1.1\r\n\r\n"},
        {"bad version", "GET / HTTP/one\r\n\r\n"},
        {"bad escape", "GET /?a=%zz HTTP/1.1\r\n\r\n"},
        {"query only", "GET ?a=1 HTTP/1.1\r\n\r\n"},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            _, err := Parse([]byte(tt.in))
            if !errors.Is(err, ErrMalformedRequest) {
                t.Fatalf("Parse(%q) err = %v, want ErrMalformedRequest", tt.in, err)
            }
        })
    }
}

func TestParseQuery(t *testing.T) {
    req, err := Parse([]byte("GET /search?q=a%20b&flag&=dropped&n=1&n=2&plus=x+y&a=1+2&sp=1%2B2%20 HTTP/1.1\r\n\r\n"))
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    want := types.Params{
        {Key: "q", Value: "a b"},
        {Key: "flag", Value: ""},
        {Key: "n", Value: "2"},
        {Key: "plus", Value: "x+y"},
        {Key: "a", Value: "1+2"},
        {Key: "sp", Value: "1+2 "},
    }
    if !reflect.DeepEqual(req.Query, want) {
        t.Fatalf("query = %+v, want %+v", req.Query, want)
    }
    if req.Path != "/search" {
        t.Fatalf("path = %q", req.Path)
    }
}

func TestParseHeaders(t *testing.T) {
    raw := "POST /x HTTP/1.1\r\n" +
        "Accept: a\r\n" +
        "no colon here\r\n" +
        ": leading colon\r\n" +
        "  X-Trim  :  spaced  \r\n" +
        "ACCEPT: b\r\n" +
        "\r\n"
    req, err := Parse([]byte(raw))
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    want := map[string][]string{"accept": {"a", "b"}, "x-trim": {"spaced"}}
    if !reflect.DeepEqual(req.Headers, want) {
        t.Fatalf("headers = %v, want %v", req.Headers, want)
    }
}

func TestParseBodyPreservedVerbatim(t *testing.T) {
    body := "line one\r\n\r\nline three\r\n\x00\xff"
    req, err := Parse([]byte("PUT /f HTTP/1.1\r\nContent-Type: text/plain\r\n\r\n" + body))
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    if string(req.Body) != body {
        t.Fatalf("body = %q, want %q", req.Body, body)
    }
}

func TestSerialize(t *testing.T) {
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"},
        Headers: types.HeaderList{
            {Name: "content-type", Values: []string{"text/plain"}},
            {Name: "Set-Cookie", Values: []string{"a=1"}},
            {Name: "CONTENT-TYPE", Values: []string{"charset=utf-8"}},
            {Name: "set-cookie", Values: []string{"b=2"}},
        },
        Body: types.TextBody("héllo"),
    }
    out, err := Serialize(env)
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    want := "HTTP/1.1 200 OK\r\n" +
        "Content-Type: text/plain\r\n" +
        "Content-Type: charset=utf-8\r\n" +
        "Set-Cookie: a=1\r\n" +
        "Set-Cookie: b=2\r\n" +
        "Content-Length: 6\r\n" +
        "\r\n" +
        "héllo"
    if string(out) != want {
        t.Fatalf("Serialize =\n%q\nwant\n%q", out, want)
    }
}

func TestSerializeExplicitContentLengthAndEmptyBody(t *testing.T) {
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: 204, Reason: "No Content"},
    }
    out, err := Serialize(env)
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    if string(out) != "HTTP/1.1 204 No Content\r\n\r\n" {
        t.Fatalf("Serialize = %q", out)
    }

    env.Preamble = &types.Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"}
    env.Headers = types.HeaderList{{Name: "content-length", Values: []string{"2"}}}
    env.Body = types.TextBody("hi")
    out, err = Serialize(env)
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    if strings.Count(string(out), "Content-Length") != 1 {
        t.Fatalf("expected a single Content-Length, got %q", out)
    }
}

func TestSerializeJSONBodyCanonical(t *testing.T) {
    env, err := DecodeEnvelope([]byte(`{"preamble":{"version":"HTTP/1.1","status":201,"reason":"Created"},"headers":{"X-B":["1"],"x-a":["2"]},"body":{"z":1,"a":[true,null],"html":"<b>"}}`))
    if err != nil {
        t.Fatalf("DecodeEnvelope: %v", err)
    }
    out, err := Serialize(env)
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    body := `{"a":[true,null],"html":"<b>","z":1}`
    want := "HTTP/1.1 201 Created\r\nX-B: 1\r\nX-A: 2\r\nContent-Length: 36\r\n\r\n" + body
    if string(out) != want {
        t.Fatalf("Serialize =\n%q\nwant\n%q", out, want)
    }
}

func TestSerializeRejectsIncompletePreamble(t *testing.T) {
    for _, p := range []*types.Preamble{
        nil,
        {Version: "HTTP/1.1", Reason: "OK"},
        {Version: "HTTP/1.1", Status: 200},
        {Status: 200, Reason: "OK"},
        {Version: "HTTP/1.1", Status: 700, Reason: "Nope"},
    } {
        _, err := Serialize(&types.ResponseEnvelope{Preamble: p})
        if !errors.Is(err, ErrInvalidEnvelope) {
            t.Fatalf("Serialize(%+v) err = %v, want ErrInvalidEnvelope", p, err)
        }
    }
}

func TestSerializeRejectsHeaderInjection(t *testing.T) {
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"},
        Headers:  types.HeaderList{{Name: "X-Evil", Values: []string{"a\r\nSet-Cookie: owned"}}},
    }
    if _, err := Serialize(env); !errors.Is(err, ErrInvalidEnvelope) {
        t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
    }
    env.Headers = types.HeaderList{{Name: "Bad Name", Values: []string{"x"}}}
    if _, err := Serialize(env); !errors.Is(err, ErrInvalidEnvelope) {
        t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
    }
}

func TestDecodeEnvelopeMissingPreamble(t *testing.T) {
    for _, doc := range []string{
        `{"headers":{},"body":"x"}`,
        `{"preamble":{"version":"HTTP/1.1","reason":"OK"},"body":null}`,
        `not json`,
    } {
        if _, err := DecodeEnvelope([]byte(doc)); !errors.Is(err, ErrInvalidEnvelope) {
            t.Fatalf("DecodeEnvelope(%s) err = %v, want ErrInvalidEnvelope", doc, err)
        }
    }
}

func TestDecodeEnvelopeBodyKinds(t *testing.T) {
    env, err := DecodeEnvelope([]byte(`{"preamble":{"version":"HTTP/1.1","status":200,"reason":"OK"},"body":null}`))
    if err != nil {
        t.Fatalf("DecodeEnvelope: %v", err)
    }
    if env.Body.Kind != types.BodyNone {
        t.Fatalf("body kind = %v, want none", env.Body.Kind)
    }
    env, err = DecodeEnvelope([]byte(`{"preamble":{"version":"HTTP/1.1","status":200,"reason":"OK"},"body":"plain"}`))
    if err != nil {
        t.Fatalf("DecodeEnvelope: %v", err)
    }
    if env.Body.Kind != types.BodyText || env.Body.Text != "plain" {
        t.Fatalf("body = %+v", env.Body)
    }
}

// Parsing a request, carrying its headers and body into an envelope and
// serializing that must reproduce the same header values and body bytes.
func TestRoundTripHeadersAndBody(t *testing.T) {
    raw := "POST /echo HTTP/1.1\r\nHost: example\r\nX-Multi: one\r\nX-Multi: two\r\nContent-Length: 12\r\n\r\nhello\r\nworld"
    req, err := Parse([]byte(raw))
    if err != nil {
        t.Fatalf("Parse: %v", err)
    }
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"},
        Body:     types.BytesBody(req.Body),
    }
    for _, name := range []string{"host", "x-multi", "content-length"} {
        env.Headers.Add(name, req.Headers[name]...)
    }
    out, err := Serialize(env)
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    // the status line has three tokens, so the output parses as a request line
    again, err := Parse(out)
    if err != nil {
        t.Fatalf("re-Parse: %v", err)
    }
    if !reflect.DeepEqual(again.Headers, req.Headers) {
        t.Fatalf("headers = %v, want %v", again.Headers, req.Headers)
    }
    if string(again.Body) != string(req.Body) {
        t.Fatalf("body = %q, want %q", again.Body, req.Body)
    }
}

func TestErrorEnvelope(t *testing.T) {
    out, err := Serialize(ErrorEnvelope(503, "Service temporarily unavailable"))
    if err != nil {
        t.Fatalf("Serialize: %v", err)
    }
    if !strings.HasPrefix(string(out), "HTTP/1.1 503 Service Unavailable\r\nContent-Type: application/json\r\n") {
        t.Fatalf("unexpected framing: %q", out)
    }
    if !strings.HasSuffix(string(out), `{"error":"Service Unavailable","message":"Service temporarily unavailable"}`) {
        t.Fatalf("unexpected body: %q", out)
    }
}
