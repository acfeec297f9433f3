package delegate

import (
    "bytes"
    "context"
    "crypto/hmac"
    "crypto/sha256"
    "crypto/tls"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "net"
    "net/http"
    "net/url"
    "time"

    "wiregate/internal/ssrf"
    "wiregate/internal/tools"
    "wiregate/internal/types"
)

const maxTurnBytes = 8 << 20

// HTTP drives a remote delegate one turn at a time. Each turn POSTs the
// conversation so far; the reply is a stream of NDJSON events. Tool calls are
// run locally through the registry and their results sent with the next turn.
// Only the output of the final turn, the one without tool calls, is emitted;
// earlier output is narration kept in the conversation.
type HTTP struct {
    URL          *url.URL
    Secret       string
    MaxTurns     int
    AllowPrivate bool
    // MaxOutputBytes bounds the output of all turns together. Zero is unbounded.
    MaxOutputBytes int64
    Tools        *tools.Registry
    Resolver     ssrf.Resolver
    Logger       *slog.Logger
}

func NewHTTP(rawURL, secret string, maxTurns int, allowPrivate bool, reg *tools.Registry, logger *slog.Logger) (*HTTP, error) {
    u, err := url.Parse(rawURL)
    if err != nil { return nil, fmt.Errorf("parse delegate url: %w", err) }
    if u.Scheme != "http" && u.Scheme != "https" { return nil, fmt.Errorf("delegate url must be http or https") }
    if maxTurns <= 0 { maxTurns = 8 }
    if reg == nil { reg = tools.NewRegistry(logger) }
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    return &HTTP{URL: u, Secret: secret, MaxTurns: maxTurns, AllowPrivate: allowPrivate, Tools: reg, Logger: logger}, nil
}

type ToolCall struct {
    ID    string          `json:"id"`
    Name  string          `json:"name"`
    Input json.RawMessage `json:"input"`
}

type Message struct {
    Role       string          `json:"role"`
    Content    string          `json:"content,omitempty"`
    ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
    ToolCallID string          `json:"tool_call_id,omitempty"`
    Result     json.RawMessage `json:"result,omitempty"`
}

type turnRequest struct {
    RequestID string               `json:"request_id"`
    Turn      int                  `json:"turn"`
    Prompt    string               `json:"prompt"`
    Request   *types.ParsedRequest `json:"request"`
    Tools     []tools.Definition   `json:"tools"`
    Messages  []Message            `json:"messages"`
}

type event struct {
    Type    string          `json:"type"`
    Text    string          `json:"text"`
    ID      string          `json:"id"`
    Name    string          `json:"name"`
    Input   json.RawMessage `json:"input"`
    Class   string          `json:"class"`
    Message string          `json:"message"`
}

func (h *HTTP) Run(ctx context.Context, job Job, emit func([]byte) error) error {
    client, err := h.client(ctx)
    if err != nil {
        return &Failure{Class: ClassUnknown, Err: err}
    }
    defer client.CloseIdleConnections()

    defs := h.Tools.Definitions()
    var messages []Message
    var total int64
    for turn := 1; ; turn++ {
        if turn > h.MaxTurns {
            return &Failure{Class: ClassIterations, Err: fmt.Errorf("exceeded %d turns", h.MaxTurns)}
        }
        body, err := json.Marshal(turnRequest{
            RequestID: job.RequestID, Turn: turn, Prompt: job.Prompt,
            Request: job.Request, Tools: defs, Messages: messages,
        })
        if err != nil { return &Failure{Class: ClassUnknown, Err: err} }

        text, calls, err := h.turn(ctx, client, job.RequestID, body, &total)
        if err != nil { return err }
        if len(calls) == 0 {
            if text == "" { return nil }
            return emit([]byte(text))
        }
        messages = append(messages, Message{Role: "assistant", Content: text, ToolCalls: calls})
        for _, c := range calls {
            if err := ctx.Err(); err != nil { return err }
            h.Logger.Debug("delegate_tool_call", "request_id", job.RequestID, "tool", c.Name, "turn", turn)
            res := h.Tools.Call(ctx, c.Name, c.Input)
            messages = append(messages, Message{Role: "tool", ToolCallID: c.ID, Result: res})
        }
    }
}

// turn runs one round trip and returns its buffered output and tool calls.
// total accumulates output across turns for the MaxOutputBytes check.
func (h *HTTP) turn(ctx context.Context, client *http.Client, requestID string, body []byte, total *int64) (string, []ToolCall, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL.String(), bytes.NewReader(body))
    if err != nil { return "", nil, &Failure{Class: ClassUnknown, Err: err} }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("Accept", "application/x-ndjson")
    req.Header.Set("X-Request-Id", requestID)
    if h.Secret != "" {
        req.Header.Set("X-Gateway-Signature", Sign(h.Secret, time.Now(), body))
    }

    resp, err := client.Do(req)
    if err != nil {
        if ctxErr := ctx.Err(); ctxErr != nil { return "", nil, ctxErr }
        return "", nil, &Failure{Class: ClassUnknown, Err: err}
    }
    defer resp.Body.Close()
    if resp.StatusCode == http.StatusTooManyRequests {
        return "", nil, &Failure{Class: ClassBudget, Err: fmt.Errorf("delegate status %d", resp.StatusCode)}
    }
    if resp.StatusCode < 200 || resp.StatusCode > 299 {
        return "", nil, &Failure{Class: ClassUnknown, Err: fmt.Errorf("delegate status %d", resp.StatusCode)}
    }

    var text bytes.Buffer
    var calls []ToolCall
    dec := json.NewDecoder(io.LimitReader(resp.Body, maxTurnBytes))
    for {
        var ev event
        err := dec.Decode(&ev)
        if errors.Is(err, io.EOF) { break }
        if err != nil {
            if ctxErr := ctx.Err(); ctxErr != nil { return "", nil, ctxErr }
            return "", nil, &Failure{Class: ClassUnknown, Err: fmt.Errorf("decode event: %w", err)}
        }
        switch ev.Type {
        case "output":
            *total += int64(len(ev.Text))
            if h.MaxOutputBytes > 0 && *total > h.MaxOutputBytes { return "", nil, ErrResponseTooLarge }
            text.WriteString(ev.Text)
        case "tool_call":
            calls = append(calls, ToolCall{ID: ev.ID, Name: ev.Name, Input: ev.Input})
        case "error":
            return "", nil, &Failure{Class: ParseClass(ev.Class), Err: errors.New("delegate reported failure")}
        default:
            h.Logger.Debug("delegate_unknown_event", "request_id", requestID, "type", ev.Type)
        }
    }
    return text.String(), calls, nil
}

// client dials only the address vetted at the start of the run and never
// follows redirects.
func (h *HTTP) client(ctx context.Context) (*http.Client, error) {
    ip, host, err := ssrf.ResolveAndPin(ctx, h.Resolver, h.URL, h.AllowPrivate)
    if err != nil { return nil, err }
    addr := ssrf.PinnedAddr(ip, h.URL)
    dialer := &net.Dialer{Timeout: 5 * time.Second}
    transport := &http.Transport{
        DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
            return dialer.DialContext(ctx, network, addr)
        },
        TLSClientConfig:     &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
        TLSHandshakeTimeout: 5 * time.Second,
    }
    client := &http.Client{Transport: transport}
    client.CheckRedirect = func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }
    return client, nil
}

// Sign returns the X-Gateway-Signature value for body at time t.
func Sign(secret string, t time.Time, body []byte) string {
    ts := fmt.Sprintf("%d", t.Unix())
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write([]byte(ts))
    mac.Write([]byte("\n"))
    mac.Write(body)
    return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
