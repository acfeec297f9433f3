package gateway

import (
    "context"
    "errors"
    "fmt"
    "io"
    "math"
    "net"
    "net/netip"
    "runtime/debug"
    "strconv"
    "strings"
    "sync"
    "time"

    "wiregate/internal/db"
    "wiregate/internal/delegate"
    "wiregate/internal/types"
    "wiregate/internal/wire"
)

const (
    writeTimeout   = 5 * time.Second
    lingerTimeout  = 500 * time.Millisecond
    lingerMaxBytes = 256 << 10
    auditTimeout   = 2 * time.Second
)

var (
    errNotAllowed  = errors.New("client outside allow list")
    errRateLimited = errors.New("rate limit exceeded")
    errAtCapacity  = errors.New("admission ceiling reached")
)

// request carries one connection through its lifecycle.
type request struct {
    srv     *Server
    conn    net.Conn
    id      string
    start   time.Time
    client  string
    state   State
    outcome string
    status  int
    method  string
    path    string
    wrote   bool
    release func()
}

func newRequest(s *Server, conn net.Conn) *request {
    return &request{
        srv:     s,
        conn:    conn,
        id:      s.opts.NewID(),
        start:   s.opts.Now(),
        client:  peerIP(conn),
        state:   Accepted,
        release: func() {},
    }
}

func (r *request) run() {
    ctx, cancel := context.WithTimeout(r.srv.baseCtx, r.srv.opts.RequestTimeout)
    defer cancel()
    // the request timer also has to interrupt a blocked read
    stop := context.AfterFunc(ctx, func() { _ = r.conn.SetReadDeadline(time.Now()) })
    defer stop()
    defer func() { r.release() }()
    defer r.finish()
    defer func() {
        if p := recover(); p != nil {
            r.srv.logger.Error("request_panic", "request_id", r.id, "state", r.state.String(),
                "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
            if !r.wrote { r.fail(abort(500, msgInternal, fmt.Errorf("panic: %v", p))) }
        }
    }()

    env, err := r.process(ctx)
    if err != nil {
        r.fail(err)
        return
    }
    r.send(env)
}

func (r *request) process(ctx context.Context) (*types.ResponseEnvelope, error) {
    s := r.srv
    if !s.opts.TrustForwardedFor {
        if err := r.admitClient(ctx); err != nil { return nil, err }
    }

    r.state = BodyCollecting
    col := newCollector(r.conn, s.opts.MaxRequestBytes)
    if err := col.readHead(); err != nil { return nil, r.collectErr(ctx, err) }
    if s.opts.TrustForwardedFor {
        if fwd := forwardedFor(col.buf[:col.headEnd]); fwd != "" {
            if addr, err := netip.ParseAddr(fwd); err == nil { r.client = addr.Unmap().String() }
        }
        if err := r.admitClient(ctx); err != nil { return nil, err }
        r.state = BodyCollecting
    }
    raw, err := col.readBody()
    if err != nil { return nil, r.collectErr(ctx, err) }

    req, err := wire.Parse(raw)
    if err != nil { return nil, abort(400, msgMalformed, err) }
    r.state = Parsed
    r.method, r.path = req.Method, req.Path

    if req.Method == "GET" && req.Path == "/healthz" {
        return healthEnvelope(), nil
    }

    release, ok := s.opts.Admission.Lease()
    if !ok { return nil, abort(503, msgAtCapacity, errAtCapacity) }
    r.release = release
    r.state = Admitted

    prompt, err := buildPrompt(r.id, req, s.opts.MaxPromptBytes)
    if err != nil { return nil, abort(413, msgTooLargeToHandle, err) }

    r.state = Delegating
    out, err := r.delegate(ctx, req, prompt)
    if err != nil { return nil, err }

    env, err := wire.DecodeEnvelope(out)
    if err != nil { return nil, abort(500, msgInternal, err) }
    return env, nil
}

func (r *request) admitClient(ctx context.Context) error {
    s := r.srv
    if !ipAllowed(r.client, s.opts.AllowList) {
        return abort(403, msgForbidden, errNotAllowed)
    }
    d := s.opts.Limiter.Allow(ctx, r.client)
    if !d.Allowed {
        a := abort(429, msgRateLimited, errRateLimited)
        a.RetryAfter = d.RetryAfter(s.opts.Now())
        return a
    }
    r.state = RateChecked
    return nil
}

func (r *request) collectErr(ctx context.Context, err error) error {
    switch {
    case errors.Is(err, errTooLarge):
        return abort(413, msgTooLarge, err)
    case errors.Is(err, errLengthRequired):
        return abort(411, msgLengthRequired, err)
    case errors.Is(err, errBadFraming):
        return abort(400, msgMalformed, err)
    case errors.Is(err, errClientGone):
        return fmt.Errorf("%w: %v", errSilent, err)
    }
    if errors.Is(ctx.Err(), context.DeadlineExceeded) {
        return abort(408, msgTimeout, err)
    }
    return fmt.Errorf("%w: %v", errSilent, err)
}

// accumulator collects delegate output up to a ceiling. Crossing the
// ceiling discards everything collected so far.
type accumulator struct {
    mu       sync.Mutex
    max      int64
    buf      []byte
    overflow bool
}

func (a *accumulator) emit(b []byte) error {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.overflow { return delegate.ErrResponseTooLarge }
    if int64(len(a.buf)+len(b)) > a.max {
        a.buf = nil
        a.overflow = true
        return delegate.ErrResponseTooLarge
    }
    a.buf = append(a.buf, b...)
    return nil
}

func (r *request) delegate(ctx context.Context, req *types.ParsedRequest, prompt string) ([]byte, error) {
    s := r.srv
    dctx, cancel := context.WithTimeout(ctx, s.opts.DelegateTimeout)
    defer cancel()

    acc := &accumulator{max: s.opts.MaxResponseBytes}
    err := s.opts.Delegate.Run(dctx, delegate.Job{RequestID: r.id, Request: req, Prompt: prompt}, acc.emit)
    acc.mu.Lock()
    overflow, out := acc.overflow, acc.buf
    acc.mu.Unlock()

    switch {
    case overflow || errors.Is(err, delegate.ErrResponseTooLarge):
        return nil, abort(500, msgResponseTooLarge, delegate.ErrResponseTooLarge)
    case err == nil:
        return out, nil
    case errors.Is(ctx.Err(), context.DeadlineExceeded):
        return nil, abort(408, msgTimeout, err)
    case ctx.Err() != nil:
        return nil, fmt.Errorf("%w: %v", errSilent, err)
    case errors.Is(dctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
        return nil, abort(504, msgGatewayTimeout, err)
    }
    switch delegate.ClassOf(err) {
    case delegate.ClassBudget:
        return nil, abort(503, msgUnavailable, err)
    default:
        return nil, abort(500, msgInternal, err)
    }
}

func (r *request) send(env *types.ResponseEnvelope) {
    s := r.srv
    r.state = ResponseReady
    r.status = env.Preamble.Status
    withGatewayHeaders(env, r.id)
    out, err := wire.Serialize(env)
    if err != nil {
        s.logger.Error("response_serialize_error", "request_id", r.id, "error", err)
        fallback := wire.ErrorEnvelope(500, msgInternal)
        withGatewayHeaders(fallback, r.id)
        out, _ = wire.Serialize(fallback)
        r.status = 500
    }
    r.release()
    if r.write(out) {
        r.state = Sent
        r.outcome = Sent.String()
    } else {
        r.outcome = Aborted.String() + ":" + ResponseReady.String()
    }
}

func (r *request) fail(err error) {
    s := r.srv
    reached := r.state
    r.state = Aborted
    r.outcome = Aborted.String() + ":" + reached.String()

    var a *Abort
    if !errors.As(err, &a) {
        if errors.Is(err, errSilent) {
            s.logger.Debug("request_dropped", "request_id", r.id, "state", reached.String(), "client", r.client, "error", err)
            r.release()
            return
        }
        a = abort(500, msgInternal, err)
    }
    r.status = a.Status
    log := s.logger.Info
    if a.Status >= 500 { log = s.logger.Warn }
    log("request_aborted", "request_id", r.id, "state", reached.String(), "status", a.Status,
        "client", r.client, "error", a.Err)

    env := wire.ErrorEnvelope(a.Status, a.Message)
    if a.RetryAfter > 0 {
        env.Headers.Add("Retry-After", strconv.Itoa(int(math.Ceil(a.RetryAfter.Seconds()))))
    }
    withGatewayHeaders(env, r.id)
    out, serr := wire.Serialize(env)
    if serr != nil {
        s.logger.Error("response_serialize_error", "request_id", r.id, "error", serr)
        return
    }
    r.release()
    r.write(out)
}

func (r *request) write(out []byte) bool {
    r.wrote = true
    _ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
    if _, err := r.conn.Write(out); err != nil {
        r.srv.logger.Debug("response_write_error", "request_id", r.id, "error", err)
        return false
    }
    return true
}

// finish closes the connection and records the request in the audit log.
func (r *request) finish() {
    lingerClose(r.conn)
    s := r.srv
    if s.opts.Store == nil || r.status == 0 { return }
    ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
    defer cancel()
    err := s.opts.Store.RecordRequest(ctx, db.RequestRecord{
        RequestID: r.id,
        Client:    r.client,
        Method:    r.method,
        Path:      r.path,
        Status:    r.status,
        State:     r.outcome,
        Duration:  s.opts.Now().Sub(r.start),
        At:        r.start,
    })
    if err != nil {
        s.logger.Warn("audit_record_error", "request_id", r.id, "error", err)
    }
}

// gatewayOwned are headers the gateway always sets itself. Transfer-Encoding
// is dropped because every response is framed by Content-Length.
var gatewayOwned = []string{"X-Request-Id", "Connection", "Transfer-Encoding"}

// withGatewayHeaders replaces any correlation, connection or framing headers
// the envelope carries with the gateway's own.
func withGatewayHeaders(env *types.ResponseEnvelope, id string) {
    kept := env.Headers[:0]
    for _, h := range env.Headers {
        if isGatewayOwned(h.Name) { continue }
        kept = append(kept, h)
    }
    env.Headers = kept
    env.Headers.Add("X-Request-Id", id)
    env.Headers.Add("Connection", "close")
}

func isGatewayOwned(name string) bool {
    for _, n := range gatewayOwned {
        if strings.EqualFold(name, n) { return true }
    }
    return false
}

func healthEnvelope() *types.ResponseEnvelope {
    env := &types.ResponseEnvelope{
        Preamble: &types.Preamble{Version: "HTTP/1.1", Status: 200, Reason: "OK"},
        Body:     types.TextBody("ok"),
    }
    env.Headers.Add("Content-Type", "text/plain; charset=utf-8")
    return env
}

// lingerClose half-closes and drains briefly before closing so that a client
// still sending an oversized body sees the response instead of a reset.
func lingerClose(conn net.Conn) {
    if cw, ok := conn.(interface{ CloseWrite() error }); ok {
        if cw.CloseWrite() == nil {
            _ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
            _, _ = io.Copy(io.Discard, io.LimitReader(conn, lingerMaxBytes))
        }
    }
    _ = conn.Close()
}
