package gateway

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net"
    "net/netip"
    "sync"
    "sync/atomic"
    "time"

    "github.com/gofrs/uuid/v5"

    "wiregate/internal/admission"
    "wiregate/internal/db"
    "wiregate/internal/delegate"
    "wiregate/internal/ratelimit"
)

var (
    ErrServerClosed = errors.New("gateway: server closed")
    ErrForcedClose  = errors.New("gateway: grace period expired, connections force-closed")
)

type Options struct {
    Limiter   ratelimit.Limiter
    Admission *admission.Controller
    Delegate  delegate.Delegate
    Store     db.Store
    Logger    *slog.Logger

    MaxRequestBytes  int64
    MaxResponseBytes int64
    MaxPromptBytes   int
    RequestTimeout   time.Duration
    DelegateTimeout  time.Duration
    ShutdownGrace    time.Duration

    AllowList         []netip.Prefix
    TrustForwardedFor bool
    RetentionDays     int

    NewID func() string
    Now   func() time.Time
}

// Server accepts raw TCP connections and answers exactly one HTTP/1.1
// request on each.
type Server struct {
    opts   Options
    logger *slog.Logger

    baseCtx    context.Context
    cancelBase context.CancelFunc

    mu       sync.Mutex
    listener net.Listener
    conns    map[net.Conn]struct{}
    wg       sync.WaitGroup
    closing  atomic.Bool
    once     sync.Once
}

func New(opts Options) (*Server, error) {
    if opts.Limiter == nil || opts.Admission == nil || opts.Delegate == nil {
        return nil, errors.New("gateway: limiter, admission and delegate are required")
    }
    if opts.Logger == nil { opts.Logger = slog.New(slog.DiscardHandler) }
    if opts.MaxRequestBytes <= 0 { opts.MaxRequestBytes = 1 << 20 }
    if opts.MaxResponseBytes <= 0 { opts.MaxResponseBytes = 1 << 20 }
    if opts.MaxPromptBytes <= 0 { opts.MaxPromptBytes = 64 << 10 }
    if opts.RequestTimeout <= 0 { opts.RequestTimeout = 90 * time.Second }
    if opts.DelegateTimeout <= 0 { opts.DelegateTimeout = 60 * time.Second }
    if opts.ShutdownGrace <= 0 { opts.ShutdownGrace = 10 * time.Second }
    if opts.NewID == nil { opts.NewID = func() string { return uuid.Must(uuid.NewV4()).String() } }
    if opts.Now == nil { opts.Now = time.Now }

    ctx, cancel := context.WithCancel(context.Background())
    return &Server{
        opts:       opts,
        logger:     opts.Logger,
        baseCtx:    ctx,
        cancelBase: cancel,
        conns:      make(map[net.Conn]struct{}),
    }, nil
}

func (s *Server) ListenAndServe(addr string) error {
    ln, err := net.Listen("tcp", addr)
    if err != nil { return fmt.Errorf("listen %s: %w", addr, err) }
    return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It always returns a
// non-nil error; after Shutdown that error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
    s.mu.Lock()
    if s.closing.Load() {
        s.mu.Unlock()
        ln.Close()
        return ErrServerClosed
    }
    s.listener = ln
    s.mu.Unlock()
    s.logger.Info("gateway_listen", "addr", ln.Addr().String(), "concurrency", s.opts.Admission.Ceiling())

    var backoff time.Duration
    for {
        conn, err := ln.Accept()
        if err != nil {
            if s.closing.Load() || errors.Is(err, net.ErrClosed) { return ErrServerClosed }
            if backoff == 0 { backoff = 5 * time.Millisecond } else { backoff *= 2 }
            if backoff > time.Second { backoff = time.Second }
            s.logger.Warn("accept_error", "error", err, "retry_in", backoff.String())
            time.Sleep(backoff)
            continue
        }
        backoff = 0
        if !s.track(conn) {
            conn.Close()
            continue
        }
        go s.serveConn(conn)
    }
}

func (s *Server) track(conn net.Conn) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closing.Load() { return false }
    s.conns[conn] = struct{}{}
    s.wg.Add(1)
    return true
}

func (s *Server) untrack(conn net.Conn) {
    s.mu.Lock()
    delete(s.conns, conn)
    s.mu.Unlock()
}

// ActiveConnections is the number of connections currently being served.
func (s *Server) ActiveConnections() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.conns)
}

func (s *Server) serveConn(conn net.Conn) {
    defer s.wg.Done()
    defer s.untrack(conn)
    newRequest(s, conn).run()
}

// Shutdown stops accepting, gives in-flight requests the grace period and
// then force-closes whatever is left. Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
    var err error
    s.once.Do(func() {
        s.mu.Lock()
        s.closing.Store(true)
        ln := s.listener
        s.mu.Unlock()
        if ln != nil { ln.Close() }
        s.logger.Info("gateway_shutdown", "in_flight", s.ActiveConnections(), "grace", s.opts.ShutdownGrace.String())

        done := make(chan struct{})
        go func() {
            s.wg.Wait()
            close(done)
        }()
        grace := time.NewTimer(s.opts.ShutdownGrace)
        defer grace.Stop()
        select {
        case <-done:
        case <-grace.C:
            err = s.forceClose(done)
        case <-ctx.Done():
            err = s.forceClose(done)
        }
        s.cancelBase()
    })
    return err
}

func (s *Server) forceClose(done <-chan struct{}) error {
    s.cancelBase()
    s.mu.Lock()
    n := len(s.conns)
    for c := range s.conns {
        c.Close()
    }
    s.mu.Unlock()
    s.logger.Warn("gateway_force_close", "connections", n)
    <-done
    return fmt.Errorf("%w (%d)", ErrForcedClose, n)
}
