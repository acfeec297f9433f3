package main

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/spf13/pflag"
    "golang.org/x/sync/errgroup"

    "wiregate/internal/admission"
    "wiregate/internal/config"
    "wiregate/internal/db"
    "wiregate/internal/delegate"
    "wiregate/internal/gateway"
    "wiregate/internal/logging"
    "wiregate/internal/migrate"
    "wiregate/internal/ratelimit"
    "wiregate/internal/sandbox"
    "wiregate/internal/tools"
)

func main() {
    cfg, err := config.Parse(os.Args[1:])
    if errors.Is(err, pflag.ErrHelp) { os.Exit(0) }
    if err != nil {
        fmt.Fprintf(os.Stderr, "config: %v\n", err)
        os.Exit(2)
    }
    logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
    if err := run(cfg, logger); err != nil {
        logger.Error("gateway_exit", "error", err)
        os.Exit(1)
    }
}

func run(cfg *config.Config, logger *slog.Logger) error {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    store, err := db.Open(ctx, cfg.StoreURL, logger)
    if err != nil { return fmt.Errorf("store: %w", err) }
    defer store.Close()
    applied, err := migrate.Apply(ctx, store)
    if err != nil { return fmt.Errorf("migrations: %w", err) }
    if len(applied) > 0 { logger.Info("migrations_applied", "names", applied) }

    validator, err := sandbox.New(cfg.SandboxRoot)
    if err != nil { return fmt.Errorf("sandbox: %w", err) }

    registry := tools.NewRegistry(logger)
    tools.NewFS(validator, cfg.ToolMaxFileBytes, cfg.ToolMaxEntries, logger).Register(registry)
    tools.NewSQL(store, cfg.ToolMaxQueryBytes, logger).Register(registry)

    del, err := delegate.NewHTTP(cfg.DelegateURL, cfg.DelegateSecret, cfg.DelegateMaxTurns, cfg.DelegateAllowPrivate, registry, logger)
    if err != nil { return fmt.Errorf("delegate: %w", err) }
    del.MaxOutputBytes = cfg.MaxResponseBytes

    allow, err := cfg.AllowPrefixes()
    if err != nil { return fmt.Errorf("allow list: %w", err) }

    memory := ratelimit.NewMemory(cfg.RateLimitMax, cfg.RateLimitWindow)
    var limiter ratelimit.Limiter = memory
    if cfg.RedisURL != "" {
        opts, err := redis.ParseURL(cfg.RedisURL)
        if err != nil { return fmt.Errorf("redis url: %w", err) }
        rdb := redis.NewClient(opts)
        defer rdb.Close()
        if err := rdb.Ping(ctx).Err(); err != nil {
            logger.Warn("redis_unavailable", "error", err)
        }
        rl := ratelimit.NewRedis(rdb, cfg.RateLimitMax, cfg.RateLimitWindow)
        rl.Fallback = memory
        rl.Logger = logger.Warn
        limiter = rl
    }

    srv, err := gateway.New(gateway.Options{
        Limiter:           limiter,
        Admission:         admission.New(cfg.ConcurrencyLimit),
        Delegate:          del,
        Store:             store,
        Logger:            logger,
        MaxRequestBytes:   cfg.MaxRequestBytes,
        MaxResponseBytes:  cfg.MaxResponseBytes,
        MaxPromptBytes:    cfg.MaxPromptBytes,
        RequestTimeout:    cfg.RequestTimeout,
        DelegateTimeout:   cfg.DelegateTimeout,
        ShutdownGrace:     cfg.ShutdownGrace,
        AllowList:         allow,
        TrustForwardedFor: cfg.TrustForwardedFor,
        RetentionDays:     cfg.RetentionDays,
    })
    if err != nil { return err }

    bg, bgCtx := errgroup.WithContext(ctx)
    bg.Go(func() error { return memory.Run(bgCtx) })
    bg.Go(func() error { return srv.RunHousekeeping(bgCtx, time.Hour) })

    serveErr := make(chan error, 1)
    go func() { serveErr <- srv.ListenAndServe(cfg.ListenAddr) }()

    select {
    case err := <-serveErr:
        stop()
        bg.Wait()
        return err
    case <-ctx.Done():
    }
    // ctx keeps absorbing signals until stop, so a second one does not restart cleanup
    logger.Info("shutdown_signal")

    shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
    defer cancel()
    err = srv.Shutdown(shutdownCtx)
    if serr := <-serveErr; serr != nil && !errors.Is(serr, gateway.ErrServerClosed) {
        logger.Error("serve_error", "error", serr)
    }
    bg.Wait()
    if errors.Is(err, gateway.ErrForcedClose) {
        logger.Warn("shutdown_forced", "error", err)
        return nil
    }
    return err
}
