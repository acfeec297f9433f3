package gateway

import (
    "context"
    "time"
)

// RunHousekeeping purges audit rows older than the retention period every
// interval until ctx is done. A zero retention keeps everything.
func (s *Server) RunHousekeeping(ctx context.Context, every time.Duration) error {
    if s.opts.Store == nil || s.opts.RetentionDays <= 0 { return nil }
    if every <= 0 { every = time.Hour }
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-ticker.C:
            s.Purge(ctx, s.opts.Now())
        }
    }
}

// Purge deletes audit rows recorded before now minus the retention period.
func (s *Server) Purge(ctx context.Context, now time.Time) int64 {
    if s.opts.Store == nil || s.opts.RetentionDays <= 0 { return 0 }
    cutoff := now.Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour)
    n, err := s.opts.Store.PurgeRequests(ctx, cutoff)
    if err != nil {
        s.logger.Warn("housekeeping_error", "error", err)
        return 0
    }
    if n > 0 { s.logger.Info("housekeeping_deleted", "rows", n, "before", cutoff.UTC().Format(time.RFC3339)) }
    return n
}
