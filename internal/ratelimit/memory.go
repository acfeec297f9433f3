package ratelimit

import (
    "context"
    "sync"
    "time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
    Allowed   bool
    Count     int
    Limit     int
    Remaining int
    ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
    if wait := d.ResetAt.Sub(now); wait > 0 {
        return wait
    }
    return 0
}

type Limiter interface {
    Allow(ctx context.Context, identity string) Decision
}

// Entry is the per-identity fixed-window record.
type Entry struct {
    Identity string
    Count    int
    ResetAt  time.Time
}

// Memory is a fixed-window counter keyed by client identity. A window allows
// up to Max requests; once it has passed the next request opens a new one.
type Memory struct {
    mu      sync.Mutex
    window  time.Duration
    max     int
    entries map[string]*Entry
    now     func() time.Time
}

func NewMemory(max int, window time.Duration) *Memory {
    if window <= 0 { window = time.Minute }
    if max <= 0 { max = 1 }
    return &Memory{
        window:  window,
        max:     max,
        entries: make(map[string]*Entry),
        now:     time.Now,
    }
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
    m.now = now
    return m
}

func (m *Memory) Allow(_ context.Context, identity string) Decision {
    now := m.now()
    m.mu.Lock()
    defer m.mu.Unlock()

    e, ok := m.entries[identity]
    if !ok || now.After(e.ResetAt) {
        e = &Entry{Identity: identity, Count: 1, ResetAt: now.Add(m.window)}
        m.entries[identity] = e
        return m.decision(e, true)
    }
    if e.Count < m.max {
        e.Count++
        return m.decision(e, true)
    }
    return m.decision(e, false)
}

func (m *Memory) decision(e *Entry, allowed bool) Decision {
    remaining := m.max - e.Count
    if remaining < 0 { remaining = 0 }
    return Decision{
        Allowed:   allowed,
        Count:     e.Count,
        Limit:     m.max,
        Remaining: remaining,
        ResetAt:   e.ResetAt,
    }
}

// Sweep evicts identities whose window ended more than one window ago and
// returns how many were removed.
func (m *Memory) Sweep(now time.Time) int {
    m.mu.Lock()
    defer m.mu.Unlock()
    removed := 0
    for k, e := range m.entries {
        if now.Sub(e.ResetAt) > m.window {
            delete(m.entries, k)
            removed++
        }
    }
    return removed
}

func (m *Memory) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.entries)
}

// Run sweeps once per window until ctx is done.
func (m *Memory) Run(ctx context.Context) error {
    ticker := time.NewTicker(m.window)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-ticker.C:
            m.Sweep(m.now())
        }
    }
}
