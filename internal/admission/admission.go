package admission

import (
    "sync"
    "sync/atomic"
)

// Controller caps how many requests may be delegating at once. It never
// queues: a full controller refuses immediately.
type Controller struct {
    ceiling  int64
    inflight atomic.Int64
}

func New(ceiling int) *Controller {
    if ceiling <= 0 { ceiling = 1 }
    return &Controller{ceiling: int64(ceiling)}
}

// Acquire takes one slot if one is free.
func (c *Controller) Acquire() bool {
    for {
        cur := c.inflight.Load()
        if cur >= c.ceiling { return false }
        if c.inflight.CompareAndSwap(cur, cur+1) { return true }
    }
}

// Release gives a slot back. Extra releases never push the count below zero.
func (c *Controller) Release() {
    for {
        cur := c.inflight.Load()
        if cur <= 0 { return }
        if c.inflight.CompareAndSwap(cur, cur-1) { return }
    }
}

// Lease acquires a slot and returns a release func that is safe to call from
// every exit path; only the first call gives the slot back.
func (c *Controller) Lease() (func(), bool) {
    if !c.Acquire() { return func() {}, false }
    var once sync.Once
    return func() { once.Do(c.Release) }, true
}

func (c *Controller) InFlight() int { return int(c.inflight.Load()) }

func (c *Controller) Ceiling() int { return int(c.ceiling) }
