package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config bounds the work a merger may run at once. Zero values disable the
// corresponding limit.
type Config struct {
	// MemoryLimitBytes caps the summed size hints of running work items.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers caps the number of work items running at once.
	// Values below one mean one.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec throttles merge output written through
	// RateLimitedWriter.
	IOLimitBytesPerSec int64
}

// Controller admits merge work items. A nil *Controller admits everything.
type Controller struct {
	memLimit int64
	memSem   *semaphore.Weighted
	memUsed  atomic.Int64

	slots *semaphore.Weighted
	io    *rate.Limiter
}

// NewController returns a controller enforcing cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{
		memLimit: max(cfg.MemoryLimitBytes, 0),
		slots:    semaphore.NewWeighted(max(cfg.MaxBackgroundWorkers, 1)),
	}
	if c.memLimit > 0 {
		c.memSem = semaphore.NewWeighted(c.memLimit)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireBackground blocks until a worker slot is free or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.slots.Acquire(ctx, 1)
}

// ReleaseBackground frees a slot taken by AcquireBackground.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.slots.Release(1)
}

// WaitMemory reserves bytes for a work item, blocking until the reservation
// fits or ctx is done. Waiters are served in arrival order, so a large item
// is not starved by smaller ones queued after it. A request above the limit
// is clamped to the limit so that a single oversized item still runs once it
// has the budget to itself. The returned amount must be handed to
// ReleaseMemory.
func (c *Controller) WaitMemory(ctx context.Context, bytes int64) (int64, error) {
	if c == nil || bytes <= 0 {
		return 0, nil
	}
	if c.memSem != nil {
		bytes = min(bytes, c.memLimit)
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return 0, err
		}
	}
	c.memUsed.Add(bytes)
	return bytes, nil
}

// ReleaseMemory returns a reservation made by WaitMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage reports the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// waitIO blocks until the IO budget allows n more bytes.
func (c *Controller) waitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return ctx.Err()
	}
	return c.io.WaitN(ctx, n)
}
