// Package resource gates the patch work items of a merge.
//
// A work item runs only after it holds a worker slot (AcquireBackground) and
// a memory reservation sized by its patch size hint (WaitMemory). Reservations
// larger than the configured limit are clamped, so an oversized item waits
// until it has the whole budget instead of failing.
//
// Reclaim map output is throttled by wrapping the file in a
// RateLimitedWriter:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxBackgroundWorkers: 4,
//	    IOLimitBytesPerSec:   32 << 20,
//	})
//	w := resource.NewRateLimitedWriter(ctx, f, rc)
//
// Every method accepts a nil *Controller, which imposes no limits.
package resource
