package resource

import (
	"context"
	"errors"
	"io"
)

// ErrNotSeekable is returned by Seek when the wrapped writer cannot seek.
var ErrNotSeekable = errors.New("resource: underlying writer is not seekable")

const maxIOChunk = 64 * 1024

// RateLimitedWriter charges every write against the controller's IO budget.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter wraps w. With a nil controller writes only fail once
// ctx is done.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := min(len(p), w.rc.ioChunk())
		if err := w.rc.waitIO(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

// Seek forwards to the wrapped writer.
func (w *RateLimitedWriter) Seek(offset int64, whence int) (int64, error) {
	if s, ok := w.w.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, ErrNotSeekable
}

// ioChunk is the largest single token request the limiter grants.
func (c *Controller) ioChunk() int {
	if c == nil || c.io == nil {
		return maxIOChunk
	}
	return max(1, min(maxIOChunk, c.io.Burst()))
}
