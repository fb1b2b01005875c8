package segmerge

import (
	"github.com/hupe1980/segmerge/codec"
	"github.com/hupe1980/segmerge/internal/resource"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	resources        resource.Config
	concurrency      int
	patchCompression string
}

// Option configures Open and OpenBlob.
type Option func(*options)

// WithCodec selects the codec of format_options files written for new
// segments. A nil codec means codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMemoryLimit bounds the memory reserved by concurrent patch work items.
// Reservations are advisory: a work item larger than the limit waits for
// the whole budget instead of failing. Zero disables the limit.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resources.MemoryLimitBytes = bytes
	}
}

// WithBackgroundWorkers bounds the number of patch work items running at
// once across all merges of the table.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		o.resources.MaxBackgroundWorkers = int64(n)
	}
}

// WithIOLimit throttles merge output to bytesPerSec. Zero disables it.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resources.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithConcurrency sets the number of work items a single merge schedules in
// parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithPatchCompression sets the body compression of patch files written by
// WritePatch and of segments written by CreateSegment ("none", "lz4",
// "zstd"). It takes precedence over a segment's format options.
func WithPatchCompression(name string) Option {
	return func(o *options) {
		o.patchCompression = name
	}
}

// WithMetricsCollector reports merges, patch writes and deletes to mc.
// A nil mc disables reporting.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the logger of the table. A nil logger disables logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
