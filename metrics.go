package segmerge

import (
	"context"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems;
// PrometheusCollector is a ready-made Prometheus implementation.
type MetricsCollector interface {
	// RecordMerge is called after each merge plan.
	// inputSegments is the number of merged segments, outputDocs the number
	// of documents in the published segment (zero on failure).
	RecordMerge(duration time.Duration, inputSegments, outputDocs int, err error)

	// RecordWorkItem is called after each patch work item of a merge.
	RecordWorkItem(duration time.Duration, records int, err error)

	// RecordThroughput reports bytes written by a merge.
	RecordThroughput(name string, bytes int64)

	// RecordPatch is called after each WritePatch call with the number of
	// patch records written.
	RecordPatch(records int, err error)

	// RecordDelete is called after documents are marked deleted.
	RecordDelete(count int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMerge(time.Duration, int, int, error) {}
func (NoopMetricsCollector) RecordWorkItem(time.Duration, int, error)   {}
func (NoopMetricsCollector) RecordThroughput(string, int64)             {}
func (NoopMetricsCollector) RecordPatch(int, error)                     {}
func (NoopMetricsCollector) RecordDelete(int, error)                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MergeCount        atomic.Int64
	MergeErrors       atomic.Int64
	MergeTotalNanos   atomic.Int64
	MergedSegments    atomic.Int64
	MergedDocs        atomic.Int64
	WorkItemCount     atomic.Int64
	WorkItemErrors    atomic.Int64
	PatchRecords      atomic.Int64
	BytesWritten      atomic.Int64
	PatchWrites       atomic.Int64
	PatchWriteErrors  atomic.Int64
	PatchWriteRecords atomic.Int64
	DeletedDocs       atomic.Int64
	DeleteErrors      atomic.Int64
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(duration time.Duration, inputSegments, outputDocs int, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergedSegments.Add(int64(inputSegments))
	b.MergedDocs.Add(int64(outputDocs))
}

// RecordWorkItem implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWorkItem(duration time.Duration, records int, err error) {
	b.WorkItemCount.Add(1)
	b.PatchRecords.Add(int64(records))
	if err != nil {
		b.WorkItemErrors.Add(1)
	}
}

// RecordThroughput implements MetricsCollector.
func (b *BasicMetricsCollector) RecordThroughput(name string, bytes int64) {
	b.BytesWritten.Add(bytes)
}

// RecordPatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPatch(records int, err error) {
	b.PatchWrites.Add(1)
	if err != nil {
		b.PatchWriteErrors.Add(1)
		return
	}
	b.PatchWriteRecords.Add(int64(records))
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, err error) {
	if err != nil {
		b.DeleteErrors.Add(1)
		return
	}
	b.DeletedDocs.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MergeCount:        b.MergeCount.Load(),
		MergeErrors:       b.MergeErrors.Load(),
		MergeAvgNanos:     b.getAvgMergeNanos(),
		MergedSegments:    b.MergedSegments.Load(),
		MergedDocs:        b.MergedDocs.Load(),
		WorkItemCount:     b.WorkItemCount.Load(),
		WorkItemErrors:    b.WorkItemErrors.Load(),
		PatchRecords:      b.PatchRecords.Load(),
		BytesWritten:      b.BytesWritten.Load(),
		PatchWrites:       b.PatchWrites.Load(),
		PatchWriteErrors:  b.PatchWriteErrors.Load(),
		PatchWriteRecords: b.PatchWriteRecords.Load(),
		DeletedDocs:       b.DeletedDocs.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgMergeNanos() int64 {
	count := b.MergeCount.Load()
	if count == 0 {
		return 0
	}
	return b.MergeTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MergeCount        int64
	MergeErrors       int64
	MergeAvgNanos     int64
	MergedSegments    int64
	MergedDocs        int64
	WorkItemCount     int64
	WorkItemErrors    int64
	PatchRecords      int64
	BytesWritten      int64
	PatchWrites       int64
	PatchWriteErrors  int64
	PatchWriteRecords int64
	DeletedDocs       int64
	DeleteErrors      int64
}

// observer adapts a MetricsCollector and a Logger to the merge engine.
type observer struct {
	metrics MetricsCollector
	logger  *Logger
}

func (o observer) OnMerge(d time.Duration, inputSegments, outputDocs int, err error) {
	o.metrics.RecordMerge(d, inputSegments, outputDocs, err)
}

func (o observer) OnWorkItem(d time.Duration, records int, err error) {
	o.metrics.RecordWorkItem(d, records, err)
	o.logger.LogWorkItem(context.Background(), records, d, err)
}

func (o observer) OnThroughput(name string, bytes int64) {
	o.metrics.RecordThroughput(name, bytes)
}
