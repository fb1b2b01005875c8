package segmerge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports merge metrics to Prometheus.
type PrometheusCollector struct {
	merges        *prometheus.CounterVec
	mergeLatency  prometheus.Histogram
	mergedDocs    prometheus.Counter
	workItems     *prometheus.CounterVec
	patchRecords  prometheus.Counter
	bytesWritten  *prometheus.CounterVec
	patchWrites   *prometheus.CounterVec
	deletedDocs   prometheus.Counter
	deleteFailure prometheus.Counter
}

// NewPrometheusCollector creates a collector and registers its metrics with
// reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmerge_merges_total",
			Help: "Total number of merge plans by status",
		}, []string{"status"}),
		mergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmerge_merge_duration_seconds",
			Help:    "Histogram of merge plan durations",
			Buckets: prometheus.DefBuckets,
		}),
		mergedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmerge_merged_docs_total",
			Help: "Total number of documents written by merges",
		}),
		workItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmerge_work_items_total",
			Help: "Total number of patch work items by status",
		}, []string{"status"}),
		patchRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmerge_patch_records_merged_total",
			Help: "Total number of patch records replayed by merges",
		}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmerge_bytes_written_total",
			Help: "Total number of bytes written",
		}, []string{"name"}),
		patchWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmerge_patch_writes_total",
			Help: "Total number of patch generations written by status",
		}, []string{"status"}),
		deletedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmerge_deleted_docs_total",
			Help: "Total number of documents marked deleted",
		}),
		deleteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segmerge_delete_errors_total",
			Help: "Total number of failed deletes",
		}),
	}
	for _, c := range []prometheus.Collector{
		p.merges, p.mergeLatency, p.mergedDocs, p.workItems, p.patchRecords,
		p.bytesWritten, p.patchWrites, p.deletedDocs, p.deleteFailure,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordMerge implements MetricsCollector.
func (p *PrometheusCollector) RecordMerge(d time.Duration, _ int, outputDocs int, err error) {
	p.merges.WithLabelValues(status(err)).Inc()
	p.mergeLatency.Observe(d.Seconds())
	p.mergedDocs.Add(float64(outputDocs))
}

// RecordWorkItem implements MetricsCollector.
func (p *PrometheusCollector) RecordWorkItem(_ time.Duration, records int, err error) {
	p.workItems.WithLabelValues(status(err)).Inc()
	p.patchRecords.Add(float64(records))
}

// RecordThroughput implements MetricsCollector.
func (p *PrometheusCollector) RecordThroughput(name string, bytes int64) {
	p.bytesWritten.WithLabelValues(name).Add(float64(bytes))
}

// RecordPatch implements MetricsCollector.
func (p *PrometheusCollector) RecordPatch(_ int, err error) {
	p.patchWrites.WithLabelValues(status(err)).Inc()
}

// RecordDelete implements MetricsCollector.
func (p *PrometheusCollector) RecordDelete(count int, err error) {
	if err != nil {
		p.deleteFailure.Inc()
		return
	}
	p.deletedDocs.Add(float64(count))
}
