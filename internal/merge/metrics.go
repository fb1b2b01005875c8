package merge

import "time"

// MetricsObserver receives merge events.
type MetricsObserver interface {
	// OnMerge is called when a merge plan finishes.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int, err error)

	// OnWorkItem is called when a patch work item finishes.
	OnWorkItem(duration time.Duration, records int, err error)

	// OnThroughput reports bytes written.
	OnThroughput(name string, bytes int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnMerge(time.Duration, int, int, error) {}
func (NoopMetricsObserver) OnWorkItem(time.Duration, int, error)   {}
func (NoopMetricsObserver) OnThroughput(string, int64)             {}
