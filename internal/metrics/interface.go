package metrics

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks . RequestRecorder

// RequestRecorder is the part of the in-process registry the live monitor
// needs: the request middleware records counters and histograms for every
// HTTP call and /api/v1/stats serves the snapshot.
type RequestRecorder interface {
	// Counter increments the named counter for labels.
	Counter(name string, labels Labels)

	// Histogram records value in the named histogram for labels.
	Histogram(name string, value float64, labels Labels)

	// GetMetrics returns a copy of every recorded series.
	GetMetrics() map[string]*Metric
}

var _ RequestRecorder = (*Registry)(nil)
