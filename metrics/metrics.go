// Package metrics exposes the write/read path's I/O counters as
// Prometheus metrics, mirroring the original's plfsio::IoStats:
// separate byte/op counters for the index stream (filter + index
// stripe) and the data stream (blocks).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// IoStats tracks bytes and operation counts for one log sink or
// source, split between the index stream and the data stream the way
// the original's WritableFileStats/RandomAccessFileStats do.
type IoStats struct {
	IndexBytes prometheus.Counter
	IndexOps   prometheus.Counter
	DataBytes  prometheus.Counter
	DataOps    prometheus.Counter
}

// NewIoStats registers a fresh set of counters under reg, labeled
// with name (typically the directory or writer identifier). Passing a
// nil registry returns unregistered, otherwise-functional counters,
// which is convenient for tests.
func NewIoStats(reg prometheus.Registerer, name string) *IoStats {
	labels := prometheus.Labels{"dir": name}
	s := &IoStats{
		IndexBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "plfsio_index_bytes_total",
			Help:        "Total bytes appended to the index stream (filter + index stripe).",
			ConstLabels: labels,
		}),
		IndexOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "plfsio_index_ops_total",
			Help:        "Total append operations against the index stream.",
			ConstLabels: labels,
		}),
		DataBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "plfsio_data_bytes_total",
			Help:        "Total bytes appended to the data stream (blocks).",
			ConstLabels: labels,
		}),
		DataOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "plfsio_data_ops_total",
			Help:        "Total append operations against the data stream.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(s.IndexBytes, s.IndexOps, s.DataBytes, s.DataOps)
	}
	return s
}

// AddIndex records one index-stream append of n bytes.
func (s *IoStats) AddIndex(n int) {
	if s == nil {
		return
	}
	s.IndexBytes.Add(float64(n))
	s.IndexOps.Inc()
}

// AddData records one data-stream append of n bytes.
func (s *IoStats) AddData(n int) {
	if s == nil {
		return
	}
	s.DataBytes.Add(float64(n))
	s.DataOps.Inc()
}
