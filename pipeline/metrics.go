package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts batch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Chunks        *prometheus.CounterVec
	Windows       *prometheus.CounterVec
	RejectedRows  prometheus.Counter
	ChunkDuration *prometheus.HistogramVec
}

// NewMetrics creates the batch collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mh_chunks_total",
			Help: "Chunks processed, by processor and status.",
		}, []string{"processor", "status"}),
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mh_windows_total",
			Help: "Output rows, split into windows with data and placeholder rows.",
		}, []string{"processor", "kind"}),
		RejectedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mh_rejected_rows_total",
			Help: "Input rows rejected by the loaders.",
		}),
		ChunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mh_chunk_duration_seconds",
			Help:    "Wall time spent on one chunk.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"processor"}),
	}
	for _, c := range []prometheus.Collector{m.Chunks, m.Windows, m.RejectedRows, m.ChunkDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(processor string, r ChunkReport, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(processor, string(r.Status)).Inc()
	if r.Status == StatusCanceled {
		return
	}
	m.RejectedRows.Add(float64(r.Rejected))
	m.Windows.WithLabelValues(processor, "full").Add(float64(r.OutputRows - r.EmptyRows))
	m.Windows.WithLabelValues(processor, "empty").Add(float64(r.EmptyRows))
	m.ChunkDuration.WithLabelValues(processor).Observe(elapsed.Seconds())
}

// WriteTextfile dumps every metric gathered by g to path in the text exposition format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
