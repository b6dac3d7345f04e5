package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plantdoc"

var (
	once sync.Once

	// PredictionsTotal counts classification requests by outcome.
	PredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Total number of leaf image classifications, labeled by result.",
	}, []string{"result"})

	PredictionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "prediction_duration_seconds",
		Help:      "Time spent preprocessing and running the classifier for one image.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// AdvisoryRequestsTotal counts generative-text calls by kind (info, answer) and outcome.
	AdvisoryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "advisory_requests_total",
		Help:      "Total number of advisory text generation calls, labeled by kind and result.",
	}, []string{"kind", "result"})

	AdvisoryDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "advisory_duration_seconds",
		Help:      "Round-trip time of advisory text generation calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"kind"})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times. sessionEntries, when non-nil, is exported as
// a gauge of live session entries.
func Register(sessionEntries func() float64) {
	once.Do(func() {
		prometheus.MustRegister(
			PredictionsTotal,
			PredictionDurationSeconds,
			AdvisoryRequestsTotal,
			AdvisoryDurationSeconds,
		)
		if sessionEntries != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_entries",
				Help:      "Number of session entries held in the in-memory session cache.",
			}, sessionEntries))
		}
	})
}

func ObservePrediction(ok bool, d time.Duration) {
	PredictionsTotal.WithLabelValues(result(ok)).Inc()
	PredictionDurationSeconds.Observe(d.Seconds())
}

func ObserveAdvisory(kind string, ok bool, d time.Duration) {
	AdvisoryRequestsTotal.WithLabelValues(kind, result(ok)).Inc()
	AdvisoryDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
