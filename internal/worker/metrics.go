package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_attempts_total",
		Help: "Generation attempts by outcome (ok, retry, failed).",
	}, []string{"result"})

	generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_duration_seconds",
		Help:    "Latency of generation backend calls.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
	})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "generation_queue_depth",
		Help: "Jobs in the generation queue by state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(attempts, generationDuration, queueDepth)
}
