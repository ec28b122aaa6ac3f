package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// GenerationsInFlight is the number of generations currently running.
	GenerationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "docustitch",
		Subsystem: "generator",
		Name:      "in_flight",
		Help:      "Current number of script generations in progress.",
	})

	// GenerationsTotal counts finished generations by result
	// (completed, image_read, network, malformed_response).
	GenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docustitch",
		Subsystem: "generator",
		Name:      "generations_total",
		Help:      "Total number of script generations, labeled by result.",
	}, []string{"result"})

	GenerationDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docustitch",
		Subsystem: "generator",
		Name:      "generation_duration_seconds",
		Help:      "Time from submission to a terminal state.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"result"})

	ScreenshotsUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docustitch",
		Subsystem: "web",
		Name:      "screenshots_uploaded_total",
		Help:      "Total number of screenshots accepted.",
	})

	ScreenshotsRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docustitch",
		Subsystem: "web",
		Name:      "screenshots_rejected_total",
		Help:      "Total number of uploads rejected as unsupported or oversized.",
	})

	SessionsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "docustitch",
		Subsystem: "janitor",
		Name:      "sessions_purged_total",
		Help:      "Total number of expired sessions removed.",
	})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			GenerationsInFlight,
			GenerationsTotal,
			GenerationDurationSeconds,
			ScreenshotsUploadedTotal,
			ScreenshotsRejectedTotal,
			SessionsPurgedTotal,
		)
	})
}
