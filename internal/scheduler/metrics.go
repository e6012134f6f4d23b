package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoservice_job_queue_depth",
			Help: "Number of deferred jobs waiting for the worker.",
		},
	)

	finalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoservice_tickets_finalized_total",
			Help: "Total number of finalized tickets by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, finalizedTotal)
}
