package transform

import "github.com/prometheus/client_golang/prometheus"

var transformDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "geoservice_transform_duration_seconds",
		Help:    "Duration of geometry transforms, in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"family", "outcome"},
)

func init() {
	prometheus.MustRegister(transformDuration)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, family := range []string{FamilyConstructive, FamilyFilter, FamilyJoin} {
		for _, kind := range []OutcomeKind{OutcomeSuccess, OutcomeEmpty, OutcomeFailure} {
			transformDuration.WithLabelValues(family, kind.String())
		}
	}
}
