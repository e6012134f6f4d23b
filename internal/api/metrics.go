package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/geoservice/internal/transform"
)

// Admission outcomes as reported by geoservice_admissions_total.
const (
	admittedPrompt    = "prompt"
	admittedDeferred  = "deferred"
	admittedDuplicate = "duplicate"
	admittedRefused   = "refused"
)

const unmatched = "unmatched"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoservice_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoservice_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoservice_admissions_total",
			Help: "Transform requests admitted, by request type and how they were answered.",
		},
		[]string{"request_type", "response"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, admissionsTotal)

	for _, info := range transform.Catalog() {
		for _, resp := range []string{admittedPrompt, admittedDeferred, admittedDuplicate, admittedRefused} {
			admissionsTotal.WithLabelValues(info.RequestType, resp)
		}
	}
}

func recordAdmission(requestType, response string) {
	admissionsTotal.WithLabelValues(requestType, response).Inc()
}

// instrument counts and times every request under its chi route pattern,
// so ticket ids in query strings never become label values.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := unmatched
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
