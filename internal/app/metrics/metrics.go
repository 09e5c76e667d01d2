package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dosetrack",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosetrack",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dosetrack",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	injectionsLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosetrack",
			Subsystem: "injections",
			Name:      "logged_total",
			Help:      "Total number of injections recorded.",
		},
		[]string{"slot"},
	)

	duplicatesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dosetrack",
			Subsystem: "injections",
			Name:      "duplicates_rejected_total",
			Help:      "Total number of duplicate slot recordings rejected.",
		},
	)

	rateLimitDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dosetrack",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
	)

	missedSlots = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dosetrack",
			Subsystem: "reminders",
			Name:      "missed_slots_total",
			Help:      "Total number of missed dose slots observed by the reminder scan.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		injectionsLogged,
		duplicatesRejected,
		rateLimitDrops,
		missedSlots,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordInjectionLogged records a successfully logged injection.
func RecordInjectionLogged(slot string) {
	if slot == "" {
		slot = "unknown"
	}
	injectionsLogged.WithLabelValues(slot).Inc()
}

// RecordDuplicateRejected records a duplicate slot rejection.
func RecordDuplicateRejected() {
	duplicatesRejected.Inc()
}

// RecordRateLimited records a request dropped by the rate limiter.
func RecordRateLimited() {
	rateLimitDrops.Inc()
}

// RecordMissedSlot records a missed dose slot observation.
func RecordMissedSlot() {
	missedSlots.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
