package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	settlementRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "draws",
			Name:      "runs_total",
			Help:      "Total number of settlement runs.",
		},
		[]string{"outcome"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "draws",
			Name:      "run_duration_seconds",
			Help:      "Duration of settlement runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "payouts",
			Name:      "transfers_total",
			Help:      "Total number of prize payout attempts.",
		},
		[]string{"status"},
	)

	payoutAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "payouts",
			Name:      "amount_total",
			Help:      "Cumulative GAS amount of prize payout attempts.",
		},
		[]string{"status"},
	)

	ticketsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "tickets",
			Name:      "sold_total",
			Help:      "Total number of tickets sold.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		settlementRuns,
		settlementDuration,
		payouts,
		payoutAmount,
		ticketsSold,
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
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSettlementRun records the outcome and duration of a settlement run.
func RecordSettlementRun(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	settlementRuns.WithLabelValues(outcome).Inc()
	settlementDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPayout records one prize payout attempt.
func RecordPayout(status string, amount float64) {
	payouts.WithLabelValues(status).Inc()
	if amount > 0 {
		payoutAmount.WithLabelValues(status).Add(amount)
	}
}

// RecordTicketSale increments the sold-ticket counter.
func RecordTicketSale() {
	ticketsSold.Inc()
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "tickets":
		if len(parts) > 1 {
			return "/tickets/:id"
		}
		return "/tickets"
	case "draws":
		if len(parts) == 1 {
			return "/draws"
		}
		if len(parts) == 2 {
			return "/draws/:id"
		}
		return "/draws/:id/" + parts[2]
	case "settlements":
		if len(parts) > 2 {
			return "/settlements/:draw/" + parts[2]
		}
		return "/settlements/" + parts[len(parts)-1]
	default:
		return "/" + parts[0]
	}
}
