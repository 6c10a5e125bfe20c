package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the wallet-auth and registry-sync paths.
var (
	challengesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_challenges_issued_total",
		Help: "Total wallet sign-in challenges issued.",
	})

	walletVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_wallet_verifications_total",
			Help: "Wallet signature verification outcomes.",
		},
		[]string{"result"},
	)

	registryReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_reads_total",
			Help: "Authorization registry read outcomes.",
		},
		[]string{"result"},
	)

	registryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_writes_total",
			Help: "Authorization registry write outcomes.",
		},
		[]string{"op", "result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		challengesIssued, walletVerifications, registryReads, registryWrites,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ChallengeIssued increments the issued-challenge counter.
func ChallengeIssued() { challengesIssued.Inc() }

// WalletVerification records a verification outcome ("ok", "mismatch",
// "invalid", "no_session").
func WalletVerification(result string) { walletVerifications.WithLabelValues(result).Inc() }

// RegistryRead records an isApprovedUser call outcome ("ok", "error").
func RegistryRead(result string) { registryReads.WithLabelValues(result).Inc() }

// RegistryWrite records an approve/revoke submission outcome.
func RegistryWrite(op, result string) { registryWrites.WithLabelValues(op, result).Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
