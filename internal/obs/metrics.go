package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName labels logs and health responses.
const ServiceName = "tenantgate-api"

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

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication flow outcomes.",
		},
		[]string{"event", "result"},
	)

	otpIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issued_total",
			Help: "One-time codes issued, by purpose.",
		},
		[]string{"purpose"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notification delivery attempts.",
		},
		[]string{"channel", "result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service dependencies are reachable.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEvents, otpIssued, notifications, ready)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// AuthEvent counts an authentication flow outcome (event=signin, result=ok|denied|error).
func AuthEvent(event, result string) {
	authEvents.WithLabelValues(event, result).Inc()
}

// OTPIssued counts a freshly issued one-time code.
func OTPIssued(purpose string) {
	otpIssued.WithLabelValues(purpose).Inc()
}

// NotificationResult counts a delivery attempt.
func NotificationResult(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

var idSegments = map[string]bool{
	"tenants": true,
	"roles":   true,
	"users":   true,
}

// CanonicalPath collapses identifier segments so metric cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idSegments[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	if len(parts) == 2 && parts[0] == "auth" && parts[1] != "" && !authActions[parts[1]] {
		parts[1] = ":provider"
	}
	if len(parts) == 3 && parts[0] == "auth" && parts[2] == "callback" {
		parts[1] = ":provider"
	}
	return "/" + strings.Join(parts, "/")
}

var authActions = map[string]bool{
	"signup":          true,
	"signin":          true,
	"verify-otp":      true,
	"resend-otp":      true,
	"forget-password": true,
	"reset-password":  true,
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
