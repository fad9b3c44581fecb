package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/observability"
)

// knownEndpoints bounds the endpoint label for requests chi did not route.
var knownEndpoints = map[string]string{
	"/":             "/",
	"/version":      "/version",
	"/metrics":      "/metrics",
	"/api/generate": "/api/generate",
}

// getEndpointPattern returns a low-cardinality label for r.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	if path == "/health" || strings.HasPrefix(path, "/health/") {
		return "/health/*"
	}
	if endpoint, ok := knownEndpoints[path]; ok {
		return endpoint
	}
	return "/unknown"
}

// requestObservation is what RequestMetrics learns about one request.
type requestObservation struct {
	method       string
	path         string
	endpoint     string
	status       int
	duration     time.Duration
	requestSize  int64
	responseSize int64
	client       string
	requestID    string
}

func (o requestObservation) emit() {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := strconv.Itoa(o.status)
	labels := map[string]string{"method": o.method, "endpoint": o.endpoint, "status": status}
	sizeLabels := map[string]string{"method": o.method, "endpoint": o.endpoint}

	_ = sys.Counter("http_requests_total", 1, labels)
	_ = sys.Histogram("http_request_duration_ms", o.duration, labels)
	_ = sys.Gauge("http_request_size_bytes", float64(o.requestSize), sizeLabels)
	_ = sys.Gauge("http_response_size_bytes", float64(o.responseSize), sizeLabels)

	if o.status < http.StatusBadRequest {
		return
	}
	errorType := "client_error"
	if o.status >= http.StatusInternalServerError {
		errorType = "server_error"
	}
	_ = sys.Counter("http_errors_total", 1, map[string]string{
		"method":     o.method,
		"endpoint":   o.endpoint,
		"status":     status,
		"error_type": errorType,
	})
}

func (o requestObservation) log() {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("method", o.method),
		zap.String("path", o.path),
		zap.String("endpoint", o.endpoint),
		zap.Int("status", o.status),
		zap.Duration("duration", o.duration),
		zap.Int64("request_size", o.requestSize),
		zap.Int64("response_size", o.responseSize),
		zap.String("client", o.client),
		zap.String("request_id", o.requestID),
	}

	switch {
	case o.status >= http.StatusInternalServerError:
		logger.Warn("HTTP request failed", fields...)
	case o.endpoint == "/health/*" || o.endpoint == "/metrics":
		// Probes and scrapes arrive every few seconds.
		logger.Debug("HTTP request completed", fields...)
	default:
		logger.Info("HTTP request completed", fields...)
	}
}

// RequestMetrics records Prometheus request metrics and one access log line
// per request. Request IDs go to the log only, never to metric labels.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil && observability.ServerLogger == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		obs := requestObservation{
			method:       r.Method,
			path:         r.URL.Path,
			endpoint:     getEndpointPattern(r),
			status:       status,
			duration:     time.Since(start),
			requestSize:  requestSize,
			responseSize: int64(ww.BytesWritten()),
			client:       ClientIP(r),
			requestID:    GetRequestID(r.Context()),
		}
		obs.emit()
		obs.log()
	})
}
