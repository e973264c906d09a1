package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/crewmap/pkg/metrics"
)

// MetricsMiddleware records request count, latency and failures for route.
func MetricsMiddleware(next http.HandlerFunc, route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		code := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(route, r.Method, code)
		metrics.RecordHTTPRequestDuration(route, r.Method, code, float64(time.Since(start).Milliseconds()))
		if kind, failed := failureKind(rec.status); failed {
			metrics.RecordErrorByComponent("http_"+route, kind)
		}
	}
}

// failureKind classifies an error status for the error-rate metric.
func failureKind(status int) (string, bool) {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", true
	case status == http.StatusNotFound:
		return "not_found", true
	case status >= http.StatusBadRequest:
		return "client_error", true
	default:
		return "", false
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
