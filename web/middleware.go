package web

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"metricboard/internal/telemetry"
)

// withRequestLogging logs every request and records it under its route
// pattern, so /api/batches/1 and /api/batches/2 share one series.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &telemetry.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(started)
		s.httpMetrics.Observe(route, recorder.Status, elapsed)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", recorder.Status),
			zap.Duration("elapsed", elapsed),
		)
	})
}
