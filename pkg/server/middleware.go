package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
)

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.metrics.RecordHTTPRequest(r.Method, metricsPath(r.URL.Path), strconv.Itoa(m.Code), m.Duration)
	})
}

// metricsPath collapses node ids so the path label stays bounded.
func metricsPath(path string) string {
	if strings.HasPrefix(path, "/api/graph/nodes/") {
		return "/api/graph/nodes/{id}"
	}
	switch path {
	case "/api/graph", "/api/selection", "/healthz", "/metrics":
		return path
	}
	return "other"
}
