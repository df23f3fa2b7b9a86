package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// corsMiddleware adds CORS headers to responses.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		// Cache preflight results for a day to reduce OPTIONS traffic
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		// r.Pattern keeps path wildcards out of the label set
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
	}
}

// rateLimitMiddleware enforces the per-client upload rate.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}

		if err := s.rateLimiter.CheckRateLimit(getClientIP(r)); err != nil {
			var e *RateLimitError
			if errors.As(err, &e) {
				rateLimitHits.WithLabelValues(e.Type).Inc()
			}
			s.handleRateLimitError(w, err)
			return
		}

		next(w, r)
	}
}

// handleRateLimitError handles rate limit errors.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var e *RateLimitError
	if !errors.As(err, &e) {
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(map[string]string{"error": "internal_error", "message": "Rate limiting check failed"}); err != nil {
			slog.Error("Failed to encode internal error response", "error", err)
		}
		return
	}

	w.Header().Set("X-RateLimit-Type", e.Type)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(e.Limit))
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", e.RetryAfter.Seconds()))
	w.WriteHeader(http.StatusTooManyRequests)
	response := map[string]interface{}{"error": "rate_limit_exceeded", "type": e.Type, "limit": e.Limit, "retry_after": e.RetryAfter.Seconds(), "message": e.Error()}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies/load balancers)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
