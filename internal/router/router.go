// Package router serves the operator HTTP API.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/lounge"
	modlogentity "github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/opsauth"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "lounge_ops_request_duration_seconds",
	Help:    "Latency of operator API requests",
	Buckets: prometheus.DefBuckets,
}, []string{"path", "status"})

// statusWriter records the status and body size written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.size += n
	return n, err
}

// LoggingMiddleware logs each request at debug level and records its latency.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			dur := time.Since(start)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			requestDuration.WithLabelValues(r.URL.Path, strconv.Itoa(sw.status)).Observe(dur.Seconds())
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", sw.status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", sw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets headers for a JSON-only API that is never
// framed or rendered by a browser.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatsSource reports live moderation counters.
type StatsSource interface {
	Stats(ctx context.Context) (lounge.Stats, error)
}

// Authenticator wraps handlers that need an operator token.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// ModerationHistory reads back the moderation log for one user.
type ModerationHistory interface {
	History(ctx context.Context, targetID int64, limit int) ([]*modlogentity.Entry, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RegisterRoutes mounts the operator API: an open health check and metrics
// endpoint, and token-protected stats and moderation history. history may be
// nil when no moderation log is kept.
func RegisterRoutes(logger *zap.SugaredLogger, stats StatsSource, history ModerationHistory, auth Authenticator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /stats", auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := stats.Stats(r.Context())
		if err != nil {
			logger.Warnw("stats failed", "operator", operator(r), "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, st)
	})))

	if history != nil {
		mux.Handle("GET /moderation/{id}", auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
			if err != nil {
				http.Error(w, "invalid id", http.StatusBadRequest)
				return
			}
			limit := defaultHistoryLimit
			if v := r.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = min(n, maxHistoryLimit)
			}
			entries, err := history.History(r.Context(), id, limit)
			if err != nil {
				logger.Warnw("moderation history failed", "operator", operator(r), "target", id, "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			logger.Infow("moderation history read", "operator", operator(r), "target", id, "count", len(entries))
			if entries == nil {
				entries = []*modlogentity.Entry{}
			}
			writeJSON(w, entries)
		})))
	}

	// wrap with security headers middleware then logging middleware
	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}

func operator(r *http.Request) string {
	sub, _ := opsauth.Subject(r.Context())
	return sub
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
