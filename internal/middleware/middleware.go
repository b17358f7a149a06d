// Package middleware holds the HTTP middleware shared by the portal and
// the API: client address tagging, request metrics, rate limiting and
// access logging.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/auth"
	"github.com/cricketstatspack/portal/internal/metrics"
)

// ClientIP returns the request's remote host. Routers run chi's RealIP
// first, so forwarded addresses are already applied to RemoteAddr.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ClientContext stores the client address in the request context so the
// security flows can put it in audit details.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithClientIP(r.Context(), ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Metrics counts requests by route pattern, method and status.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", ClientIP(r)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return
			}
			log.Debug("request", fields...)
		})
	}
}
