package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/httputil"
	"github.com/utafrali/authgate/pkg/logger"
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "authgate_rate_limited_total",
	Help: "Requests rejected by the credential endpoint rate limiter",
})

// Middleware rejects requests from clients over their budget with 429,
// a Retry-After header and {"error": message}. Clients are keyed by
// proxies.ClientIP. Limiter failures admit the request.
func Middleware(l Limiter, message string, proxies TrustedProxies, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := proxies.ClientIP(r)

			d, err := l.Allow(ctx, ip)
			if err != nil {
				logger.WithContext(ctx, log).WarnContext(ctx, "rate limiter unavailable, admitting request",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				rateLimitedTotal.Inc()
				logger.WithContext(ctx, log).WarnContext(ctx, "rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httputil.WriteError(w, r, apperrors.Throttled(message), message, log)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
