package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/config"
	"github.com/parley-ai/parley/pkg/gateway/ratelimit"
)

// RateLimit applies the per-principal token bucket and concurrency cap.
// Health endpoints are exempt.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		principal := ""
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			principal = ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
		}

		decision := limiter.AcquireRequest(principal, time.Now())
		if !decision.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			}
			apierror.Write(w, http.StatusTooManyRequests, &apierror.Error{
				Type:      apierror.TypeRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			})
			return
		}
		defer decision.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
