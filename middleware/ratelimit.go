package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/ratelimit"
	"github.com/upb/biped-api/utils"
)

// Limiter is satisfied by *ratelimit.RateLimitService
type Limiter interface {
	Check(ctx context.Context, scope string, limits []ratelimit.Limit) ratelimit.Result
}

// RateLimit enforces limits per caller. The caller is the X-API-Key fingerprint,
// then the verified JWT subject, then the client IP. Placed ahead of identity
// resolution it only sees the API key and the IP, so rejected tokens are still counted.
func RateLimit(limiter Limiter, limits []ratelimit.Limit, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("ratelimit")
	return func(next http.Handler) http.Handler {
		if limiter == nil || len(limits) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := RateLimitKey(r)
			result := limiter.Check(r.Context(), scope, limits)

			if result.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				requestID := GetRequestIDFromContext(r.Context())
				logger.Warn("request rate limited",
					zap.String("request_id", requestID),
					zap.String("scope", scope),
					zap.String("reason", result.ViolationReason))

				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				_ = utils.WriteTooManyRequests(w, services.ErrRateLimitExceeded.Message+": "+result.ViolationReason, retryAfter, requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKey returns the limiter scope of the request
func RateLimitKey(r *http.Request) string {
	id := GetIdentityFromContext(r.Context())
	if id.APIKeyFingerprint == "" {
		id.APIKeyFingerprint = apiKeyFingerprint(r)
	}
	switch {
	case id.APIKeyFingerprint != "":
		return "api:" + id.APIKeyFingerprint
	case id.Subject != "":
		return "user:" + id.Subject
	default:
		return "ip:" + clientIP(r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
