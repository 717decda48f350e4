package middleware

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/upb/biped-api/utils"
)

// Recoverer turns a panic into a 500, logs it with the stack and reports it to
// Sentry when a client is configured.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				ctx := r.Context()
				requestID := GetRequestIDFromContext(ctx)
				logger.Error("panic recovered",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"))

				hub := sentry.GetHubFromContext(ctx)
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("request_id", requestID)
				hub.RecoverWithContext(ctx, rec)

				_ = utils.WriteInternalServerError(w, "An internal error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
