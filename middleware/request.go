package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// ResponseTimeHeader reports the handler duration in seconds
const ResponseTimeHeader = "X-Response-Time"

var skipLogPrefixes = []string{"/health", "/static/", "/favicon.ico"}

var sensitiveParams = []string{
	"password", "token", "secret", "key", "auth",
	"credit_card", "ssn", "social_security",
}

// RequestID assigns every request an ID, taken from X-Request-ID when the client
// sends one, and reports it back together with X-Response-Time.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		tw := &timingWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(tw, r.WithContext(WithRequestID(r.Context(), requestID)))
		tw.stamp()
	})
}

// timingWriter sets X-Response-Time right before the header is flushed
type timingWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set(ResponseTimeHeader, fmt.Sprintf("%.3fs", time.Since(w.start).Seconds()))
}

func (w *timingWriter) WriteHeader(status int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(status)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// HTTPObserver receives one sample per served request
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// RequestLogger logs "request started" and "request completed" for every request
// outside the health, static and favicon paths. Sensitive query parameters are
// redacted. When observer is set every request is also measured, health included.
func RequestLogger(logger *zap.Logger, observer HTTPObserver) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := GetRequestIDFromContext(r.Context())
			skip := shouldSkipLogging(r.URL.Path)

			if !skip {
				logger.Info("request started",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("query", RedactQuery(r.URL.Query())),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()))
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			if observer != nil {
				observer.ObserveHTTP(r.Method, routePattern(r), status, duration)
			}
			if skip {
				return
			}

			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			logger.Log(level, "request completed",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", duration))
		})
	}
}

func shouldSkipLogging(path string) bool {
	for _, prefix := range skipLogPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RedactQuery encodes the query with sensitive parameter values replaced
func RedactQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	redacted := make(url.Values, len(values))
	for k, v := range values {
		if isSensitiveParam(k) {
			redacted[k] = []string{"[FILTERED]"}
			continue
		}
		redacted[k] = v
	}
	return redacted.Encode()
}

func isSensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveParams {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// routePattern returns the matched chi pattern so metrics labels stay bounded
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
