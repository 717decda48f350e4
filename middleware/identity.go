package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/providers"
	"github.com/upb/biped-api/utils"
)

// APIKeyHeader identifies API clients for rate limiting
const APIKeyHeader = "X-API-Key"

// IdentityMiddleware resolves who is calling. Anonymous requests pass through;
// a bearer token that does not verify is rejected.
type IdentityMiddleware struct {
	secret []byte
	logger *zap.Logger
}

// NewIdentityMiddleware creates the middleware. With an empty secret bearer
// tokens are not inspected.
func NewIdentityMiddleware(secret string, logger *zap.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		secret: []byte(secret),
		logger: logger.Named("identity"),
	}
}

// Handler is the middleware function
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{APIKeyFingerprint: apiKeyFingerprint(r)}

		if token := bearerToken(r); token != "" && len(m.secret) > 0 {
			sub, err := m.subject(token)
			if err != nil {
				m.logger.Warn("token validation failed",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.Error(err))
				_ = utils.WriteUnauthorized(w, services.ErrInvalidToken.Message)
				return
			}
			id.Subject = sub
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// subject verifies an HS256 token and returns its "sub" claim
func (m *IdentityMiddleware) subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func apiKeyFingerprint(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if key == "" {
		return ""
	}
	return providers.Fingerprint(key)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireSubject rejects callers without a verified token subject
func (m *IdentityMiddleware) RequireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentityFromContext(r.Context()).Subject == "" {
			_ = utils.WriteUnauthorized(w, services.ErrUnauthorized.Message)
			return
		}
		next.ServeHTTP(w, r)
	})
}
