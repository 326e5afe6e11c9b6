package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"quadra/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDHeader carries the caller's id when token auth is disabled (local runs).
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errRateLimited  = errors.New("rate limit exceeded")
)

// HTTPAuth resolves the caller's identity from an HS256 bearer token and
// applies per-client rate limiting. Public paths skip identity.
type HTTPAuth struct {
	cfg     config.APIAuthConfig
	limiter *rateLimiter
	public  map[string]bool
}

func NewHTTPAuth(cfg config.APIConfig, publicPaths ...string) *HTTPAuth {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &HTTPAuth{
		cfg:     cfg.Auth,
		limiter: newRateLimiter(cfg.RateLimit),
		public:  public,
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if !a.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func (a *HTTPAuth) identify(r *http.Request) (string, error) {
	if !a.cfg.Enabled {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("missing %s header", UserIDHeader)
	}

	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return ParseToken(a.cfg.JWTSecret, a.cfg.Issuer, strings.TrimSpace(token))
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret, issuer, token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !t.Valid {
		return "", errInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", errInvalidToken)
	}
	return claims.Subject, nil
}

// SignToken issues a token for userID. A non-positive ttl means no expiry.
func SignToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
