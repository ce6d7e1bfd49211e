package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neboloop/wabot/internal/httputil"
	"github.com/neboloop/wabot/internal/logging"
)

// TokenCookie is the cookie observers may carry their token in.
const TokenCookie = "wabot_token"

// ContextKey is a type for context keys
type ContextKey string

// SubjectKey is the context key for the token subject.
const SubjectKey ContextKey = "sub"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenFromRequest returns the bearer token from the Authorization header,
// the wabot_token cookie or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// ValidateToken checks an HS256 token signed with secret and returns its subject.
func ValidateToken(tokenString, secret string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate returns the subject of the request token. With an empty
// secret authentication is disabled and every request passes.
func Authenticate(r *http.Request, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	return ValidateToken(TokenFromRequest(r), secret)
}

// JWTMiddleware rejects requests without a valid token when secret is set.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := Authenticate(r, secret)
			if err != nil {
				logging.Debugf("[auth] Rejected %s %s: %v", r.Method, r.URL.Path, err)
				httputil.Unauthorized(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), SubjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignToken issues an HS256 token for subject. Used by `wabot token`.
func SignToken(subject, secret string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// IsLocalhostOrigin reports whether origin points at this machine.
func IsLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// OriginAllowed accepts same-origin requests, localhost and the listed origins.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || IsLocalhostOrigin(origin) {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}
