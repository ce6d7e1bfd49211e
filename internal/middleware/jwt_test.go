package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := SignToken(sub, secret, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	require.NoError(t, err)
	return tok
}

func TestValidateToken(t *testing.T) {
	good := sign(t, "ops", time.Now().Add(time.Hour))
	sub, err := ValidateToken(good, secret)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	_, err = ValidateToken(good, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateToken(sign(t, "ops", time.Now().Add(-time.Minute)), secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateToken("", secret)
	assert.ErrorIs(t, err, ErrMissingToken)

	// HS384 is refused even with the right key.
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = ValidateToken(other, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "c"})
	assert.Equal(t, "c", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}

func TestJWTMiddleware(t *testing.T) {
	var gotSub any
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = r.Context().Value(SubjectKey)
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		JWTMiddleware("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		JWTMiddleware(secret)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, "ops", time.Now().Add(time.Hour)))
		JWTMiddleware(secret)(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "ops", gotSub)
	})
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://ops.example.com/"}
	assert.True(t, OriginAllowed("", allowed))
	assert.True(t, OriginAllowed("http://localhost:5173", allowed))
	assert.True(t, OriginAllowed("http://127.0.0.1:3000", nil))
	assert.True(t, OriginAllowed("https://ops.example.com", allowed))
	assert.False(t, OriginAllowed("https://evil.example.com", allowed))
	assert.True(t, OriginAllowed("https://evil.example.com", []string{"*"}))
}
