package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/domain"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims *domain.OperatorClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func operatorClaims(userID string, ttl time.Duration) *domain.OperatorClaims {
	return &domain.OperatorClaims{
		UserID: userID,
		Scopes: map[string]bool{"admin": true},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestVerifyToken_RoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewBaseValidator(&key.PublicKey)
	token := signToken(t, key, operatorClaims("op-1", time.Hour))

	claims, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.True(t, claims.Scopes["admin"])
}

func TestVerifyToken_WrongKeyRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewBaseValidator(&key.PublicKey)
	token := signToken(t, otherKey, operatorClaims("op-1", time.Hour))

	_, err = v.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_ExpiredRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewBaseValidator(&key.PublicKey)
	token := signToken(t, key, operatorClaims("op-1", -time.Hour))

	_, err = v.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware_AuthFlow(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	var seenOperator string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOperator = OperatorID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := NewMiddleware(v, zap.NewNop())(next)

	// Без заголовка — 401
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// С мусорным токеном — 401
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// С валидным токеном — 200, оператор доступен в контексте
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, operatorClaims("op-7", time.Hour)))
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-7", seenOperator)
}
