package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/quorumgate/internal/domain"
)

// ErrInvalidToken накрывает любую проблему с токеном оператора: битая подпись,
// чужой ключ, истекший срок, неразборчивые claims. Детали причины уходят
// в лог, наружу — единый 401.
var ErrInvalidToken = errors.New("invalid operator token")

// BaseValidator проверяет RS256-токены консоли публичным ключом.
// На вход подается голый токен: префикс схемы Authorization-заголовка
// срезает мидлварь.
type BaseValidator struct {
	publicKey *rsa.PublicKey
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{publicKey: pubKey}
}

// VerifyToken проверяет подпись и срок действия, возвращая claims оператора
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.OperatorClaims, error) {
	claims := &domain.OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return v.publicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM-байты в ключ проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает PEM-байты в ключ подписи токенов консоли
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, errors.New("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
