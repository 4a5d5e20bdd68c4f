package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/domain"
)

// TokenValidator — интерфейс проверки токенов оператора
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyScopes ctxKey = "user_scopes"
)

// OperatorID достает идентификатор оператора, положенный мидлварью
func OperatorID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

// OperatorScopes достает права оператора из контекста запроса
func OperatorScopes(ctx context.Context) map[string]bool {
	scopes, _ := ctx.Value(ctxKeyScopes).(map[string]bool)
	return scopes
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Схему заголовка разбираем здесь; валидатору отдаем голый токен
			tokenStr := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if tokenStr == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(tokenStr)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyUserID, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
