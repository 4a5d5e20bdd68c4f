package ledger

import (
	"context"

	"github.com/xela07ax/quorumgate/internal/domain"
)

// Ledger — потребляемая способность внешнего ledger-слоя (исполнение операций,
// авторитетное хранение заявок и подписей). Транспорт и формат для движка
// непрозрачны: реализация живет в пакете connectors.
//
// Все методы — точки приостановки: латентность и сбои внешней системы
// считаются непрозрачными, таймауты задает вызывающий через ctx.
type Ledger interface {
	// CreateRequest регистрирует заявку и возвращает присвоенный requestId
	CreateRequest(ctx context.Context, req *domain.Request) (string, error)

	// GetRequest возвращает авторитетное состояние заявки
	GetRequest(ctx context.Context, id string) (*domain.Request, error)

	// AddSignature фиксирует подпись со-подписанта; вызывающий дожидается подтверждения
	AddSignature(ctx context.Context, id, signer string, blob []byte) error

	// ExecuteRequest исполняет одобренную операцию
	ExecuteRequest(ctx context.Context, id string) error

	// RejectRequest отклоняет заявку
	RejectRequest(ctx context.Context, id string) error

	// ActiveRequestIDs возвращает id заявок, активных с точки зрения ledger
	ActiveRequestIDs(ctx context.Context) ([]string, error)

	// GetSignatures возвращает подписи по заявке
	GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error)
}
