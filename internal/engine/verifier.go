package engine

import "context"

// Verifier — потребляемая способность криптографической проверки подписи.
// Сам алгоритм вне зоны ответственности движка: verify(signature, payload,
// signer) -> bool, и этого достаточно.
type Verifier interface {
	Verify(ctx context.Context, signer string, payload, signature []byte) (bool, error)
}

// StaticVerifier — заглушка для демонстрации и локальных запусков.
// В проде сюда встает адаптер к реальному верификатору (HSM, sidecar и т.п.)
type StaticVerifier struct{}

func (StaticVerifier) Verify(ctx context.Context, signer string, payload, signature []byte) (bool, error) {
	return len(signature) > 0, nil
}
