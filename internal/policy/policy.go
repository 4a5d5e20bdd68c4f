package policy

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig — фатальная ошибка конструирования политики.
// Сервис с невалидными порогами стартовать не должен.
var ErrInvalidConfig = errors.New("invalid approval policy configuration")

// Policy — статическая конфигурация движка подтверждений: пороги подписей,
// вместимость и временные окна. Валидируется один раз при конструировании
// и после этого не мутирует. Реконфигурация = создание нового экземпляра,
// чтобы не гонять in-flight проверки кворума по меняющимся порогам.
type Policy struct {
	MinRequiredSignatures int
	MaxRequiredSignatures int
	VotingPeriod          time.Duration
	ExecutionDelay        time.Duration
	MaxActiveRequests     int

	// TTL read-кэша RequestStore. Ноль допустим: кэш фактически выключен.
	CacheTTL time.Duration
}

// New проверяет границы и возвращает готовую политику.
func New(minSigs, maxSigs int, votingPeriod, executionDelay time.Duration, maxActive int, cacheTTL time.Duration) (*Policy, error) {
	p := &Policy{
		MinRequiredSignatures: minSigs,
		MaxRequiredSignatures: maxSigs,
		VotingPeriod:          votingPeriod,
		ExecutionDelay:        executionDelay,
		MaxActiveRequests:     maxActive,
		CacheTTL:              cacheTTL,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) validate() error {
	if p.MinRequiredSignatures < 1 {
		return fmt.Errorf("%w: min_required_signatures must be >= 1, got %d", ErrInvalidConfig, p.MinRequiredSignatures)
	}
	if p.MaxRequiredSignatures < p.MinRequiredSignatures {
		return fmt.Errorf("%w: max_required_signatures %d is below min %d", ErrInvalidConfig, p.MaxRequiredSignatures, p.MinRequiredSignatures)
	}
	if p.VotingPeriod <= 0 {
		return fmt.Errorf("%w: voting_period must be positive, got %v", ErrInvalidConfig, p.VotingPeriod)
	}
	if p.ExecutionDelay < 0 {
		return fmt.Errorf("%w: execution_delay must not be negative, got %v", ErrInvalidConfig, p.ExecutionDelay)
	}
	if p.MaxActiveRequests < 1 {
		return fmt.Errorf("%w: max_active_requests must be >= 1, got %d", ErrInvalidConfig, p.MaxActiveRequests)
	}
	if p.CacheTTL < 0 {
		return fmt.Errorf("%w: cache_ttl must not be negative, got %v", ErrInvalidConfig, p.CacheTTL)
	}
	return nil
}

// ThresholdInRange проверяет порог подписей конкретной заявки против границ политики.
func (p *Policy) ThresholdInRange(required int) bool {
	return required >= p.MinRequiredSignatures && required <= p.MaxRequiredSignatures
}
