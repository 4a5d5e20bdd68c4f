package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
)

// ReliabilitySettings — параметры предохранителя и лимитера (берутся из конфига)
type ReliabilitySettings struct {
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RateLimit     rate.Limit
	RateBurst     int
	ReadAttempts  uint
}

// ReliableLedger оборачивает ledger-коннектор в Rate Limiter + Circuit Breaker.
//
// Ретраи включены ТОЛЬКО для читающих вызовов. Мутации (create, add_signature,
// execute, reject) не повторяются автоматически: движок не имеет права дважды
// отправить исполнение операции, политика повтора принадлежит вызывающему.
type ReliableLedger struct {
	next    ledger.Ledger
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	reads   uint
}

func NewReliableLedger(next ledger.Ledger, s ReliabilitySettings) *ReliableLedger {
	if s.CBMaxRequests == 0 {
		s.CBMaxRequests = 3
	}
	if s.CBInterval <= 0 {
		s.CBInterval = 5 * time.Second
	}
	if s.CBTimeout <= 0 {
		s.CBTimeout = 30 * time.Second
	}
	if s.RateLimit <= 0 {
		s.RateLimit = 100
	}
	if s.RateBurst <= 0 {
		s.RateBurst = 20
	}
	if s.ReadAttempts == 0 {
		s.ReadAttempts = 3
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "quorumgate-ledger",
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// ErrNotFound — ответ ledger, а не сбой: предохранитель на нем не копим
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	})

	return &ReliableLedger{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(s.RateLimit, s.RateBurst),
		reads:   s.ReadAttempts,
	}
}

// guard — общий вход: лимитер + предохранитель, без ретраев
func (w *ReliableLedger) guard(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	return w.cb.Execute(fn)
}

// guardRead — читающий вход: лимитер + предохранитель + экспоненциальный бэкофф.
// domain.ErrNotFound ретраить бессмысленно — это ответ, а не сбой.
func (w *ReliableLedger) guardRead(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	return w.guard(ctx, func() (interface{}, error) {
		var result interface{}

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.reads),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, domain.ErrNotFound)
			}),
		)

		retryErr := r.Do(func() error {
			var callErr error
			result, callErr = fn()
			return callErr
		})

		return result, retryErr
	})
}

func (w *ReliableLedger) CreateRequest(ctx context.Context, req *domain.Request) (string, error) {
	res, err := w.guard(ctx, func() (interface{}, error) {
		return w.next.CreateRequest(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (w *ReliableLedger) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	res, err := w.guardRead(ctx, func() (interface{}, error) {
		return w.next.GetRequest(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.Request), nil
}

func (w *ReliableLedger) AddSignature(ctx context.Context, id, signer string, blob []byte) error {
	_, err := w.guard(ctx, func() (interface{}, error) {
		return nil, w.next.AddSignature(ctx, id, signer, blob)
	})
	return err
}

func (w *ReliableLedger) ExecuteRequest(ctx context.Context, id string) error {
	_, err := w.guard(ctx, func() (interface{}, error) {
		return nil, w.next.ExecuteRequest(ctx, id)
	})
	return err
}

func (w *ReliableLedger) RejectRequest(ctx context.Context, id string) error {
	_, err := w.guard(ctx, func() (interface{}, error) {
		return nil, w.next.RejectRequest(ctx, id)
	})
	return err
}

func (w *ReliableLedger) ActiveRequestIDs(ctx context.Context) ([]string, error) {
	res, err := w.guardRead(ctx, func() (interface{}, error) {
		return w.next.ActiveRequestIDs(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (w *ReliableLedger) GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error) {
	res, err := w.guardRead(ctx, func() (interface{}, error) {
		return w.next.GetSignatures(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]domain.SignatureRecord), nil
}
