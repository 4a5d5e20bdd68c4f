package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
	"github.com/xela07ax/quorumgate/internal/store"
)

// Collector (SignatureCollector) — единственная точка мутации подписей.
// Подачи по одному requestId сериализуются тем же набором замков, что и
// мутации движка: проверка дубликата и фиксация подписи атомарны вместе.
type Collector struct {
	engine   *Engine
	store    *store.Store
	ldg      ledger.Ledger
	verifier Verifier
	clk      clock.Clock
	locks    *keyedLocks
	metrics  *Metrics
	logger   *zap.Logger
}

func NewCollector(eng *Engine, st *store.Store, ldg ledger.Ledger, verifier Verifier, clk clock.Clock, logger *zap.Logger) *Collector {
	return &Collector{
		engine:   eng,
		store:    st,
		ldg:      ldg,
		verifier: verifier,
		clk:      clk,
		locks:    eng.locksFor(),
		metrics:  eng.metrics,
		logger:   logger.Named("collector"),
	}
}

// Submit валидирует и фиксирует подпись со-подписанта.
//
// Конвейер: загрузка -> статус PENDING -> не истекла -> нет дубликата ->
// криптопроверка -> запись в ledger -> инвалидация кэша -> переоценка кворума.
// Ошибки валидации синхронны и не меняют состояние; сбой ledger оставляет
// заявку нетронутой (retryable).
func (c *Collector) Submit(ctx context.Context, id, principal string, signature []byte) error {
	unlock := c.locks.lock(id)
	defer unlock()

	req, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if req.Status != domain.StatusPending {
		c.metrics.SignatureSubmissions.WithLabelValues("not_pending").Inc()
		return fmt.Errorf("%w: request %s is %s", domain.ErrNotPending, id, req.Status)
	}
	if req.ExpiredBy(c.clk.Now()) {
		c.metrics.SignatureSubmissions.WithLabelValues("expired").Inc()
		c.engine.expireLocked(req)
		return fmt.Errorf("%w: request %s", domain.ErrExpired, id)
	}
	if _, dup := req.Signatures[principal]; dup {
		c.metrics.SignatureSubmissions.WithLabelValues("duplicate").Inc()
		return fmt.Errorf("%w: principal %s on request %s", domain.ErrDuplicateSignature, principal, id)
	}

	ok, err := c.verifier.Verify(ctx, principal, req.Payload, signature)
	if err != nil || !ok {
		c.metrics.SignatureSubmissions.WithLabelValues("invalid").Inc()
		if err != nil {
			c.logger.Warn("signature verification error",
				zap.String("request_id", id),
				zap.String("principal", principal),
				zap.Error(err))
		}
		return fmt.Errorf("%w: principal %s", domain.ErrInvalidSignature, principal)
	}

	start := time.Now()
	err = c.ldg.AddSignature(ctx, id, principal, signature)
	c.metrics.LedgerCallDuration.WithLabelValues("add_signature").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.SignatureSubmissions.WithLabelValues("ledger_error").Inc()
		return err
	}

	// Подпись зафиксирована: сбрасываем кэш, чтобы переоценка кворума и любые
	// последующие чтения видели авторитетное состояние
	c.store.Invalidate(id)
	c.metrics.SignatureSubmissions.WithLabelValues("accepted").Inc()

	c.logger.Info("signature recorded",
		zap.String("request_id", id),
		zap.String("principal", principal))

	c.engine.OnSignatureAdded(ctx, id)
	return nil
}
