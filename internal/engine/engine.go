package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
	"github.com/xela07ax/quorumgate/internal/notify"
	"github.com/xela07ax/quorumgate/internal/policy"
	"github.com/xela07ax/quorumgate/internal/store"
)

// EventSink — то, что движку нужно от нотификатора. Публикация best-effort:
// переход уже зафиксирован, доставка события его не откатит.
type EventSink interface {
	Publish(event notify.Event)
}

// Engine (ApprovalEngine) — конечный автомат заявок:
// PENDING -> APPROVED -> EXECUTED, с альтернативными терминалами
// REJECTED (до кворума) и EXPIRED (из PENDING и APPROVED).
//
// Все зависимости инжектируются через конструктор; время жизни принадлежит
// composition root. Никаких процесс-глобальных синглтонов: пер-заявочная
// сериализация мутаций сделана явной через keyedLocks.
type Engine struct {
	pol      *policy.Policy
	store    *store.Store
	ldg      ledger.Ledger
	notifier EventSink
	clk      clock.Clock
	locks    *keyedLocks
	metrics  *Metrics
	logger   *zap.Logger

	// Create сериализуется отдельно: проверка лимита и регистрация в ledger
	// должны быть атомарны, иначе два конкурентных create пробьют вместимость
	createMu sync.Mutex
}

func New(pol *policy.Policy, st *store.Store, ldg ledger.Ledger, notifier EventSink, clk clock.Clock, metrics *Metrics, logger *zap.Logger) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		pol:      pol,
		store:    st,
		ldg:      ldg,
		notifier: notifier,
		clk:      clk,
		locks:    newKeyedLocks(),
		metrics:  metrics,
		logger:   logger.Named("engine"),
	}
}

// locksFor отдает набор замков коллектору подписей — у обоих компонентов
// должна быть одна и та же очередь на каждый requestId
func (e *Engine) locksFor() *keyedLocks {
	return e.locks
}

// Create валидирует порог против политики, проверяет вместимость по
// авторитетному состоянию и регистрирует заявку в ledger.
func (e *Engine) Create(ctx context.Context, operationType, targetAddress string, payload []byte, value string, requiredSignatures int) (*domain.Request, error) {
	if !e.pol.ThresholdInRange(requiredSignatures) {
		return nil, fmt.Errorf("%w: got %d, policy allows [%d..%d]",
			domain.ErrThresholdOutOfRange, requiredSignatures,
			e.pol.MinRequiredSignatures, e.pol.MaxRequiredSignatures)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) >= e.pol.MaxActiveRequests {
		return nil, fmt.Errorf("%w: %d of %d slots in use",
			domain.ErrCapacityReached, len(active), e.pol.MaxActiveRequests)
	}

	now := e.clk.Now()
	req := &domain.Request{
		OperationType:      operationType,
		TargetAddress:      targetAddress,
		Payload:            append([]byte(nil), payload...),
		Value:              value,
		Status:             domain.StatusPending,
		RequiredSignatures: requiredSignatures,
		Signatures:         make(map[string]domain.SignatureRecord),
		CreatedAt:          now,
		ExpiresAt:          now.Add(e.pol.VotingPeriod),
	}

	start := time.Now()
	id, err := e.ldg.CreateRequest(ctx, req)
	e.metrics.LedgerCallDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	req.ID = id
	e.store.Prime(req)
	e.metrics.TransitionsTotal.WithLabelValues(notify.EventRequestCreated).Inc()
	// Датчик ведем относительными шагами; абсолютное значение сверяет sweep
	e.metrics.ActiveRequests.Inc()

	e.emit(notify.EventRequestCreated, id, map[string]interface{}{
		"operation_type":      operationType,
		"target_address":      targetAddress,
		"required_signatures": requiredSignatures,
		"expires_at":          req.ExpiresAt,
	})

	e.logger.Info("request created",
		zap.String("request_id", id),
		zap.String("operation_type", operationType),
		zap.Int("required_signatures", requiredSignatures))

	return req.Clone(), nil
}

// OnSignatureAdded перечитывает заявку после зафиксированной подписи и,
// если кворум набран, переводит PENDING -> APPROVED со штампом approvedAt.
// Вызывается коллектором под замком этой заявки. No-op, если кворума нет.
func (e *Engine) OnSignatureAdded(ctx context.Context, id string) {
	req, err := e.store.Get(ctx, id)
	if err != nil {
		// Подпись уже в ledger; пропущенный флип подберет sweep по тому же предикату
		e.logger.Warn("quorum re-evaluation read failed",
			zap.String("request_id", id), zap.Error(err))
		return
	}

	if quorumReached(req) {
		e.approveLocked(req)
	}
}

// quorumReached — единственный предикат кворума: и подача подписи, и sweep
// обязаны соглашаться друг с другом
func quorumReached(req *domain.Request) bool {
	return req.Status == domain.StatusPending && req.CurrentSignatures() >= req.RequiredSignatures
}

// approveLocked фиксирует переход PENDING -> APPROVED. Вызывается строго
// под замком заявки.
func (e *Engine) approveLocked(req *domain.Request) {
	now := e.clk.Now()
	e.store.MarkApproved(req.ID, now)
	e.metrics.TransitionsTotal.WithLabelValues(notify.EventRequestApproved).Inc()
	e.emit(notify.EventRequestApproved, req.ID, map[string]interface{}{
		"current_signatures":  req.CurrentSignatures(),
		"required_signatures": req.RequiredSignatures,
		"approved_at":         now,
	})

	e.logger.Info("quorum reached, request approved",
		zap.String("request_id", req.ID),
		zap.Int("signatures", req.CurrentSignatures()))
}

// Execute пересылает одобренную операцию во внешний ledger.
// Порядок: валидация под замком -> внешний вызов -> фиксация результата под
// тем же замком. При сбое ledger заявка остается APPROVED (retryable),
// ошибка наружу не глотается.
func (e *Engine) Execute(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	req, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	now := e.clk.Now()
	// Истечение оцениваем только для активных заявок: у давно закрытой заявки
	// дедлайн голосования тоже в прошлом, но это не делает ее EXPIRED
	if !req.IsTerminal() && req.ExpiredBy(now) {
		e.expireLocked(req)
		return fmt.Errorf("%w: request %s", domain.ErrExpired, id)
	}
	if req.Status != domain.StatusApproved || req.ApprovedAt == nil {
		return fmt.Errorf("%w: request %s is %s", domain.ErrNotApproved, id, req.Status)
	}
	// Окно охлаждения считается от момента одобрения, а не создания:
	// медленный сбор кворума не должен сжимать обязательную паузу
	if eligible := req.ApprovedAt.Add(e.pol.ExecutionDelay); now.Before(eligible) {
		return fmt.Errorf("%w: eligible at %s", domain.ErrDelayNotElapsed, eligible.Format(time.RFC3339))
	}

	start := time.Now()
	err = e.ldg.ExecuteRequest(ctx, id)
	e.metrics.LedgerCallDuration.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	if err != nil {
		e.logger.Error("ledger execute failed, request stays approved",
			zap.String("request_id", id), zap.Error(err))
		return err
	}

	e.store.Invalidate(id)
	e.metrics.TransitionsTotal.WithLabelValues(notify.EventRequestExecuted).Inc()
	e.metrics.ActiveRequests.Dec()
	e.emit(notify.EventRequestExecuted, id, map[string]interface{}{
		"operation_type": req.OperationType,
		"target_address": req.TargetAddress,
	})

	e.logger.Info("request executed", zap.String("request_id", id))
	return nil
}

// Reject отклоняет заявку. Возможен только до кворума: после APPROVED
// остаются лишь исполнение или естественное истечение.
// reviewer — идентификатор оператора, для подотчетности в аудите.
func (e *Engine) Reject(ctx context.Context, id, reviewer string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	req, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	now := e.clk.Now()
	if !req.IsTerminal() && req.ExpiredBy(now) {
		e.expireLocked(req)
		return fmt.Errorf("%w: request %s", domain.ErrExpired, id)
	}
	if req.Status != domain.StatusPending {
		return fmt.Errorf("%w: request %s is %s", domain.ErrNotPending, id, req.Status)
	}

	start := time.Now()
	err = e.ldg.RejectRequest(ctx, id)
	e.metrics.LedgerCallDuration.WithLabelValues("reject").Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	e.store.Invalidate(id)
	e.metrics.TransitionsTotal.WithLabelValues(notify.EventRequestRejected).Inc()
	e.metrics.ActiveRequests.Dec()
	e.emit(notify.EventRequestRejected, id, map[string]interface{}{
		"reviewer": reviewer,
	})

	e.logger.Info("request rejected",
		zap.String("request_id", id),
		zap.String("reviewer", reviewer))
	return nil
}

// SweepExpired переводит все просроченные активные заявки в EXPIRED и
// довыполняет оценку кворума для PENDING-заявок. Второе закрывает дыру
// восстановления: если чтение после зафиксированной подписи сорвалось,
// кворум уже набран в ledger, но флип в APPROVED не случился — повторная
// подача того же подписанта упрется в проверку дубликата и ничего не
// переоценит. Sweep — гарантированный повторный вход в тот же предикат.
// Истечение — штатный переход, а не ошибка: метод возвращает лишь число
// переходов и сбои чтения.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	ids, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		unlock := e.locks.lock(id)

		req, err := e.store.Get(ctx, id)
		if err != nil {
			unlock()
			e.logger.Warn("sweep read failed", zap.String("request_id", id), zap.Error(err))
			continue
		}

		switch {
		case !req.IsTerminal() && req.ExpiredBy(e.clk.Now()):
			e.expireLocked(req)
			expired++
		case quorumReached(req):
			e.approveLocked(req)
		}
		unlock()
	}

	// Периодическая сверка датчика с авторитетным списком: относительные
	// Inc/Dec на мутациях между sweep-ами могли разойтись
	e.metrics.ActiveRequests.Set(float64(len(ids) - expired))
	return expired, nil
}

// StartSweeper запускает периодический sweep до отмены контекста
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("expiry sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("expiry sweeper stopping by context...")
			return
		case <-ticker.C:
			if n, err := e.SweepExpired(ctx); err != nil {
				e.logger.Warn("sweep failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("expired requests swept", zap.Int("count", n))
			}
		}
	}
}

// GetRequest — синхронная query-поверхность для UI и аудита
func (e *Engine) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	return e.store.Get(ctx, id)
}

// GetSignatures всегда читает авторитетное состояние подписей
func (e *Engine) GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error) {
	return e.ldg.GetSignatures(ctx, id)
}

// ListActive возвращает id заявок в статусах {PENDING, APPROVED}
func (e *Engine) ListActive(ctx context.Context) ([]string, error) {
	return e.store.ListActive(ctx)
}

// expireLocked фиксирует переход в EXPIRED. Вызывается строго под замком заявки.
// Lazy-путь и фоновый sweep используют один предикат ExpiredBy, поэтому
// наблюдаемое состояние между ними не расходится.
func (e *Engine) expireLocked(req *domain.Request) {
	if err := req.CanTransitionTo(domain.StatusExpired); err != nil {
		return
	}

	e.store.MarkExpired(req.ID)
	e.metrics.TransitionsTotal.WithLabelValues(notify.EventRequestExpired).Inc()
	e.metrics.ActiveRequests.Dec()
	e.emit(notify.EventRequestExpired, req.ID, map[string]interface{}{
		"expired_from": string(req.Status),
		"expires_at":   req.ExpiresAt,
	})

	e.logger.Info("request expired",
		zap.String("request_id", req.ID),
		zap.String("from_status", string(req.Status)))
}

func (e *Engine) emit(name, requestID string, payload map[string]interface{}) {
	e.notifier.Publish(notify.Event{
		ID:        uuid.New().String(),
		Name:      name,
		RequestID: requestID,
		Timestamp: e.clk.Now(),
		Payload:   payload,
	})
}
