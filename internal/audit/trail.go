package audit

/*
Файл trail.go реализует Trail — движок персистентности журнала аудита.

Ключевые особенности архитектуры:
- Non-blocking Logging: события переходов уходят в неблокирующий канал;
  задержки записи в БД не влияют на латентность движка подтверждений.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) в PostgreSQL по таймеру или при достижении лимита (100 событий).
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью; sync.WaitGroup и закрытие канала гарантируют Final Flush.
- Reliability: воркер изолирован, завершающие операции идут на Background
  контексте, чтобы пережить закрытие основного.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/notify"
)

// StorageInterface определяет, куда физически сохраняются записи аудита
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Trail struct {
	ch     chan AuditEvent
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// Вход запирается под замком: Log шлет в канал под RLock, Stop закрывает
	// канал только после захвата Lock — send в закрытый канал исключен
	closeMu sync.RWMutex
	closed  bool
}

func NewTrail(repo StorageInterface, logger *zap.Logger) *Trail {
	return &Trail{
		ch:     make(chan AuditEvent, 10000), // Очередь на 10к событий
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit-trail")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
// Lock дожидается выхода всех in-flight Log, поэтому к моменту close(ch)
// отправителей не осталось.
func (t *Trail) Stop() {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении пишем в обычный лог, чтобы не терять след
	select {
	case t.ch <- event:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("name", event.Name),
			zap.String("request_id", event.RequestID))
	}
}

// Observer адаптирует Trail под подписку на нотификатор: каждый переход
// конечного автомата становится записью журнала
func (t *Trail) Observer() notify.Observer {
	return notify.ObserverFunc(func(e notify.Event) {
		t.Log(AuditEvent{
			ID:        e.ID,
			Name:      e.Name,
			RequestID: e.RequestID,
			Payload:   e.Payload,
			Timestamp: e.Timestamp,
		})
	})
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]AuditEvent, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остаток, финальный flush и выходим
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
