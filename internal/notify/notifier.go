package notify

/*
Файл notifier.go реализует EventNotifier — шину событий жизненного цикла заявок.

Ключевые особенности архитектуры:
- Non-blocking Publish: события уходят в буферизированный канал; задержки
  подписчиков не влияют на латентность переходов конечного автомата.
- Изоляция подписчиков: паника или ошибка наблюдателя ловится и логируется,
  но никогда не распространяется на движок.
- Drain Pattern & Graceful Shutdown: при остановке воркер вычитает остаток
  буфера и доставит все принятые события до выхода.
- Fan-out в два направления: локальные наблюдатели (UI, audit trail) и
  широковещательный Redis-канал для пассивных инстансов консоли.
*/

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Observer получает события; реализация обязана быть быстрой или
// перекладывать работу в собственную горутину
type Observer interface {
	Notify(event Event)
}

// ObserverFunc адаптирует функцию под Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

type Notifier struct {
	ch        chan Event
	rdb       *redis.Client // nil — широковещание выключено
	redisChan string
	logger    *zap.Logger
	wg        sync.WaitGroup

	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int

	// Опциональная метрика заполненности буфера
	bufferFill prometheus.Gauge

	// Вход запирается под замком: Publish шлет в канал под RLock, Stop
	// закрывает канал только после захвата Lock — send в закрытый канал
	// исключен, паники при гонке Publish/Stop нет
	closeMu sync.RWMutex
	closed  bool
}

func New(rdb *redis.Client, redisChan string, bufSize int, logger *zap.Logger) *Notifier {
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &Notifier{
		ch:        make(chan Event, bufSize),
		rdb:       rdb,
		redisChan: redisChan,
		logger:    logger.Named("notifier"),
		observers: make(map[int]Observer),
	}
}

// SetBufferGauge подключает метрику backpressure (опционально)
func (n *Notifier) SetBufferGauge(g prometheus.Gauge) {
	n.bufferFill = g
}

// Subscribe регистрирует наблюдателя и возвращает идентификатор подписки
func (n *Notifier) Subscribe(o Observer) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.observers[n.nextID] = o
	return n.nextID
}

// Unsubscribe снимает подписку; неизвестный id — no-op
func (n *Notifier) Unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.observers, id)
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.worker()
}

// Stop «запирает» вход и ждет, пока воркер доставит остаток буфера.
// Lock дожидается выхода всех in-flight Publish, поэтому к моменту
// close(ch) отправителей не осталось.
func (n *Notifier) Stop() {
	n.closeMu.Lock()
	n.closed = true
	n.closeMu.Unlock()

	n.logger.Info("stopping notifier: closing channel and draining buffer...")
	close(n.ch)
	n.wg.Wait()
	n.logger.Info("notifier stopped gracefully")
}

// Publish принимает событие. Никогда не блокирует и не возвращает ошибку:
// при переполнении буфера применяется Load Shedding с записью в лог.
func (n *Notifier) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	n.closeMu.RLock()
	defer n.closeMu.RUnlock()
	if n.closed {
		n.logger.Warn("event dropped: notifier is stopping",
			zap.String("name", event.Name),
			zap.String("request_id", event.RequestID))
		return
	}

	select {
	case n.ch <- event:
		if n.bufferFill != nil {
			n.bufferFill.Set(float64(len(n.ch)))
		}
	default:
		n.logger.Error("event_buffer_overflow",
			zap.String("name", event.Name),
			zap.String("request_id", event.RequestID))
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for event := range n.ch {
		n.deliver(event)
		if n.bufferFill != nil {
			n.bufferFill.Set(float64(len(n.ch)))
		}
	}
	n.logger.Info("notifier worker finished")
}

func (n *Notifier) deliver(event Event) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.observers))
	for _, o := range n.observers {
		observers = append(observers, o)
	}
	n.mu.RUnlock()

	for _, o := range observers {
		n.safeNotify(o, event)
	}

	// Широковещание для других инстансов. Сбой Redis — не повод ронять доставку
	if n.rdb != nil {
		raw, err := json.Marshal(event)
		if err == nil {
			err = n.rdb.Publish(context.Background(), n.redisChan, raw).Err()
		}
		if err != nil {
			n.logger.Warn("event broadcast failed",
				zap.String("name", event.Name),
				zap.Error(err))
		}
	}
}

// safeNotify изолирует панику наблюдателя от шины
func (n *Notifier) safeNotify(o Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("observer panicked",
				zap.String("name", event.Name),
				zap.Any("panic", r))
		}
	}()
	o.Notify(event)
}
