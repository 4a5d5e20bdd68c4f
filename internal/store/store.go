package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
)

// cacheEntry — снапшот заявки с отметкой времени загрузки.
// Владеет им исключительно Store; наружу уходят только клоны.
type cacheEntry struct {
	req       *domain.Request
	fetchedAt time.Time
}

// overlayState — часть состояния, которой внешний ledger не знает.
// APPROVED и EXPIRED — производные статусы движка: ledger продолжает считать
// такую заявку PENDING, пока не случится execute/reject. Оверлей накладывается
// на прочитанное состояние и применяется только пока ledger сообщает PENDING —
// если ledger уже перевел заявку в терминал, его слово последнее.
type overlayState struct {
	status     domain.RequestStatus
	approvedAt *time.Time
}

// Store (RequestStore) — канонический взгляд процесса на заявки: short-lived
// read-кэш поверх внешнего ledger плюс оверлей движковых статусов.
// Любой локальный мутатор обязан позвать Invalidate, чтобы последующие чтения
// внутри процесса никогда не были stale.
type Store struct {
	mu      sync.RWMutex
	cache   map[string]cacheEntry
	overlay map[string]overlayState

	// Поколение записи, инкрементируется каждым Invalidate. Загрузка из ledger
	// идет без замка, поэтому снапшот, снятый до конкурентной инвалидации,
	// нельзя пускать в кэш — он бы перекрыл более свежую запись.
	gen map[string]uint64

	ttl    time.Duration
	ldg    ledger.Ledger
	clk    clock.Clock
	logger *zap.Logger
}

func New(ldg ledger.Ledger, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		cache:   make(map[string]cacheEntry),
		overlay: make(map[string]overlayState),
		gen:     make(map[string]uint64),
		ttl:     ttl,
		ldg:     ldg,
		clk:     clk,
		logger:  logger.Named("store"),
	}
}

// Get возвращает снапшот заявки: из кэша, если он свежий (TTL), иначе —
// авторитетное состояние из ledger. domain.ErrNotFound — если ledger
// заявку не знает.
func (s *Store) Get(ctx context.Context, id string) (*domain.Request, error) {
	now := s.clk.Now()

	s.mu.RLock()
	if e, ok := s.cache[id]; ok && s.ttl > 0 && now.Sub(e.fetchedAt) < s.ttl {
		req := s.applyOverlayLocked(e.req.Clone())
		s.mu.RUnlock()
		return req, nil
	}
	gen := s.gen[id]
	s.mu.RUnlock()

	// Кэш-промах: идем во внешний ledger, замок на время I/O не держим
	req, err := s.ldg.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Кэшируем только если за время загрузки не случился Invalidate:
	// иначе снапшот снят до чужой мутации и уже протух
	if s.gen[id] == gen {
		s.cache[id] = cacheEntry{req: req.Clone(), fetchedAt: now}
	}
	merged := s.applyOverlayLocked(req)
	s.mu.Unlock()
	return merged, nil
}

// Prime кладет только что созданную заявку в кэш, чтобы немедленное чтение
// не ходило в ledger
func (s *Store) Prime(req *domain.Request) {
	s.mu.Lock()
	s.cache[req.ID] = cacheEntry{req: req.Clone(), fetchedAt: s.clk.Now()}
	s.mu.Unlock()
}

// Invalidate сбрасывает кэш-запись. Вызывается каждым локальным мутатором
// сразу после записи.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.gen[id]++
	s.mu.Unlock()
}

// MarkApproved фиксирует движковый переход PENDING -> APPROVED со штампом времени
func (s *Store) MarkApproved(id string, at time.Time) {
	s.mu.Lock()
	s.overlay[id] = overlayState{status: domain.StatusApproved, approvedAt: &at}
	s.mu.Unlock()
}

// MarkExpired фиксирует переход в EXPIRED; approvedAt сохраняем для аудита
func (s *Store) MarkExpired(id string) {
	s.mu.Lock()
	ov := s.overlay[id]
	ov.status = domain.StatusExpired
	s.overlay[id] = ov
	s.mu.Unlock()
}

// ListActive возвращает id заявок в статусах {PENDING, APPROVED}.
// Чтение никогда не идет из кэша: недосчет активных заявок позволил бы
// пробить лимит maxActiveRequests.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.ldg.ActiveRequestIDs(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]string, 0, len(ids))
	for _, id := range ids {
		// Ledger считает EXPIRED-заявки все еще PENDING — вычитаем их по оверлею
		if ov, ok := s.overlay[id]; ok && ov.status == domain.StatusExpired {
			continue
		}
		active = append(active, id)
	}
	return active, nil
}

func (s *Store) applyOverlayLocked(req *domain.Request) *domain.Request {
	if req.Status != domain.StatusPending {
		return req
	}
	ov, ok := s.overlay[req.ID]
	if !ok {
		return req
	}

	req.Status = ov.status
	if ov.approvedAt != nil {
		at := *ov.approvedAt
		req.ApprovedAt = &at
	}
	return req
}
