package connectors

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/ledger"
)

// MockLedger — ledger в памяти для локальных запусков и тестов.
// Модель данных повторяет внешний ledger: он знает только PENDING / EXECUTED /
// REJECTED. Производные состояния (APPROVED, EXPIRED) живут в оверлее
// RequestStore и сюда не попадают.
type MockLedger struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
	failures map[string]error
	clk      clock.Clock

	// Опциональная имитация сетевой задержки
	Latency time.Duration
}

func NewMockLedger(clk clock.Clock) *MockLedger {
	if clk == nil {
		clk = clock.System{}
	}
	return &MockLedger{
		requests: make(map[string]*domain.Request),
		failures: make(map[string]error),
		clk:      clk,
	}
}

// SetFailure заставляет конкретную операцию ("execute", "add_signature", ...)
// возвращать ошибку. nil снимает инъекцию.
func (m *MockLedger) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MockLedger) simulate(ctx context.Context, op string) error {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	err := m.failures[op]
	m.mu.Unlock()
	if err != nil {
		return &ledger.CallError{Op: op, Cause: err}
	}
	return nil
}

func (m *MockLedger) CreateRequest(ctx context.Context, req *domain.Request) (string, error) {
	if err := m.simulate(ctx, "create"); err != nil {
		return "", err
	}

	cp := req.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.Signatures == nil {
		cp.Signatures = make(map[string]domain.SignatureRecord)
	}
	// Ledger хранит только свою часть состояния
	cp.Status = domain.StatusPending
	cp.ApprovedAt = nil

	m.mu.Lock()
	m.requests[cp.ID] = cp
	m.mu.Unlock()
	return cp.ID, nil
}

func (m *MockLedger) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	if err := m.simulate(ctx, "get"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (m *MockLedger) AddSignature(ctx context.Context, id, signer string, blob []byte) error {
	if err := m.simulate(ctx, "add_signature"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrNotPending
	}
	if _, dup := req.Signatures[signer]; dup {
		return domain.ErrDuplicateSignature
	}
	req.Signatures[signer] = domain.SignatureRecord{
		Signer:      signer,
		Blob:        append([]byte(nil), blob...),
		SubmittedAt: m.clk.Now(),
	}
	return nil
}

func (m *MockLedger) ExecuteRequest(ctx context.Context, id string) error {
	if err := m.simulate(ctx, "execute"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrAlreadyFinalized
	}
	req.Status = domain.StatusExecuted
	return nil
}

func (m *MockLedger) RejectRequest(ctx context.Context, id string) error {
	if err := m.simulate(ctx, "reject"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrAlreadyFinalized
	}
	req.Status = domain.StatusRejected
	return nil
}

func (m *MockLedger) ActiveRequestIDs(ctx context.Context) ([]string, error) {
	if err := m.simulate(ctx, "active"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for id, req := range m.requests {
		if req.Status == domain.StatusPending {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockLedger) GetSignatures(ctx context.Context, id string) (map[string]domain.SignatureRecord, error) {
	if err := m.simulate(ctx, "signatures"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]domain.SignatureRecord, len(req.Signatures))
	for signer, rec := range req.Signatures {
		rec.Blob = append([]byte(nil), rec.Blob...)
		out[signer] = rec
	}
	return out, nil
}
