package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/connectors"
	"github.com/xela07ax/quorumgate/internal/domain"
	"github.com/xela07ax/quorumgate/internal/notify"
	"github.com/xela07ax/quorumgate/internal/policy"
	"github.com/xela07ax/quorumgate/internal/store"
)

// captureSink собирает опубликованные события для проверок
type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *captureSink) Publish(e notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Name)
	}
	return out
}

type testEnv struct {
	eng     *Engine
	col     *Collector
	ldg     *connectors.MockLedger
	st      *store.Store
	clk     *clock.Manual
	sink    *captureSink
	pol     *policy.Policy
	metrics *Metrics
}

func newTestEnv(t *testing.T, pol *policy.Policy) *testEnv {
	t.Helper()
	if pol == nil {
		var err error
		pol, err = policy.New(2, 5, 24*time.Hour, time.Hour, 5, time.Minute)
		require.NoError(t, err)
	}

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ldg := connectors.NewMockLedger(clk)
	st := store.New(ldg, clk, pol.CacheTTL, zap.NewNop())
	sink := &captureSink{}
	metrics := NewMetrics(nil)
	eng := New(pol, st, ldg, sink, clk, metrics, zap.NewNop())
	col := NewCollector(eng, st, ldg, StaticVerifier{}, clk, zap.NewNop())

	return &testEnv{eng: eng, col: col, ldg: ldg, st: st, clk: clk, sink: sink, pol: pol, metrics: metrics}
}

func (env *testEnv) create(t *testing.T, required int) *domain.Request {
	t.Helper()
	req, err := env.eng.Create(context.Background(),
		"key.rotate", "0xfeed", []byte(`{"key":"new"}`), "0", required)
	require.NoError(t, err)
	return req
}

func (env *testEnv) sign(t *testing.T, id string, signers ...string) {
	t.Helper()
	for _, signer := range signers {
		require.NoError(t, env.col.Submit(context.Background(), id, signer, []byte("sig-"+signer)))
	}
}

func TestCreate_SetsWindowAndEmitsEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	req := env.create(t, 3)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, 0, req.CurrentSignatures())
	assert.True(t, req.ExpiresAt.Equal(req.CreatedAt.Add(env.pol.VotingPeriod)))
	assert.Equal(t, []string{notify.EventRequestCreated}, env.sink.names())
}

func TestCreate_ThresholdOutOfRange(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.eng.Create(context.Background(), "key.rotate", "", nil, "", 1)
	assert.ErrorIs(t, err, domain.ErrThresholdOutOfRange)

	_, err = env.eng.Create(context.Background(), "key.rotate", "", nil, "", 6)
	assert.ErrorIs(t, err, domain.ErrThresholdOutOfRange)
}

func TestCreate_CapacityReachedAndReleased(t *testing.T) {
	pol, err := policy.New(2, 5, 24*time.Hour, 0, 2, time.Minute)
	require.NoError(t, err)
	env := newTestEnv(t, pol)

	first := env.create(t, 2)
	env.create(t, 2)

	_, err = env.eng.Create(context.Background(), "key.rotate", "", nil, "", 2)
	assert.ErrorIs(t, err, domain.ErrCapacityReached)

	// Терминальный статус освобождает слот
	require.NoError(t, env.eng.Reject(context.Background(), first.ID, "op-1"))
	env.create(t, 2)
}

func TestQuorum_FlipsOnExactThreshold(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 3)

	env.sign(t, req.ID, "alice", "bob")

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 2, got.CurrentSignatures())

	// Третья подпись набирает кворум
	env.sign(t, req.ID, "carol")

	got, err = env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(env.clk.Now()))
	assert.Contains(t, env.sink.names(), notify.EventRequestApproved)
}

func TestExecute_RequiresQuorum(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice")

	err := env.eng.Execute(context.Background(), req.ID)
	assert.ErrorIs(t, err, domain.ErrNotApproved)
}

func TestExecute_DelayCountsFromApproval(t *testing.T) {
	env := newTestEnv(t, nil) // executionDelay = 1h
	req := env.create(t, 2)

	// Кворум собирается медленно, но окно охлаждения стартует от approvedAt
	env.clk.Advance(2 * time.Hour)
	env.sign(t, req.ID, "alice", "bob")

	env.clk.Advance(30 * time.Minute)
	err := env.eng.Execute(context.Background(), req.ID)
	assert.ErrorIs(t, err, domain.ErrDelayNotElapsed)

	env.clk.Advance(31 * time.Minute)
	require.NoError(t, env.eng.Execute(context.Background(), req.ID))

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, got.Status)
	assert.Contains(t, env.sink.names(), notify.EventRequestExecuted)
}

func TestExecute_TerminalIsNotRetryable(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice", "bob")
	env.clk.Advance(2 * time.Hour)
	require.NoError(t, env.eng.Execute(context.Background(), req.ID))

	err := env.eng.Execute(context.Background(), req.ID)
	assert.ErrorIs(t, err, domain.ErrNotApproved)
}

func TestExecute_LedgerFailureKeepsApproved(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice", "bob")
	env.clk.Advance(2 * time.Hour)

	boom := errors.New("connector down")
	env.ldg.SetFailure("execute", boom)

	err := env.eng.Execute(context.Background(), req.ID)
	assert.ErrorIs(t, err, boom)

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)

	// После восстановления ledger повторная попытка проходит
	env.ldg.SetFailure("execute", nil)
	require.NoError(t, env.eng.Execute(context.Background(), req.ID))
}

func TestExecute_ExpiredApprovedRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice", "bob")

	// Дедлайн голосования прошел до исполнения
	env.clk.Advance(25 * time.Hour)

	err := env.eng.Execute(context.Background(), req.ID)
	assert.ErrorIs(t, err, domain.ErrExpired)

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestReject_OnlyBeforeQuorum(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice", "bob")

	err := env.eng.Reject(context.Background(), req.ID, "op-1")
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestReject_PendingRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)

	require.NoError(t, env.eng.Reject(context.Background(), req.ID, "op-1"))

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)

	// Вето терминально: подписи больше не принимаются
	err = env.col.Submit(context.Background(), req.ID, "alice", []byte("sig"))
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestSweepExpired_TransitionsAndCounts(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.create(t, 2)
	second := env.create(t, 2)

	env.clk.Advance(25 * time.Hour)

	n, err := env.eng.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{first.ID, second.ID} {
		got, err := env.eng.GetRequest(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExpired, got.Status)
	}

	// Слоты вместимости освобождены
	active, err := env.eng.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	// Повторный sweep ничего не находит
	n, err = env.eng.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepExpired_PicksUpMissedQuorum(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice")

	// Финальная подпись фиксируется в ledger, но переоценка кворума
	// упирается в недоступное чтение: заявка застревает в PENDING
	boom := errors.New("read failed")
	env.ldg.SetFailure("get", boom)
	require.NoError(t, env.col.Submit(context.Background(), req.ID, "bob", []byte("sig-bob")))
	env.ldg.SetFailure("get", nil)

	// Повторная подача того же подписанта переоценку не запускает:
	// она упирается в проверку дубликата
	err := env.col.Submit(context.Background(), req.ID, "bob", []byte("sig-bob"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSignature)

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentSignatures())
	assert.Equal(t, domain.StatusPending, got.Status)

	// Sweep добирает пропущенный флип: кворум в ledger уже набран
	n, err := env.eng.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err = env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.Contains(t, env.sink.names(), notify.EventRequestApproved)
}

func TestActiveRequestsGauge_TracksLifecycle(t *testing.T) {
	pol, err := policy.New(2, 5, 24*time.Hour, 0, 5, time.Minute)
	require.NoError(t, err)
	env := newTestEnv(t, pol)

	first := env.create(t, 2)
	second := env.create(t, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.ActiveRequests))

	require.NoError(t, env.eng.Reject(context.Background(), first.ID, "op-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ActiveRequests))

	env.sign(t, second.ID, "alice", "bob")
	require.NoError(t, env.eng.Execute(context.Background(), second.ID))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.ActiveRequests))

	env.create(t, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ActiveRequests))

	env.clk.Advance(25 * time.Hour)
	_, err = env.eng.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.ActiveRequests))
}

func TestGetSignatures_ReadsAuthoritativeState(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 3)
	env.sign(t, req.ID, "alice", "bob")

	sigs, err := env.eng.GetSignatures(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, 2)
	assert.Equal(t, "alice", sigs["alice"].Signer)

	_, err = env.eng.GetSignatures(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetRequest_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.eng.GetRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
