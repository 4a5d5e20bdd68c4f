package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/quorumgate/internal/domain"
)

func TestSubmit_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	err := env.col.Submit(context.Background(), "missing", "alice", []byte("sig"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_DuplicatePrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 3)
	env.sign(t, req.ID, "alice")

	err := env.col.Submit(context.Background(), req.ID, "alice", []byte("another"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSignature)

	// Повторная подача ничего не перезаписала
	sigs, err := env.eng.GetSignatures(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
	assert.Equal(t, []byte("sig-alice"), sigs["alice"].Blob)
}

func TestSubmit_InvalidSignatureRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)

	// StaticVerifier бракует пустую подпись
	err := env.col.Submit(context.Background(), req.ID, "alice", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	sigs, err := env.eng.GetSignatures(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestSubmit_ExpiredRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)

	env.clk.Advance(25 * time.Hour)

	err := env.col.Submit(context.Background(), req.ID, "alice", []byte("sig"))
	assert.ErrorIs(t, err, domain.ErrExpired)

	// Lazy-переход зафиксирован: заявка видна как EXPIRED без участия sweep
	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

func TestSubmit_AfterQuorumRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)
	env.sign(t, req.ID, "alice", "bob")

	err := env.col.Submit(context.Background(), req.ID, "carol", []byte("sig"))
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestSubmit_LedgerFailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)

	boom := errors.New("ledger write failed")
	env.ldg.SetFailure("add_signature", boom)

	err := env.col.Submit(context.Background(), req.ID, "alice", []byte("sig"))
	assert.ErrorIs(t, err, boom)

	env.ldg.SetFailure("add_signature", nil)
	sigs, err := env.eng.GetSignatures(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	// После восстановления та же подача проходит
	require.NoError(t, env.col.Submit(context.Background(), req.ID, "alice", []byte("sig")))
}

func TestSubmit_QuorumReadFailureDoesNotLoseSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 2)

	// Начальное чтение обслуживает кэш (Prime при создании), а переоценка
	// кворума после записи упирается в недоступный ledger
	boom := errors.New("read failed")
	env.ldg.SetFailure("get", boom)

	// Подпись уже зафиксирована, поэтому подача успешна; кворум будет
	// переоценен при следующем касании заявки
	require.NoError(t, env.col.Submit(context.Background(), req.ID, "alice", []byte("sig-alice")))

	env.ldg.SetFailure("get", nil)
	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentSignatures())
	assert.Equal(t, domain.StatusPending, got.Status)

	// Следующая подпись добирает кворум штатно
	env.sign(t, req.ID, "bob")
	got, err = env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
}

func TestSubmit_ConcurrentSameRequestSerialized(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.create(t, 5)

	signers := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	errs := make([]error, len(signers))

	for i, signer := range signers {
		wg.Add(1)
		go func(i int, signer string) {
			defer wg.Done()
			errs[i] = env.col.Submit(context.Background(), req.ID, signer, []byte("sig-"+signer))
		}(i, signer)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	got, err := env.eng.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentSignatures())
	assert.Equal(t, domain.StatusApproved, got.Status)
}
