package engine

import "sync"

// keyedLocks сериализует мутации одной заявки, не блокируя чужие: submit,
// execute, reject и sweep по одному requestId идут строго по очереди,
// разные заявки — параллельно. Глобального замка нет намеренно.
//
// Записи не вычищаются: заявки никогда не удаляются (retention — внешняя
// забота), поэтому рост мапы ограничен общим числом заявок.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// lock захватывает замок заявки и возвращает функцию освобождения
func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
