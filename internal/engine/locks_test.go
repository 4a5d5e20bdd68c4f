package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("req-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedLocks_IndependentKeysDoNotBlock(t *testing.T) {
	locks := newKeyedLocks()

	unlockA := locks.lock("req-a")
	defer unlockA()

	// Замок другой заявки берется без ожидания
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock("req-b")
		unlockB()
		close(done)
	}()

	<-done
}
