package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceLocks_SerializesSameID(t *testing.T) {
	locks := newInstanceLocks()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire("i-1")
			defer release()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical)
}

func TestInstanceLocks_EvictsReleasedEntries(t *testing.T) {
	locks := newInstanceLocks()

	release := locks.acquire("i-1")
	releaseOther := locks.acquire("i-2")
	release()
	releaseOther()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestInstanceLocks_DifferentIDsDoNotBlock(t *testing.T) {
	locks := newInstanceLocks()

	release := locks.acquire("i-1")
	defer release()

	done := make(chan struct{})
	go func() {
		r := locks.acquire("i-2")
		r()
		close(done)
	}()

	<-done
}
