package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	const workers = 8
	inCritical := 0
	maxInCritical := 0
	var stateMu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("help:t1:key")
			defer unlock()

			stateMu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			stateMu.Unlock()

			stateMu.Lock()
			inCritical--
			stateMu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInCritical)
	// All holders released, so nothing should linger in the map.
	km.mu.Lock()
	require.Empty(t, km.locks)
	km.mu.Unlock()
}

func TestKeyedMutexDistinctKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
