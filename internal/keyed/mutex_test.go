package keyed_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/keyed"
)

func TestMutexSerializesSameKey(t *testing.T) {
	m := keyed.NewMutex()

	var active, peak int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("alice")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Equal(t, 0, m.Len())
}

func TestMutexIndependentKeys(t *testing.T) {
	m := keyed.NewMutex()

	unlockA := m.Lock("alice")
	done := make(chan struct{})
	go func() {
		unlock := m.Lock("bob")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	require.Equal(t, 1, m.Len())
	unlockA()
	require.Equal(t, 0, m.Len())
}

func TestMutexUnlockIsIdempotent(t *testing.T) {
	m := keyed.NewMutex()
	unlock := m.Lock("k")
	unlock()
	unlock()

	again := m.Lock("k")
	again()
	assert.Equal(t, 0, m.Len())
}
