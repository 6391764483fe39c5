package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

func waitParked(t *testing.T, p *uint32, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return Waiting(p) == n }, time.Second, time.Millisecond)
}

func TestWaitReturnsWhenValueDiffers(t *testing.T) {
	var flag uint32 = 1
	Wait(&flag, 0)
	assert.Equal(t, 0, Waiting(&flag))
}

func TestOneWakesSingleWaiter(t *testing.T) {
	var flag uint32
	woke := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			Wait(&flag, 0)
			woke <- struct{}{}
		}()
	}
	waitParked(t, &flag, 2)

	atomics.Store(&flag, 1, atomics.Release)
	assert.True(t, One(&flag))
	<-woke
	select {
	case <-woke:
		t.Fatal("One woke two waiters")
	case <-time.After(10 * time.Millisecond):
	}
	assert.True(t, One(&flag))
	<-woke
	assert.False(t, One(&flag))
}

func TestAllWakesEveryWaiter(t *testing.T) {
	const waiters = 8
	var (
		flag uint32
		wg   sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomics.Load(&flag, atomics.Acquire) == 0 {
				Wait(&flag, 0)
			}
		}()
	}
	waitParked(t, &flag, waiters)
	atomics.Store(&flag, 1, atomics.Release)
	assert.Equal(t, waiters, All(&flag))
	wg.Wait()
	assert.Equal(t, 0, All(&flag))
}

func TestWaitContextCancel(t *testing.T) {
	var flag uint64
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := WaitContext(ctx, &flag, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, Waiting(&flag))
}

func TestHandoffCounter(t *testing.T) {
	const rounds = 200
	var turn uint32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint32(0); i < rounds; i++ {
			for atomics.Load(&turn, atomics.Acquire) != 2*i+1 {
				Wait(&turn, 2*i)
			}
			atomics.Store(&turn, 2*i+2, atomics.Release)
			All(&turn)
		}
	}()
	for i := uint32(0); i < rounds; i++ {
		atomics.Store(&turn, 2*i+1, atomics.Release)
		All(&turn)
		for atomics.Load(&turn, atomics.Acquire) != 2*i+2 {
			Wait(&turn, 2*i+1)
		}
	}
	<-done
	assert.Equal(t, uint32(2*rounds), atomics.Load(&turn, atomics.SeqCst))
}
