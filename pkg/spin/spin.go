// Package spin provides a test-and-test-and-set lock built on the atomics
// package, for critical sections too short to be worth parking a goroutine.
package spin

import (
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/cpu"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

// MaxRelaxRounds is how many Gosched rounds a contender spends before it
// starts sleeping between attempts.
const MaxRelaxRounds = 64

const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

// Lock is a spin lock. The zero value is unlocked. A Lock must not be copied
// after first use.
type Lock struct {
	_     cpu.CacheLinePad
	state uint32
	_     cpu.CacheLinePad
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	if atomics.Load(&l.state, atomics.Relaxed) != unlocked {
		return false
	}
	_, ok := atomics.CompareExchange(&l.state, locked, unlocked, atomics.Acquire, atomics.Relaxed)
	return ok
}

// Lock acquires the lock, spinning and then backing off while it is held.
func (l *Lock) Lock() {
	if l.TryLock() {
		return
	}
	var (
		b      backoff.BackOff
		relaxs int
	)
	for {
		for atomics.Load(&l.state, atomics.Relaxed) != unlocked {
			if relaxs < MaxRelaxRounds {
				relaxs++
				runtime.Gosched()
				continue
			}
			if b == nil {
				b = newSleeper()
			}
			time.Sleep(b.NextBackOff())
		}
		if l.TryLock() {
			return
		}
	}
}

// Unlock releases the lock. Unlocking an unlocked Lock is a no-op.
func (l *Lock) Unlock() {
	atomics.Store(&l.state, unlocked, atomics.Release)
}

// Locked reports whether the lock is currently held.
func (l *Lock) Locked() bool {
	return atomics.Load(&l.state, atomics.Acquire) == locked
}

func newSleeper() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Microsecond
	b.MaxInterval = time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
