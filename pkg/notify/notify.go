// Package notify parks goroutines on the address of an atomic cell until
// another goroutine changes the cell and notifies them.
//
// A waiter blocks only while the cell still holds the value it expected, so a
// store followed by One or All can never be lost. Wakeups may be spurious:
// callers re-check the cell in a loop.
package notify

import (
	"context"
	"sync"
	"unsafe"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

type waiter struct {
	mu     sync.Mutex
	parked []chan struct{}
	refs   int // guarded by the table shard lock
}

var table = cmap.NewWithCustomShardingFunction[uintptr, *waiter](shardOf)

func shardOf(addr uintptr) uint32 {
	return uint32(addr>>3) ^ uint32(addr>>12)
}

func acquire(addr uintptr) *waiter {
	return table.Upsert(addr, nil, func(exist bool, w, _ *waiter) *waiter {
		if !exist {
			w = &waiter{}
		}
		w.refs++
		return w
	})
}

func release(addr uintptr) {
	table.RemoveCb(addr, func(_ uintptr, w *waiter, exists bool) bool {
		if !exists {
			return false
		}
		w.refs--
		return w.refs == 0
	})
}

// Wait blocks while *p == old, until One or All is called for p.
func Wait[T atomics.Integer](p *T, old T) {
	_ = WaitContext(context.Background(), p, old)
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if ctx ends first.
func WaitContext[T atomics.Integer](ctx context.Context, p *T, old T) error {
	addr := uintptr(unsafe.Pointer(p))
	w := acquire(addr)
	defer release(addr)

	ch := make(chan struct{})
	w.mu.Lock()
	w.parked = append(w.parked, ch)
	w.mu.Unlock()

	if atomics.Load(p, atomics.Acquire) != old {
		w.cancel(ch)
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if !w.cancel(ch) {
			// Notified concurrently; the wakeup is ours.
			return nil
		}
		return ctx.Err()
	}
}

// cancel unparks ch and reports whether it was still parked.
func (w *waiter) cancel(ch chan struct{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, c := range w.parked {
		if c == ch {
			w.parked = append(w.parked[:i], w.parked[i+1:]...)
			return true
		}
	}
	return false
}

// One wakes a single goroutine waiting on p, if any, and reports whether it did.
func One[T atomics.Integer](p *T) bool {
	w, ok := table.Get(uintptr(unsafe.Pointer(p)))
	if !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.parked) == 0 {
		return false
	}
	close(w.parked[0])
	w.parked = w.parked[1:]
	return true
}

// All wakes every goroutine waiting on p and returns how many it woke.
func All[T atomics.Integer](p *T) int {
	w, ok := table.Get(uintptr(unsafe.Pointer(p)))
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.parked)
	for _, ch := range w.parked {
		close(ch)
	}
	w.parked = nil
	return n
}

// Waiting returns how many goroutines are parked on p.
func Waiting[T atomics.Integer](p *T) int {
	w, ok := table.Get(uintptr(unsafe.Pointer(p)))
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.parked)
}
