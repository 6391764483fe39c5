package atomics

import "sync/atomic"

// issue executes f. Go exposes no standalone fence instruction; a locked
// read-modify-write on a private word is a full barrier on every target Go
// supports and takes part in the total order of sync/atomic operations, so
// every fence kind other than FenceNone lowers to it.
func issue(f Fence) {
	if f == FenceNone {
		return
	}
	var w uint32
	atomic.AddUint32(&w, 1)
}

// ThreadFence establishes the ordering o as a standalone fence, without an
// associated memory cell. Relaxed is a no-op.
func ThreadFence(o MemoryOrder) {
	o.check()
	switch o {
	case Relaxed:
	case Consume, Acquire:
		issue(FenceAcquire)
	case Release:
		issue(FenceRelease)
	default:
		issue(FenceFull)
	}
}

// CompilerBarrier keeps the compiler from moving memory accesses across the
// call. It emits the same instruction as a full fence.
func CompilerBarrier() {
	issue(FenceFull)
}
