package atomics

import (
	"sync/atomic"
	"unsafe"
)

// intrinsicBackend maps every operation onto sync/atomic. The Go toolchain
// provides a single, sequentially consistent variant of each primitive, which
// is the variant every requested order resolves to. Operations sync/atomic
// lacks (xor, sub-word cells) use the retry loop without extra fences: the
// loop's loads and compare-and-swaps are themselves sequentially consistent.
type intrinsicBackend struct{}

func (intrinsicBackend) name() string { return "intrinsic" }

func (intrinsicBackend) load(p unsafe.Pointer, w width, _ MemoryOrder) uint64 {
	switch w {
	case w32:
		return uint64(atomic.LoadUint32((*uint32)(p)))
	case w64:
		return atomic.LoadUint64((*uint64)(p))
	}
	return loadByWidth(p, w)
}

func (intrinsicBackend) store(p unsafe.Pointer, w width, v uint64, _ MemoryOrder) {
	switch w {
	case w32:
		atomic.StoreUint32((*uint32)(p), uint32(v))
	case w64:
		atomic.StoreUint64((*uint64)(p), v)
	default:
		storeByWidth(p, w, v)
	}
}

func (intrinsicBackend) fetchModify(p unsafe.Pointer, w width, op modify, operand uint64, _ MemoryOrder) uint64 {
	switch w {
	case w32:
		q, v := (*uint32)(p), uint32(operand)
		switch op {
		case opAdd:
			return uint64(atomic.AddUint32(q, v) - v)
		case opAnd:
			return uint64(atomic.AndUint32(q, v))
		case opOr:
			return uint64(atomic.OrUint32(q, v))
		case opSwap:
			return uint64(atomic.SwapUint32(q, v))
		}
	case w64:
		q := (*uint64)(p)
		switch op {
		case opAdd:
			return atomic.AddUint64(q, operand) - operand
		case opAnd:
			return atomic.AndUint64(q, operand)
		case opOr:
			return atomic.OrUint64(q, operand)
		case opSwap:
			return atomic.SwapUint64(q, operand)
		}
	}
	return rmwByWidth(p, w, op, operand, FenceNone, FenceNone)
}

func (intrinsicBackend) compareExchange(p unsafe.Pointer, w width, exchange, comparand uint64, _, _ MemoryOrder) (uint64, bool) {
	return cmpxchgByWidth(p, w, exchange, comparand, FenceNone, FenceNone, FenceNone)
}

func (intrinsicBackend) loadPointer(p *unsafe.Pointer, _ MemoryOrder) unsafe.Pointer {
	return atomic.LoadPointer(p)
}

func (intrinsicBackend) storePointer(p *unsafe.Pointer, v unsafe.Pointer, _ MemoryOrder) {
	atomic.StorePointer(p, v)
}

func (intrinsicBackend) swapPointer(p *unsafe.Pointer, v unsafe.Pointer, _ MemoryOrder) unsafe.Pointer {
	return atomic.SwapPointer(p, v)
}

func (intrinsicBackend) compareExchangePointer(p *unsafe.Pointer, exchange, comparand unsafe.Pointer, _, _ MemoryOrder) (unsafe.Pointer, bool) {
	return casPointer(p, exchange, comparand, FenceNone, FenceNone, FenceNone)
}

// casPointer is cmpxchg for Go pointers. Pointer cells must go through the
// pointer primitives of sync/atomic so the garbage collector sees the write.
func casPointer(p *unsafe.Pointer, exchange, comparand unsafe.Pointer, before, afterSuccess, afterFailure Fence) (unsafe.Pointer, bool) {
	issue(before)
	for {
		old := atomic.LoadPointer(p)
		if old != comparand {
			issue(afterFailure)
			return old, false
		}
		if atomic.CompareAndSwapPointer(p, comparand, exchange) {
			issue(afterSuccess)
			return old, true
		}
	}
}
