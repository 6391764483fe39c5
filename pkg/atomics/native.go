package atomics

import (
	"sync/atomic"
	"unsafe"
)

// nativeBackend assembles every operation from an exclusive load /
// conditional store retry loop and places the fences BarrierFor asks for
// around it.
type nativeBackend struct{}

func (nativeBackend) name() string { return "native" }

// load is one read; nothing precedes it.
func (nativeBackend) load(p unsafe.Pointer, w width, o MemoryOrder) uint64 {
	v := loadByWidth(p, w)
	issue(BarrierFor(o, After))
	return v
}

// store is one write after the before fence. A seq_cst store also fences
// after itself so it joins the single total order.
func (nativeBackend) store(p unsafe.Pointer, w width, v uint64, o MemoryOrder) {
	issue(BarrierFor(o, Before))
	storeByWidth(p, w, v)
	if o == SeqCst {
		issue(FenceFull)
	}
}

func (nativeBackend) fetchModify(p unsafe.Pointer, w width, op modify, operand uint64, o MemoryOrder) uint64 {
	return rmwByWidth(p, w, op, operand, BarrierFor(o, Before), BarrierFor(o, After))
}

// compareExchange fences before the load as the success order requires; the
// trailing fence follows whichever outcome occurred.
func (nativeBackend) compareExchange(p unsafe.Pointer, w width, exchange, comparand uint64, success, failure MemoryOrder) (uint64, bool) {
	return cmpxchgByWidth(p, w, exchange, comparand,
		BarrierFor(success, Before), BarrierFor(success, After), BarrierFor(failure, After))
}

func (nativeBackend) loadPointer(p *unsafe.Pointer, o MemoryOrder) unsafe.Pointer {
	v := atomic.LoadPointer(p)
	issue(BarrierFor(o, After))
	return v
}

func (nativeBackend) storePointer(p *unsafe.Pointer, v unsafe.Pointer, o MemoryOrder) {
	issue(BarrierFor(o, Before))
	atomic.StorePointer(p, v)
	if o == SeqCst {
		issue(FenceFull)
	}
}

func (nativeBackend) swapPointer(p *unsafe.Pointer, v unsafe.Pointer, o MemoryOrder) unsafe.Pointer {
	issue(BarrierFor(o, Before))
	for {
		old := atomic.LoadPointer(p)
		if atomic.CompareAndSwapPointer(p, old, v) {
			issue(BarrierFor(o, After))
			return old
		}
	}
}

func (nativeBackend) compareExchangePointer(p *unsafe.Pointer, exchange, comparand unsafe.Pointer, success, failure MemoryOrder) (unsafe.Pointer, bool) {
	return casPointer(p, exchange, comparand,
		BarrierFor(success, Before), BarrierFor(success, After), BarrierFor(failure, After))
}
