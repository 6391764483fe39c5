package atomics

import "unsafe"

// CompareExchange stores exchange into *p if *p equals comparand. It returns the
// value it read and whether the exchange happened. On success that value is
// comparand; on failure it is whatever another goroutine installed, and the cell
// is left untouched.
//
// success orders the operation when the exchange happens and failure when it
// does not. A value mismatch is never retried; only a concurrent store between
// the read and the write is.
func CompareExchange[T Integer](p *T, exchange, comparand T, success, failure MemoryOrder) (T, bool) {
	return compareExchange(active, p, exchange, comparand, success, failure)
}

// CompareExchangePointer is CompareExchange for pointer cells.
func CompareExchangePointer[T any](p **T, exchange, comparand *T, success, failure MemoryOrder) (*T, bool) {
	return compareExchangePointer(active, p, exchange, comparand, success, failure)
}

func compareExchange[T Integer](b backend, p *T, exchange, comparand T, success, failure MemoryOrder) (T, bool) {
	success.check()
	checkLoadOrder(failure)
	w := widthOf[T]()
	checkCell(unsafe.Pointer(p), uintptr(w))
	old, ok := b.compareExchange(unsafe.Pointer(p), w, uint64(exchange), uint64(comparand), success, failure)
	return T(old), ok
}

func compareExchangePointer[T any](b backend, p **T, exchange, comparand *T, success, failure MemoryOrder) (*T, bool) {
	success.check()
	checkLoadOrder(failure)
	checkCell(unsafe.Pointer(p), unsafe.Sizeof(p))
	old, ok := b.compareExchangePointer((*unsafe.Pointer)(unsafe.Pointer(p)),
		unsafe.Pointer(exchange), unsafe.Pointer(comparand), success, failure)
	return (*T)(old), ok
}
