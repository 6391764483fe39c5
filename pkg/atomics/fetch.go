package atomics

import "unsafe"

// Integer is the set of cell types. int, uint and uintptr are pointer width and
// delegate to the 32 or 64-bit operations of the platform.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr
}

// Increment adds one to *p and returns the new value.
func Increment[T Integer](p *T, o MemoryOrder) T {
	return increment(active, p, o)
}

// Decrement subtracts one from *p and returns the new value.
func Decrement[T Integer](p *T, o MemoryOrder) T {
	return decrement(active, p, o)
}

// FetchAdd adds delta to *p and returns the old value. Overflow wraps.
func FetchAdd[T Integer](p *T, delta T, o MemoryOrder) T {
	return fetchModify(active, p, opAdd, delta, o)
}

// FetchSub subtracts delta from *p and returns the old value. Overflow wraps.
func FetchSub[T Integer](p *T, delta T, o MemoryOrder) T {
	return fetchModify(active, p, opAdd, -delta, o)
}

// FetchAnd stores *p & mask and returns the old value.
func FetchAnd[T Integer](p *T, mask T, o MemoryOrder) T {
	return fetchModify(active, p, opAnd, mask, o)
}

// FetchOr stores *p | mask and returns the old value.
func FetchOr[T Integer](p *T, mask T, o MemoryOrder) T {
	return fetchModify(active, p, opOr, mask, o)
}

// FetchXor stores *p ^ mask and returns the old value.
func FetchXor[T Integer](p *T, mask T, o MemoryOrder) T {
	return fetchModify(active, p, opXor, mask, o)
}

func increment[T Integer](b backend, p *T, o MemoryOrder) T {
	var one T = 1
	return fetchModify(b, p, opAdd, one, o) + one
}

func decrement[T Integer](b backend, p *T, o MemoryOrder) T {
	var one T = 1
	return fetchModify(b, p, opAdd, -one, o) - one
}

func fetchModify[T Integer](b backend, p *T, op modify, operand T, o MemoryOrder) T {
	o.check()
	w := widthOf[T]()
	checkCell(unsafe.Pointer(p), uintptr(w))
	return T(b.fetchModify(unsafe.Pointer(p), w, op, uint64(operand), o))
}
