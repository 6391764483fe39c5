package atomics

import "unsafe"

// Exchange stores v into *p and returns the value it replaced.
func Exchange[T Integer](p *T, v T, o MemoryOrder) T {
	return fetchModify(active, p, opSwap, v, o)
}

// ExchangePointer stores v into *p and returns the pointer it replaced.
func ExchangePointer[T any](p **T, v *T, o MemoryOrder) *T {
	return exchangePointer(active, p, v, o)
}

func exchangePointer[T any](b backend, p **T, v *T, o MemoryOrder) *T {
	o.check()
	checkCell(unsafe.Pointer(p), unsafe.Sizeof(p))
	return (*T)(b.swapPointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(v), o))
}
