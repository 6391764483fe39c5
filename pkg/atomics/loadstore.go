package atomics

import "unsafe"

// Load returns *p. Only the part of o that applies after a read takes effect.
func Load[T Integer](p *T, o MemoryOrder) T {
	return load(active, p, o)
}

// Store writes v to *p. Only the part of o that applies before a write takes
// effect, except that SeqCst also fences after the write.
func Store[T Integer](p *T, v T, o MemoryOrder) {
	store(active, p, v, o)
}

// LoadPointer returns *p.
func LoadPointer[T any](p **T, o MemoryOrder) *T {
	return loadPointer(active, p, o)
}

// StorePointer writes v to *p.
func StorePointer[T any](p **T, v *T, o MemoryOrder) {
	storePointer(active, p, v, o)
}

func load[T Integer](b backend, p *T, o MemoryOrder) T {
	checkLoadOrder(o)
	w := widthOf[T]()
	checkCell(unsafe.Pointer(p), uintptr(w))
	return T(b.load(unsafe.Pointer(p), w, o))
}

func store[T Integer](b backend, p *T, v T, o MemoryOrder) {
	checkStoreOrder(o)
	w := widthOf[T]()
	checkCell(unsafe.Pointer(p), uintptr(w))
	b.store(unsafe.Pointer(p), w, uint64(v), o)
}

func loadPointer[T any](b backend, p **T, o MemoryOrder) *T {
	checkLoadOrder(o)
	checkCell(unsafe.Pointer(p), unsafe.Sizeof(p))
	return (*T)(b.loadPointer((*unsafe.Pointer)(unsafe.Pointer(p)), o))
}

func storePointer[T any](b backend, p **T, v *T, o MemoryOrder) {
	checkStoreOrder(o)
	checkCell(unsafe.Pointer(p), unsafe.Sizeof(p))
	b.storePointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(v), o)
}
