package atomics

// The functions below are the explicit operations with SeqCst, named after
// their sync/atomic counterparts.

// Add adds delta to *p and returns the new value.
func Add[T Integer](p *T, delta T) T {
	return FetchAdd(p, delta, SeqCst) + delta
}

// Sub subtracts delta from *p and returns the new value.
func Sub[T Integer](p *T, delta T) T {
	return FetchSub(p, delta, SeqCst) - delta
}

// Swap stores v into *p and returns the old value.
func Swap[T Integer](p *T, v T) T {
	return Exchange(p, v, SeqCst)
}

// CompareAndSwap stores new into *p if it holds old.
func CompareAndSwap[T Integer](p *T, old, new T) bool {
	_, ok := CompareExchange(p, new, old, SeqCst, SeqCst)
	return ok
}

// And stores *p & mask and returns the old value.
func And[T Integer](p *T, mask T) T {
	return FetchAnd(p, mask, SeqCst)
}

// Or stores *p | mask and returns the old value.
func Or[T Integer](p *T, mask T) T {
	return FetchOr(p, mask, SeqCst)
}

// Xor stores *p ^ mask and returns the old value.
func Xor[T Integer](p *T, mask T) T {
	return FetchXor(p, mask, SeqCst)
}

// Get returns *p.
func Get[T Integer](p *T) T {
	return Load(p, SeqCst)
}

// Set stores v into *p.
func Set[T Integer](p *T, v T) {
	Store(p, v, SeqCst)
}
