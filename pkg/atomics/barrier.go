package atomics

// Fence is the barrier an ordering requires on one side of an atomic
// transaction.
type Fence uint8

const (
	// FenceNone leaves the transaction unordered against surrounding accesses.
	FenceNone Fence = iota
	// FenceAcquire keeps later accesses after the transaction.
	FenceAcquire
	// FenceRelease keeps earlier accesses before the transaction.
	FenceRelease
	// FenceFull orders everything on both sides and joins the single total order.
	FenceFull
)

func (f Fence) String() string {
	switch f {
	case FenceNone:
		return "none"
	case FenceAcquire:
		return "acquire"
	case FenceRelease:
		return "release"
	case FenceFull:
		return "full"
	}
	return "invalid"
}

// Position says on which side of the core instruction a fence goes.
type Position uint8

const (
	// Before is ahead of the load or the first load of a retry loop.
	Before Position = iota
	// After follows the store or the committing store of a retry loop.
	After
)

// BarrierFor maps an order and a position to the fence needed there.
//
//	relaxed           none      | none
//	consume, acquire  none      | acquire
//	release           release   | none
//	acq_rel           release   | acquire
//	seq_cst           full      | full
//
// BarrierFor is pure and total. Orders outside the declared range map to
// FenceFull on both sides.
func BarrierFor(o MemoryOrder, pos Position) Fence {
	if o == SeqCst || !o.Valid() {
		return FenceFull
	}
	if pos == Before {
		if o.releases() {
			return FenceRelease
		}
		return FenceNone
	}
	if o.acquires() {
		return FenceAcquire
	}
	return FenceNone
}
