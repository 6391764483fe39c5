package atomics

import "fmt"

// MemoryOrder constrains how an atomic operation becomes visible relative to
// other memory accesses.
type MemoryOrder uint8

const (
	// Relaxed orders nothing beyond the atomicity of the operation itself.
	Relaxed MemoryOrder = iota
	// Consume is treated as Acquire.
	Consume
	// Acquire keeps later accesses from moving before the operation.
	Acquire
	// Release keeps earlier accesses from moving after the operation.
	Release
	// AcqRel is Acquire and Release together.
	AcqRel
	// SeqCst is AcqRel plus membership in a single total order shared by all
	// goroutines.
	SeqCst
)

var orderNames = [...]string{
	Relaxed: "relaxed",
	Consume: "consume",
	Acquire: "acquire",
	Release: "release",
	AcqRel:  "acq_rel",
	SeqCst:  "seq_cst",
}

// Orders lists every valid MemoryOrder, weakest first.
var Orders = []MemoryOrder{Relaxed, Consume, Acquire, Release, AcqRel, SeqCst}

func (o MemoryOrder) String() string {
	if o.Valid() {
		return orderNames[o]
	}
	return fmt.Sprintf("MemoryOrder(%d)", uint8(o))
}

// Valid reports whether o is one of the declared orders.
func (o MemoryOrder) Valid() bool {
	return o <= SeqCst
}

// ValidForLoad reports whether o is meaningful on a load. Release and AcqRel
// are accepted by Load but only their acquire half, if any, has an effect.
func (o MemoryOrder) ValidForLoad() bool {
	switch o {
	case Relaxed, Consume, Acquire, SeqCst:
		return true
	}
	return false
}

// ValidForStore reports whether o is meaningful on a store.
func (o MemoryOrder) ValidForStore() bool {
	switch o {
	case Relaxed, Release, SeqCst:
		return true
	}
	return false
}

// acquires reports whether o has acquire semantics.
func (o MemoryOrder) acquires() bool {
	switch o {
	case Consume, Acquire, AcqRel, SeqCst:
		return true
	}
	return false
}

// releases reports whether o has release semantics.
func (o MemoryOrder) releases() bool {
	switch o {
	case Release, AcqRel, SeqCst:
		return true
	}
	return false
}

// ParseMemoryOrder accepts the names printed by String.
func ParseMemoryOrder(s string) (MemoryOrder, error) {
	for i, name := range orderNames {
		if name == s {
			return MemoryOrder(i), nil
		}
	}
	return 0, fmt.Errorf("unknown memory order %q", s)
}

func (o MemoryOrder) check() {
	if !o.Valid() {
		panic("atomics: invalid " + o.String())
	}
}
