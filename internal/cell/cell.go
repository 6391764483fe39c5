// Package cell addresses 8, 16, 32 and 64-bit memory cells for atomic access and
// emulates an exclusive (load-linked / store-conditional) pair on top of
// compare-and-swap.
//
// 8 and 16-bit cells have no atomic instructions of their own in Go; they are
// accessed through the naturally aligned 32-bit word that contains them, and a
// store to such a cell never disturbs the neighbouring bytes of that word.
package cell

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Word is the set of machine widths a cell can have.
type Word interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Link is the reservation taken by LoadLinked: the full machine word observed
// by the load. StoreConditional succeeds only if the word still holds it.
type Link uint64

// LoadLinked reads the cell and returns its value together with a reservation.
func LoadLinked[T Word](p *T) (T, Link) {
	switch unsafe.Sizeof(*p) {
	case 8:
		w := atomic.LoadUint64((*uint64)(unsafe.Pointer(p)))
		return T(w), Link(w)
	case 4:
		w := atomic.LoadUint32((*uint32)(unsafe.Pointer(p)))
		return T(w), Link(w)
	default:
		word, shift, mask := Lane(unsafe.Pointer(p), unsafe.Sizeof(*p))
		w := atomic.LoadUint32(word)
		return T((w & mask) >> shift), Link(w)
	}
}

// StoreConditional writes v if nothing has modified the word since the
// LoadLinked that produced l. A false result is a store collision, never a
// value mismatch: callers retry from LoadLinked.
func StoreConditional[T Word](p *T, l Link, v T) bool {
	switch unsafe.Sizeof(*p) {
	case 8:
		return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(p)), uint64(l), uint64(v))
	case 4:
		return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(p)), uint32(l), uint32(v))
	default:
		word, shift, mask := Lane(unsafe.Pointer(p), unsafe.Sizeof(*p))
		old := uint32(l)
		return atomic.CompareAndSwapUint32(word, old, old&^mask|(uint32(v)<<shift)&mask)
	}
}

// Load is a single atomic read of the cell.
func Load[T Word](p *T) T {
	v, _ := LoadLinked(p)
	return v
}

// Store is a single atomic write of the cell. Sub-word cells retry only while a
// neighbouring byte of the containing word changes underneath.
func Store[T Word](p *T, v T) {
	switch unsafe.Sizeof(*p) {
	case 8:
		atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(v))
	case 4:
		atomic.StoreUint32((*uint32)(unsafe.Pointer(p)), uint32(v))
	default:
		for {
			_, l := LoadLinked(p)
			if StoreConditional(p, l, v) {
				return
			}
		}
	}
}

// Lane locates a 1 or 2 byte cell inside its aligned 32-bit word. It returns the
// word, the bit offset of the cell in the word's value and the mask covering it.
func Lane(p unsafe.Pointer, size uintptr) (word *uint32, shift uint32, mask uint32) {
	off := uintptr(p) & 3
	word = (*uint32)(unsafe.Add(p, -int(off)))
	if cpu.IsBigEndian {
		off = 4 - size - off
	}
	shift = uint32(off * 8)
	mask = uint32(1)<<(size*8) - 1
	return word, shift, mask << shift
}

// Aligned reports whether p is naturally aligned for a cell of size bytes.
func Aligned(p unsafe.Pointer, size uintptr) bool {
	return uintptr(p)&(size-1) == 0
}
