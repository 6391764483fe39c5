package shm

import (
	"fmt"
	"unsafe"
)

// Uint32At returns the 32-bit cell at byte offset off of the region. The
// mapping is page aligned, so a 4-aligned offset is a 4-aligned address.
func (r *MappedRegion) Uint32At(off int) (*uint32, error) {
	p, err := r.cell(off, 4)
	if err != nil {
		return nil, err
	}
	return (*uint32)(p), nil
}

// Uint64At returns the 64-bit cell at byte offset off of the region.
func (r *MappedRegion) Uint64At(off int) (*uint64, error) {
	p, err := r.cell(off, 8)
	if err != nil {
		return nil, err
	}
	return (*uint64)(p), nil
}

func (r *MappedRegion) cell(off, size int) (unsafe.Pointer, error) {
	if off < 0 || off+size > len(r.Addr) {
		return nil, fmt.Errorf("%w: offset %d size %d region %d", ErrOutOfRange, off, size, len(r.Addr))
	}
	if off%size != 0 {
		return nil, fmt.Errorf("%w: offset %d size %d", ErrMisaligned, off, size)
	}
	return unsafe.Pointer(&r.Addr[off]), nil
}
