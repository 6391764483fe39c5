//go:build !linux

package shm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// Without a portable mmap, regions are process-local heap memory looked up by
// path, so create and open still pair up inside one process.
var regions sync.Map // path -> []byte

// MapRegion maps or creates a shared memory region (process-local implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := opts.path()
	if !opts.Create {
		mem, ok := regions.Load(p)
		if !ok {
			return nil, fmt.Errorf("open: %s: %w", p, os.ErrNotExist)
		}
		return &MappedRegion{Addr: mem.([]byte), Name: opts.Name, Path: p}, nil
	}
	words := make([]uint64, (opts.Size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), opts.Size)
	if _, loaded := regions.LoadOrStore(p, mem); loaded {
		return nil, fmt.Errorf("open: %s: %w", p, os.ErrExist)
	}
	return &MappedRegion{Addr: mem, Name: opts.Name, Path: p, created: true}, nil
}

// UnmapRegion drops this mapping. The region lives on until RemoveRegion.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region != nil {
		region.Addr = nil
	}
	return nil
}

// RemoveRegion forgets the named region.
func RemoveRegion(opts MapOptions) error {
	regions.Delete(opts.path())
	return nil
}
