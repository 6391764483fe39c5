// Package shm contains platform-specific helpers for mapping shared memory
// regions and addressing atomic cells inside them.
package shm

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultDir is where named regions live on Linux.
const DefaultDir = "/dev/shm"

var (
	ErrInvalidSize                = errors.New("shm: region size must be positive")
	ErrInvalidName                = errors.New("shm: region name must be a plain file name")
	ErrShareMemoryHadNotLeftSpace = errors.New("shm: not enough space left on the shared memory device")
	ErrOutOfRange                 = errors.New("shm: cell lies outside the region")
	ErrMisaligned                 = errors.New("shm: cell offset is not naturally aligned")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string
	Path string

	fd      int
	created bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name   string
	Size   int
	Create bool
	// Dir overrides DefaultDir, mostly for tests.
	Dir string
}

func (o MapOptions) path() string {
	dir := o.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, o.Name)
}

func (o MapOptions) validate() error {
	if o.Name == "" || o.Name != filepath.Base(o.Name) || strings.HasPrefix(o.Name, ".") {
		return ErrInvalidName
	}
	if o.Create && o.Size <= 0 {
		return ErrInvalidSize
	}
	return nil
}

// Created reports whether this mapping created the region.
func (r *MappedRegion) Created() bool {
	return r.created
}

// Size is the mapped length in bytes.
func (r *MappedRegion) Size() int {
	return len(r.Addr)
}

// CanCreate reports whether size bytes fit on the device backing path. Only
// paths under /dev/shm are checked, everything else is assumed to fit.
func CanCreate(size uint64, path string) bool {
	if !strings.HasPrefix(filepath.Clean(path), DefaultDir+"/") {
		return true
	}
	stat, err := disk.Usage(DefaultDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
