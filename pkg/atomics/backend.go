package atomics

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/srediag/shm-atomics/internal/cell"
)

// width is the machine width of a cell in bytes.
type width uint8

const (
	w8  width = 1
	w16 width = 2
	w32 width = 4
	w64 width = 8
)

// widthOf returns the width of T. int, uint and uintptr resolve to the native
// 32 or 64-bit width of the platform.
func widthOf[T Integer]() width {
	var z T
	return width(unsafe.Sizeof(z))
}

// modify is the function a fetch-and-modify applies to the old value.
type modify uint8

const (
	opAdd modify = iota
	opAnd
	opOr
	opXor
	opSwap
)

func apply[T cell.Word](op modify, old, operand T) T {
	switch op {
	case opAdd:
		return old + operand
	case opAnd:
		return old & operand
	case opOr:
		return old | operand
	case opXor:
		return old ^ operand
	default:
		return operand
	}
}

// backend executes one atomic transaction on a cell. Values travel as uint64
// and are truncated to the cell's width.
type backend interface {
	name() string
	load(p unsafe.Pointer, w width, o MemoryOrder) uint64
	store(p unsafe.Pointer, w width, v uint64, o MemoryOrder)
	fetchModify(p unsafe.Pointer, w width, op modify, operand uint64, o MemoryOrder) uint64
	compareExchange(p unsafe.Pointer, w width, exchange, comparand uint64, success, failure MemoryOrder) (uint64, bool)

	loadPointer(p *unsafe.Pointer, o MemoryOrder) unsafe.Pointer
	storePointer(p *unsafe.Pointer, v unsafe.Pointer, o MemoryOrder)
	swapPointer(p *unsafe.Pointer, v unsafe.Pointer, o MemoryOrder) unsafe.Pointer
	compareExchangePointer(p *unsafe.Pointer, exchange, comparand unsafe.Pointer, success, failure MemoryOrder) (unsafe.Pointer, bool)
}

// rmw is the single-width retry loop: load-linked, compute, store-conditional,
// and start over on a collision. The before fence precedes the first load and
// the after fence follows the committing store.
func rmw[T cell.Word](p *T, op modify, operand T, before, after Fence) T {
	issue(before)
	for {
		old, l := cell.LoadLinked(p)
		if cell.StoreConditional(p, l, apply(op, old, operand)) {
			issue(after)
			return old
		}
	}
}

// cmpxchg abandons the reservation and fails on a value mismatch. Only a store
// collision restarts the sequence.
func cmpxchg[T cell.Word](p *T, exchange, comparand T, before, afterSuccess, afterFailure Fence) (T, bool) {
	issue(before)
	for {
		old, l := cell.LoadLinked(p)
		if old != comparand {
			issue(afterFailure)
			return old, false
		}
		if cell.StoreConditional(p, l, exchange) {
			issue(afterSuccess)
			return old, true
		}
	}
}

// rmwByWidth instantiates rmw for the width of the cell.
func rmwByWidth(p unsafe.Pointer, w width, op modify, operand uint64, before, after Fence) uint64 {
	switch w {
	case w8:
		return uint64(rmw((*uint8)(p), op, uint8(operand), before, after))
	case w16:
		return uint64(rmw((*uint16)(p), op, uint16(operand), before, after))
	case w32:
		return uint64(rmw((*uint32)(p), op, uint32(operand), before, after))
	default:
		return rmw((*uint64)(p), op, operand, before, after)
	}
}

func cmpxchgByWidth(p unsafe.Pointer, w width, exchange, comparand uint64, before, afterSuccess, afterFailure Fence) (uint64, bool) {
	switch w {
	case w8:
		v, ok := cmpxchg((*uint8)(p), uint8(exchange), uint8(comparand), before, afterSuccess, afterFailure)
		return uint64(v), ok
	case w16:
		v, ok := cmpxchg((*uint16)(p), uint16(exchange), uint16(comparand), before, afterSuccess, afterFailure)
		return uint64(v), ok
	case w32:
		v, ok := cmpxchg((*uint32)(p), uint32(exchange), uint32(comparand), before, afterSuccess, afterFailure)
		return uint64(v), ok
	default:
		return cmpxchg((*uint64)(p), exchange, comparand, before, afterSuccess, afterFailure)
	}
}

func loadByWidth(p unsafe.Pointer, w width) uint64 {
	switch w {
	case w8:
		return uint64(cell.Load((*uint8)(p)))
	case w16:
		return uint64(cell.Load((*uint16)(p)))
	case w32:
		return uint64(cell.Load((*uint32)(p)))
	default:
		return cell.Load((*uint64)(p))
	}
}

func storeByWidth(p unsafe.Pointer, w width, v uint64) {
	switch w {
	case w8:
		cell.Store((*uint8)(p), uint8(v))
	case w16:
		cell.Store((*uint16)(p), uint16(v))
	case w32:
		cell.Store((*uint32)(p), uint32(v))
	default:
		cell.Store((*uint64)(p), v)
	}
}

// Backend returns the name of the backend compiled into this binary,
// "intrinsic" or "native".
func Backend() string {
	return active.name()
}

// CPUFeatures describes the host properties relevant to atomic operations.
type CPUFeatures struct {
	Arch        string `json:"arch"`
	PointerSize int    `json:"pointer_size"`
	BigEndian   bool   `json:"big_endian"`
	// HasCX16 reports CMPXCHG16B on x86-64.
	HasCX16 bool `json:"has_cx16"`
	// HasLSE reports the ARMv8.1 large system extension atomics on arm64.
	HasLSE bool `json:"has_lse"`
}

// Features reports the atomic-relevant features of the running CPU.
func Features() CPUFeatures {
	return CPUFeatures{
		Arch:        runtime.GOARCH,
		PointerSize: int(unsafe.Sizeof(uintptr(0))),
		BigEndian:   cpu.IsBigEndian,
		HasCX16:     cpu.X86.HasCX16,
		HasLSE:      cpu.ARM64.HasATOMICS,
	}
}
