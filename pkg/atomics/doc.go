// Package atomics performs read-modify-write, load and store operations on
// shared memory cells of 8, 16, 32, 64 bits and pointer width, each taking an
// explicit MemoryOrder.
//
// Every operation is generic over the cell's integer type and resolves to one of
// two backends chosen at build time:
//
//   - intrinsic: delegates to sync/atomic. Go's atomics are sequentially
//     consistent, which satisfies every weaker order requested.
//   - native: an exclusive load / conditional store retry loop with the fences
//     required by the order placed explicitly around the transaction.
//
// The native backend is the default on arm, mips and riscv64 targets. The build
// tags atomics_native and atomics_intrinsic force one or the other. Callers do not
// see the difference; Backend reports which one was compiled in.
//
// A cell is owned by the caller. It must be naturally aligned (64-bit cells
// included, on 32-bit platforms too) and accessed only through this package while
// it is shared. The package holds no state of its own, so every function is safe
// to call from any number of goroutines on the same cell.
//
// Example usage:
//
//	var refs int32 = 1
//	atomics.Increment(&refs, atomics.Relaxed)
//	if atomics.Decrement(&refs, atomics.AcqRel) == 0 {
//		release()
//	}
package atomics
