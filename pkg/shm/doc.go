// Package shm lays out atomic cells in a named shared memory segment so that
// several processes can count, flag and hand off through them.
//
// The creator initialises a small header and publishes it with a release store
// of the magic word; openers wait for the magic with acquire loads before
// touching anything else. Cells are reserved with a lock-free bump allocator
// whose cursor lives in the header, and are addressed by offset so every process
// can find them in its own mapping.
//
// This package is instrumented with OpenTelemetry metrics and tracing (OTel Go SDK v1.30.0).
//
// Example usage:
//
//	seg, err := shm.Open(ctx, shm.OpenOptions{Name: "counters", Size: 4096, Create: true})
//	// ...
//	off, err := seg.Alloc(8)
//	hits, err := seg.Uint64(off)
//	atomics.Increment(hits, atomics.Relaxed)
package shm
