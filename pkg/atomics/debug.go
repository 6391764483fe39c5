package atomics

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/srediag/shm-atomics/internal/cell"
)

// EnvDebugMode enables precondition checks when set to any non-empty value.
const EnvDebugMode = "SHMATOMICS_DEBUG_MODE"

var debugMode atomic.Bool

func init() {
	if os.Getenv(EnvDebugMode) != "" {
		debugMode.Store(true)
	}
}

// SetDebugMode turns precondition checks on or off. With checks on, a nil or
// misaligned cell and an order that is meaningless for a load or store panic
// instead of proceeding.
func SetDebugMode(on bool) {
	debugMode.Store(on)
}

// DebugMode reports whether precondition checks are on.
func DebugMode() bool {
	return debugMode.Load()
}

func checkCell(p unsafe.Pointer, size uintptr) {
	if !debugMode.Load() {
		return
	}
	if p == nil {
		panic("atomics: nil cell")
	}
	if !cell.Aligned(p, size) {
		panic(fmt.Sprintf("atomics: %d-byte cell at %#x is misaligned", size, uintptr(p)))
	}
}

func checkLoadOrder(o MemoryOrder) {
	o.check()
	if debugMode.Load() && !o.ValidForLoad() {
		panic("atomics: " + o.String() + " is not a load order")
	}
}

func checkStoreOrder(o MemoryOrder) {
	o.check()
	if debugMode.Load() && !o.ValidForStore() {
		panic("atomics: " + o.String() + " is not a store order")
	}
}
