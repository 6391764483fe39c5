package atomics_test

import (
	"fmt"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

func ExampleCompareExchange() {
	var owner int32
	old, ok := atomics.CompareExchange(&owner, 7, 0, atomics.AcqRel, atomics.Acquire)
	fmt.Println(old, ok)
	old, ok = atomics.CompareExchange(&owner, 9, 0, atomics.AcqRel, atomics.Acquire)
	fmt.Println(old, ok)
	// Output:
	// 0 true
	// 7 false
}

func ExampleIncrement() {
	var hits uint8 = 254
	fmt.Println(atomics.Increment(&hits, atomics.Relaxed))
	fmt.Println(atomics.Increment(&hits, atomics.Relaxed))
	fmt.Println(atomics.FetchAdd(&hits, 10, atomics.Relaxed), atomics.Load(&hits, atomics.Acquire))
	// Output:
	// 255
	// 0
	// 0 10
}

func ExampleStore() {
	type config struct{ name string }
	var (
		current *config
		ready   uint32
	)
	atomics.StorePointer(&current, &config{name: "primary"}, atomics.Relaxed)
	atomics.Store(&ready, 1, atomics.Release)
	if atomics.Load(&ready, atomics.Acquire) == 1 {
		fmt.Println(atomics.LoadPointer(&current, atomics.Relaxed).name)
	}
	// Output: primary
}
