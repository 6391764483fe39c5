package litmus

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

// pairThreads is the thread count of the ordering tests.
const pairThreads = 2

// Test is one litmus test: a racy program and the property it checks.
type Test struct {
	Name        string
	Description string

	// forbidden reports whether a violation contradicts the order under test.
	forbidden func(o atomics.MemoryOrder) bool
	// pair marks tests that always run on pairThreads threads.
	pair bool
	run  func(t *trial) (outcome, error)
}

// Forbidden reports whether Test may not show violations under o.
func (t Test) Forbidden(o atomics.MemoryOrder) bool {
	return t.forbidden(o)
}

type trial struct {
	threads    int
	iterations int
	order      atomics.MemoryOrder
	parallel   func(n int, fn func(thread int)) error
}

type outcome struct {
	violations int
	detail     string
}

func violated(n int, format string, a ...interface{}) outcome {
	return outcome{violations: n, detail: fmt.Sprintf(format, a...)}
}

// cellOf places v at the start of its allocation, which is 8-byte aligned.
type cellOf[T any] struct {
	_ [0]uint64
	v T
}

func always(atomics.MemoryOrder) bool { return true }

// Catalog returns every known test in run order.
func Catalog() []Test {
	return []Test{
		incrementRace[uint8]("increment/8"),
		incrementRace[int16]("increment/16"),
		incrementRace[uint32]("increment/32"),
		incrementRace[int64]("increment/64"),
		incrementRace[uintptr]("increment/ptr"),
		exchangeRace(),
		compareExchangeRace(),
		bitwiseRace(),
		messagePassing(),
		storeBuffering(),
	}
}

// Lookup returns the named test.
func Lookup(name string) (Test, bool) {
	for _, t := range Catalog() {
		if t.Name == name {
			return t, true
		}
	}
	return Test{}, false
}

func incrementRace[T atomics.Integer](name string) Test {
	return Test{
		Name:        name,
		Description: fmt.Sprintf("%d-byte counter incremented, then decremented, by every thread", unsafe.Sizeof(T(0))),
		forbidden:   always,
		run: func(t *trial) (outcome, error) {
			c := new(cellOf[T])
			if err := t.parallel(t.threads, func(int) {
				for i := 0; i < t.iterations; i++ {
					atomics.Increment(&c.v, t.order)
				}
			}); err != nil {
				return outcome{}, err
			}
			want := T(uint64(t.threads * t.iterations))
			if got := atomics.Load(&c.v, atomics.SeqCst); got != want {
				return violated(1, "after increments got %v, want %v", got, want), nil
			}
			if err := t.parallel(t.threads, func(int) {
				for i := 0; i < t.iterations; i++ {
					atomics.Decrement(&c.v, t.order)
				}
			}); err != nil {
				return outcome{}, err
			}
			if got := atomics.Load(&c.v, atomics.SeqCst); got != 0 {
				return violated(1, "after decrements got %v, want 0", got), nil
			}
			return outcome{}, nil
		},
	}
}

// exchangeRace checks that every value swapped into a cell is swapped out
// exactly once.
func exchangeRace() Test {
	return Test{
		Name:        "exchange",
		Description: "tokens swapped through one cell are conserved",
		forbidden:   always,
		run: func(t *trial) (outcome, error) {
			c := new(cellOf[uint64])
			sums := make([]uint64, t.threads)
			if err := t.parallel(t.threads, func(k int) {
				for i := 0; i < t.iterations; i++ {
					token := uint64(k*t.iterations + i + 1)
					sums[k] += atomics.Exchange(&c.v, token, t.order)
				}
			}); err != nil {
				return outcome{}, err
			}
			n := uint64(t.threads * t.iterations)
			got := atomics.Load(&c.v, atomics.SeqCst)
			for _, s := range sums {
				got += s
			}
			if want := n * (n + 1) / 2; got != want {
				return violated(1, "tokens sum to %d, want %d", got, want), nil
			}
			return outcome{}, nil
		},
	}
}

// failureOrder is the strongest failure order that pairs with success.
func failureOrder(success atomics.MemoryOrder) atomics.MemoryOrder {
	switch success {
	case atomics.Release:
		return atomics.Relaxed
	case atomics.AcqRel:
		return atomics.Acquire
	default:
		return success
	}
}

// compareExchangeRace checks that each counter value is claimed by exactly
// one successful compare-exchange.
func compareExchangeRace() Test {
	return Test{
		Name:        "cmpxchg",
		Description: "each value of a CAS-incremented counter is won exactly once",
		forbidden:   always,
		run: func(t *trial) (outcome, error) {
			c := new(cellOf[uint64])
			claims := make([]uint32, t.threads*t.iterations)
			var dup uint32
			if err := t.parallel(t.threads, func(int) {
				for won := 0; won < t.iterations; {
					cur := atomics.Load(&c.v, atomics.Relaxed)
					if _, ok := atomics.CompareExchange(&c.v, cur+1, cur, t.order, failureOrder(t.order)); !ok {
						continue
					}
					if atomics.Exchange(&claims[cur], 1, atomics.Relaxed) != 0 {
						atomics.Increment(&dup, atomics.Relaxed)
					}
					won++
				}
			}); err != nil {
				return outcome{}, err
			}
			if d := atomics.Load(&dup, atomics.SeqCst); d != 0 {
				return violated(int(d), "%d values won twice", d), nil
			}
			if got, want := atomics.Load(&c.v, atomics.SeqCst), uint64(len(claims)); got != want {
				return violated(1, "counter at %d, want %d", got, want), nil
			}
			return outcome{}, nil
		},
	}
}

// bitwiseRace gives each thread a private bit of a shared word and cycles it
// through or, xor and and, checking the old value each time.
func bitwiseRace() Test {
	return Test{
		Name:        "bitwise",
		Description: "threads toggle private bits of one word with or, xor and and",
		forbidden:   always,
		run: func(t *trial) (outcome, error) {
			c := new(cellOf[uint64])
			var bad uint32
			if err := t.parallel(min(t.threads, 64), func(k int) {
				bit := uint64(1) << k
				for i := 0; i < t.iterations; i++ {
					if atomics.FetchOr(&c.v, bit, t.order)&bit != 0 {
						atomics.Increment(&bad, atomics.Relaxed)
					}
					if atomics.FetchXor(&c.v, bit, t.order)&bit == 0 {
						atomics.Increment(&bad, atomics.Relaxed)
					}
					if atomics.FetchXor(&c.v, bit, t.order)&bit != 0 {
						atomics.Increment(&bad, atomics.Relaxed)
					}
					if atomics.FetchAnd(&c.v, ^bit, t.order)&bit == 0 {
						atomics.Increment(&bad, atomics.Relaxed)
					}
				}
			}); err != nil {
				return outcome{}, err
			}
			if b := atomics.Load(&bad, atomics.SeqCst); b != 0 {
				return violated(int(b), "%d operations saw a foreign bit change", b), nil
			}
			if got := atomics.Load(&c.v, atomics.SeqCst); got != 0 {
				return violated(1, "word left at %#x", got), nil
			}
			return outcome{}, nil
		},
	}
}

// orderPair splits o into the store and load orders a producer and a consumer use.
func orderPair(o atomics.MemoryOrder) (store, load atomics.MemoryOrder) {
	switch o {
	case atomics.Relaxed:
		return atomics.Relaxed, atomics.Relaxed
	case atomics.Consume, atomics.Acquire:
		return atomics.Relaxed, o
	case atomics.Release:
		return atomics.Release, atomics.Relaxed
	case atomics.AcqRel:
		return atomics.Release, atomics.Acquire
	default:
		return atomics.SeqCst, atomics.SeqCst
	}
}

// messagePassing publishes a payload before a flag and checks that a reader
// seeing the flag also sees the payload.
func messagePassing() Test {
	return Test{
		Name:        "message-passing",
		Description: "a reader that sees the flag also sees the data stored before it",
		forbidden: func(o atomics.MemoryOrder) bool {
			return o == atomics.AcqRel || o == atomics.SeqCst
		},
		pair: true,
		run: func(t *trial) (outcome, error) {
			storeOrder, loadOrder := orderPair(t.order)
			data, flag := new(cellOf[uint64]), new(cellOf[uint64])
			n := uint64(t.iterations)
			var stale int
			err := t.parallel(pairThreads, func(k int) {
				if k == 0 {
					for i := uint64(1); i <= n; i++ {
						atomics.Store(&data.v, i, atomics.Relaxed)
						atomics.Store(&flag.v, i, storeOrder)
					}
					return
				}
				var last uint64
				for last < n {
					f := atomics.Load(&flag.v, loadOrder)
					if d := atomics.Load(&data.v, atomics.Relaxed); d < f {
						stale++
					}
					if f == last {
						runtime.Gosched()
					}
					last = f
				}
			})
			if err != nil {
				return outcome{}, err
			}
			if stale > 0 {
				return violated(stale, "%d reads saw the flag without its data", stale), nil
			}
			return outcome{}, nil
		},
	}
}

// storeBuffering runs the Dekker pattern: each thread stores its own flag and
// loads the other's. Both loads missing both stores is only excluded under
// sequential consistency.
func storeBuffering() Test {
	return Test{
		Name:        "store-buffering",
		Description: "two threads each store then load the other's cell; both reading 0 is forbidden under seq_cst",
		forbidden: func(o atomics.MemoryOrder) bool {
			return o == atomics.SeqCst
		},
		pair: true,
		run: func(t *trial) (outcome, error) {
			storeOrder, loadOrder := orderPair(t.order)
			n := t.iterations
			cells := [pairThreads][]uint32{make([]uint32, n), make([]uint32, n)}
			seen := [pairThreads][]uint32{make([]uint32, n), make([]uint32, n)}
			var arrived uint32
			err := t.parallel(pairThreads, func(k int) {
				mine, theirs := cells[k], cells[1-k]
				for round := 0; round < n; round++ {
					atomics.Increment(&arrived, atomics.SeqCst)
					for atomics.Load(&arrived, atomics.Acquire) < uint32(pairThreads*(round+1)) {
						runtime.Gosched()
					}
					atomics.Store(&mine[round], 1, storeOrder)
					seen[k][round] = atomics.Load(&theirs[round], loadOrder)
				}
			})
			if err != nil {
				return outcome{}, err
			}
			both := 0
			for round := 0; round < n; round++ {
				if seen[0][round] == 0 && seen[1][round] == 0 {
					both++
				}
			}
			if both > 0 {
				return violated(both, "%d of %d rounds had both threads read 0", both, n), nil
			}
			return outcome{}, nil
		},
	}
}
