package cell

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestLoadStoreEveryWidth(t *testing.T) {
	var w struct {
		_   [0]uint64
		b   [4]uint8
		h   [2]uint16
		u32 uint32
		u64 uint64
	}
	Store(&w.b[2], 0xab)
	Store(&w.h[1], 0xbeef)
	Store(&w.u32, 0xdeadbeef)
	Store(&w.u64, 0x0123456789abcdef)

	assert.Equal(t, uint8(0xab), Load(&w.b[2]))
	assert.Equal(t, uint8(0), Load(&w.b[1]))
	assert.Equal(t, uint8(0), Load(&w.b[3]))
	assert.Equal(t, uint16(0xbeef), Load(&w.h[1]))
	assert.Equal(t, uint16(0), Load(&w.h[0]))
	assert.Equal(t, uint32(0xdeadbeef), Load(&w.u32))
	assert.Equal(t, uint64(0x0123456789abcdef), Load(&w.u64))
	assert.Equal(t, [4]uint8{0, 0, 0xab, 0}, w.b)
}

func TestStoreConditionalDetectsCollision(t *testing.T) {
	var w struct {
		_ [0]uint32
		b [4]uint8
	}
	v, l := LoadLinked(&w.b[0])
	assert.Equal(t, uint8(0), v)

	// a write to a neighbour invalidates the reservation on the shared word
	Store(&w.b[1], 7)
	assert.False(t, StoreConditional(&w.b[0], l, 1))

	_, l = LoadLinked(&w.b[0])
	assert.True(t, StoreConditional(&w.b[0], l, 1))
	assert.Equal(t, [4]uint8{1, 7, 0, 0}, w.b)
}

func TestLane(t *testing.T) {
	var w struct {
		_ [0]uint32
		b [4]uint8
	}
	for i := range w.b {
		word, shift, mask := Lane(unsafe.Pointer(&w.b[i]), 1)
		assert.Equal(t, unsafe.Pointer(&w.b[0]), unsafe.Pointer(word))
		assert.Equal(t, uint32(0xff)<<shift, mask)
	}
	assert.True(t, Aligned(unsafe.Pointer(&w.b[0]), 4))
	assert.False(t, Aligned(unsafe.Pointer(&w.b[1]), 2))
}

func TestAdjacentBytesIncrementIndependently(t *testing.T) {
	const iterations = 2000
	var w struct {
		_ [0]uint32
		b [4]uint8
	}
	var wg sync.WaitGroup
	for i := range w.b {
		wg.Add(1)
		go func(p *uint8) {
			defer wg.Done()
			for n := 0; n < iterations; n++ {
				for {
					v, l := LoadLinked(p)
					if StoreConditional(p, l, v+1) {
						break
					}
				}
			}
		}(&w.b[i])
	}
	wg.Wait()
	for i := range w.b {
		assert.Equal(t, uint8(iterations%256), Load(&w.b[i]))
	}
}
