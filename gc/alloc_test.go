package gc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAlignment(t *testing.T) {
	h := newTestHeap(t, 1)
	for _, n := range []uint32{0, 1, 2, 3, 4, 5, 7, 8, 9, 15, 16, 17, 100, 1023} {
		r, err := h.Allocate(n)
		require.NoError(t, err)

		if r.Offset()%WordSize != 0 {
			t.Errorf("Allocate(%d) returned unaligned offset %#x", n, r.Offset())
		}
		want := (n + 3) / 4
		if want == 0 {
			want = 1
		}
		if words := h.Words(r); words != want {
			t.Errorf("Allocate(%d) recorded %d words, want %d", n, words, want)
		}
		if fwd := h.Forwarded(r); fwd != 0 {
			t.Errorf("Allocate(%d) left forward = %#x, want 0", n, fwd)
		}
	}
}

func TestAllocateTwoObjects(t *testing.T) {
	h := newTestHeap(t, 1)
	a, err := h.Allocate(8)
	require.NoError(t, err)
	b, err := h.Allocate(8)
	require.NoError(t, err)

	assert.Zero(t, a.Offset()%WordSize)
	assert.Zero(t, b.Offset()%WordSize)
	assert.GreaterOrEqual(t, b.Offset()-a.Offset(), uint32(8+HeaderSize))
	assert.Equal(t, h.Layout().FromSpace+HeaderSize, a.Offset())
}

func TestAllocateZeroesPayload(t *testing.T) {
	h := newTestHeap(t, 1)
	a, err := h.Allocate(8)
	require.NoError(t, err)
	h.SetField(a, 0, Int(5))
	h.SetField(a, 1, Int(6))

	// Two collections without roots bring allocation back to where a was.
	h.GC()
	h.GC()
	b, err := h.Allocate(8)
	require.NoError(t, err)
	require.Equal(t, a.Offset(), b.Offset())
	assert.Equal(t, Nil, h.Field(b, 0))
	assert.Equal(t, Nil, h.Field(b, 1))
}

func TestAllocateFieldAccess(t *testing.T) {
	h := newTestHeap(t, 1)
	a, err := h.Allocate(3 * WordSize)
	require.NoError(t, err)
	b, err := h.Allocate(WordSize)
	require.NoError(t, err)

	h.SetField(a, 0, Int(-7))
	h.SetField(a, 1, b.Value())
	assert.Equal(t, Int(-7), h.Field(a, 0))
	assert.Equal(t, b.Value(), h.Field(a, 1))
	assert.Equal(t, Nil, h.Field(a, 2))
	assert.Equal(t, uint32(3), h.Words(a))
}

func TestAllocateLargerThanHalfSpace(t *testing.T) {
	h := newTestHeap(t, 1)
	before := h.Layout()

	for _, n := range []uint32{before.HalfSize, before.HalfSize - HeaderSize + 1, ^uint32(0)} {
		_, err := h.Allocate(n)
		assert.Truef(t, errors.Is(err, ErrOutOfMemory), "Allocate(%d) returned %v, want ErrOutOfMemory", n, err)
	}

	var m MemStats
	h.ReadMemStats(&m)
	assert.Equal(t, before, h.Layout(), "failed allocation changed the heap")
	assert.Zero(t, m.NumGC)
	assert.Zero(t, m.Mallocs)
}

func TestAllocateWholeHalfSpace(t *testing.T) {
	h := newTestHeap(t, 1)
	r, err := h.Allocate(h.Layout().HalfSize - HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, h.Layout().FromSpace+h.Layout().HalfSize, h.Layout().NextFree)
	assert.Equal(t, h.Layout().FromSpace+HeaderSize, r.Offset())
}

func TestAllocateOutOfMemoryAfterCollection(t *testing.T) {
	h := newTestHeap(t, 1)
	f, err := h.PushFrame(1)
	require.NoError(t, err)

	var n int32
	for ; n < 100000; n++ {
		cell, err := cons(h, Int(n), h.Root(f, 0))
		if err != nil {
			require.True(t, errors.Is(err, ErrOutOfMemory), "cons returned %v, want ErrOutOfMemory", err)
			break
		}
		h.SetRoot(f, 0, cell.Value())
	}
	require.Less(t, n, int32(100000), "a 1 MiB heap never ran out of memory")
	require.Greater(t, n, int32(1000))

	// The live list survived all collections, including the failing one.
	ints := listInts(h, h.Root(f, 0))
	require.Len(t, ints, int(n))
	for i, x := range ints {
		if x != n-1-int32(i) {
			t.Fatalf("element %d is %d, want %d", i, x, n-1-int32(i))
		}
	}
	require.NoError(t, h.PopFrame(f))

	// Once the list is dropped there is room again.
	_, err = h.Allocate(16)
	assert.NoError(t, err)
}

func TestAllocateWithoutCollection(t *testing.T) {
	h := newTestHeap(t, 1)
	for i := 0; i < 1000; i++ {
		_, err := h.Allocate(8)
		require.NoError(t, err)
	}
	var m MemStats
	h.ReadMemStats(&m)
	assert.Zero(t, m.NumGC)
	assert.Equal(t, uint64(1000), m.Mallocs)
	assert.Equal(t, uint64(8000), m.TotalAlloc)
	assert.Equal(t, uint64(16000), m.HeapAlloc)
	assert.Equal(t, uint64(1000), m.HeapObjects)
}
