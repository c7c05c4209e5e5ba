// Package workload builds and transforms linked lists on a collected heap.
//
// It is an ordinary client of the gc package and shows the rooting protocol:
// every function keeps the references it still needs in root slots across
// each call that may allocate, and reads them back afterwards.
//
// A list is either gc.Nil or a cell of two words: the element and the rest
// of the list. The lists returned by this package are not rooted; the caller
// has to put them in a root slot before allocating again.
package workload

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/sigurn/crc16"

	"github.com/tinygo-org/copygc/gc"
)

const (
	headField = 0
	tailField = 1
	cellSize  = 2 * gc.WordSize
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// withFrame runs fn with a fresh frame of n root slots, and pops the frame
// afterwards even if fn fails.
func withFrame(h *gc.Heap, n uint32, fn func(f gc.Frame) (gc.Value, error)) (result gc.Value, err error) {
	f, err := h.PushFrame(n)
	if err != nil {
		return gc.Nil, err
	}
	result, err = fn(f)
	if perr := h.PopFrame(f); perr != nil && err == nil {
		err = perr
	}
	return result, err
}

// Cons returns a new cell holding x in front of tail.
func Cons(h *gc.Heap, x, tail gc.Value) (gc.Ref, error) {
	v, err := withFrame(h, 2, func(f gc.Frame) (gc.Value, error) {
		h.SetRoot(f, 0, x)
		h.SetRoot(f, 1, tail)
		cell, err := h.Allocate(cellSize)
		if err != nil {
			return gc.Nil, err
		}
		h.SetField(cell, headField, h.Root(f, 0))
		h.SetField(cell, tailField, h.Root(f, 1))
		return cell.Value(), nil
	})
	if err != nil {
		return gc.Ref{}, err
	}
	cell, _ := v.Ref()
	return cell, nil
}

// Iota returns the list 0, 1, ..., n-1.
func Iota(h *gc.Heap, n int32) (gc.Value, error) {
	return withFrame(h, 1, func(f gc.Frame) (gc.Value, error) {
		for i := n - 1; i >= 0; i-- {
			cell, err := Cons(h, gc.Int(i), h.Root(f, 0))
			if err != nil {
				return gc.Nil, errors.Wrapf(err, "workload: element %d of %d", i, n)
			}
			h.SetRoot(f, 0, cell.Value())
		}
		return h.Root(f, 0), nil
	})
}

// Reverse returns a new list with the elements of xs in reverse order. xs
// itself is left as it is.
func Reverse(h *gc.Heap, xs gc.Value) (gc.Value, error) {
	// slot 0: the rest of xs, slot 1: the reversed part
	return withFrame(h, 2, func(f gc.Frame) (gc.Value, error) {
		h.SetRoot(f, 0, xs)
		for !h.Root(f, 0).IsNil() {
			cell, err := cellOf(h.Root(f, 0))
			if err != nil {
				return gc.Nil, err
			}
			rev, err := Cons(h, h.Field(cell, headField), h.Root(f, 1))
			if err != nil {
				return gc.Nil, err
			}
			// The collection in Cons may have moved the cell.
			cell, _ = h.Root(f, 0).Ref()
			h.SetRoot(f, 0, h.Field(cell, tailField))
			h.SetRoot(f, 1, rev.Value())
		}
		return h.Root(f, 1), nil
	})
}

// MakeWork builds a list of elems elements and reverses it the given number of
// times, leaving every intermediate list behind as garbage.
func MakeWork(h *gc.Heap, elems, reverses int32) (gc.Value, error) {
	return withFrame(h, 1, func(f gc.Frame) (gc.Value, error) {
		list, err := Iota(h, elems)
		if err != nil {
			return gc.Nil, err
		}
		h.SetRoot(f, 0, list)
		for i := int32(0); i < reverses; i++ {
			list, err := Reverse(h, h.Root(f, 0))
			if err != nil {
				return gc.Nil, errors.Wrapf(err, "workload: reverse %d of %d", i+1, reverses)
			}
			h.SetRoot(f, 0, list)
		}
		return h.Root(f, 0), nil
	})
}

// Len returns the number of elements of xs. It does not allocate.
func Len(h *gc.Heap, xs gc.Value) (int, error) {
	n := 0
	for !xs.IsNil() {
		cell, err := cellOf(xs)
		if err != nil {
			return n, err
		}
		n++
		xs = h.Field(cell, tailField)
	}
	return n, nil
}

// Ints returns the elements of xs, which must all be immediates. It does not
// allocate.
func Ints(h *gc.Heap, xs gc.Value) ([]int32, error) {
	var ints []int32
	for !xs.IsNil() {
		cell, err := cellOf(xs)
		if err != nil {
			return ints, err
		}
		x := h.Field(cell, headField)
		if !x.IsImmediate() {
			return ints, errors.Newf("workload: element %d is %s, not an integer", len(ints), x)
		}
		ints = append(ints, x.Int())
		xs = h.Field(cell, tailField)
	}
	return ints, nil
}

// Checksum returns a CRC-16 of the elements of xs, in order. Lists with the
// same elements have the same checksum, wherever they live in the heap.
func Checksum(h *gc.Heap, xs gc.Value) (uint16, error) {
	ints, err := Ints(h, xs)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 0, 4*len(ints))
	for _, x := range ints {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(x))
	}
	return crc16.Checksum(buf, crcTable), nil
}

func cellOf(v gc.Value) (gc.Ref, error) {
	cell, ok := v.Ref()
	if !ok {
		return gc.Ref{}, errors.Newf("workload: %s is not a list cell", v)
	}
	return cell, nil
}
