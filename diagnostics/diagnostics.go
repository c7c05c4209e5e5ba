// Package diagnostics checks a heap for broken invariants and prints what it
// finds in a consistent way.
package diagnostics

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/tinygo-org/copygc/gc"
)

// A single diagnostic.
type Diagnostic struct {
	// Offset in linear memory the problem was found at: a root slot, an object
	// payload, or 0 for problems with the layout as a whole.
	Offset uint32
	Msg    string
}

// All diagnostics found in a heap, sorted by offset.
type HeapDiagnostic []Diagnostic

// Verify checks the layout of h, the header of every object in its active
// half, and that every root and every reference field points at the payload
// of an object in the active half. It must not be called during a collection.
//
// A reference into anything other than the active half usually means that the
// host kept a reference in an unrooted place across an allocation.
func Verify(h *gc.Heap) HeapDiagnostic {
	var diags HeapDiagnostic
	report := func(offset uint32, format string, args ...interface{}) {
		diags = append(diags, Diagnostic{Offset: offset, Msg: fmt.Sprintf(format, args...)})
	}

	l := h.Layout()
	verifyLayout(l, report)

	// First pass: find all objects, so that references can be checked.
	objects := make(map[uint32]uint32)
	h.Walk(func(r gc.Ref, words uint32) bool {
		objects[r.Offset()] = words
		end := uint64(r.Offset()) + uint64(words)*gc.WordSize
		switch {
		case words == 0:
			report(r.Offset(), "object has an empty payload")
		case end > uint64(l.NextFree):
			report(r.Offset(), "object of %d words extends past the allocation pointer %#x", words, l.NextFree)
		}
		if fwd := h.Forwarded(r); fwd != 0 {
			report(r.Offset(), "object is forwarded to %#x outside of a collection", fwd)
		}
		return true
	})

	// Second pass: check references.
	h.Walk(func(r gc.Ref, words uint32) bool {
		end := uint64(r.Offset()) + uint64(words)*gc.WordSize
		if end > uint64(l.NextFree) {
			return false
		}
		for i := uint32(0); i < words; i++ {
			v := h.Field(r, i)
			if v.IsRef() {
				if _, ok := objects[v.Word()]; !ok {
					report(r.Offset(), "field %d refers to %#x, which is not an object in the active half", i, v.Word())
				}
			}
		}
		return true
	})

	h.Roots(func(slot uint32, v gc.Value) {
		if v.IsRef() {
			if _, ok := objects[v.Word()]; !ok {
				report(slot, "root refers to %#x, which is not an object in the active half", v.Word())
			}
		}
	})

	sort.SliceStable(diags, func(i, j int) bool {
		return diags[i].Offset < diags[j].Offset
	})
	return diags
}

func verifyLayout(l gc.Layout, report func(offset uint32, format string, args ...interface{})) {
	start := l.StackBase + gc.WordSize
	if l.FromSpace == l.ToSpace {
		report(0, "both halves start at %#x", l.FromSpace)
	}
	for _, half := range []uint32{l.FromSpace, l.ToSpace} {
		if half != start && half != start+l.HalfSize {
			report(0, "half at %#x is not one of the two halves of [%#x, %#x)", half, start, start+l.HeapSize)
		}
	}
	if l.NextFree < l.FromSpace || l.NextFree > l.FromSpace+l.HalfSize {
		report(0, "allocation pointer %#x is outside the active half [%#x, %#x]", l.NextFree, l.FromSpace, l.FromSpace+l.HalfSize)
	}
	if l.StackTop > l.StackBase || l.StackTop%gc.WordSize != 0 {
		report(0, "root stack top %#x is misplaced (base %#x)", l.StackTop, l.StackBase)
	}
}

// Write heap diagnostics to the given writer, one per line. It returns the
// number of bytes written.
func (diags HeapDiagnostic) WriteTo(w io.Writer) (int64, error) {
	buf := &bytes.Buffer{}
	for _, diag := range diags {
		diag.format(buf)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func (diag Diagnostic) format(buf *bytes.Buffer) {
	if diag.Offset == 0 {
		fmt.Fprintln(buf, "heap:", diag.Msg)
		return
	}
	fmt.Fprintf(buf, "%#x: %s\n", diag.Offset, diag.Msg)
}

// String returns all diagnostics, one per line.
func (diags HeapDiagnostic) String() string {
	buf := &bytes.Buffer{}
	diags.WriteTo(buf)
	return buf.String()
}
