package gc

import "fmt"

// A Value is one word as stored in a root slot or an object field. The lowest
// bit distinguishes the two kinds of values:
//
//	xxxx_xxxx_xxxx_xxx1   immediate integer, stored in the upper 31 bits
//	pppp_pppp_pppp_ppp0   offset of an object payload (or 0 for nil)
//
// Immediates are never dereferenced and never moved. Offsets are rewritten by
// the collector when the object they point to is evacuated.
type Value struct {
	w uint32
}

// Nil is the empty value. It is never a valid object offset.
var Nil Value

// Int returns the immediate value for n. Only the lower 31 bits of n are kept.
func Int(n int32) Value {
	return Value{uint32(n)<<1 | 1}
}

// IsImmediate returns whether v is an unboxed integer.
func (v Value) IsImmediate() bool {
	return isImmediate(v.w)
}

// IsRef returns whether v refers to a heap object.
func (v Value) IsRef() bool {
	return isRef(v.w)
}

// IsNil returns whether v is the nil value.
func (v Value) IsNil() bool {
	return v.w == 0
}

// Int returns the integer carried by an immediate value. The result is
// meaningless if v is not immediate.
func (v Value) Int() int32 {
	return int32(v.w) >> 1
}

// Ref returns the object v refers to, if any.
func (v Value) Ref() (Ref, bool) {
	if !v.IsRef() {
		return Ref{}, false
	}
	return Ref{v.w}, true
}

// Word returns the raw tagged word as it is stored in memory.
func (v Value) Word() uint32 {
	return v.w
}

func (v Value) String() string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsImmediate():
		return fmt.Sprintf("int(%d)", v.Int())
	default:
		return fmt.Sprintf("ref(%#x)", v.w)
	}
}

// A Ref is a handle to the payload of a heap object. Refs are only produced by
// the heap (by Allocate or by reading a reference out of a slot or field);
// they become stale after a collection unless they were re-read from a root.
// The zero Ref is nil.
type Ref struct {
	off uint32
}

// Value returns r as a tagged value, ready to be stored in a slot or field.
func (r Ref) Value() Value {
	return Value{r.off}
}

// Offset returns the byte offset of the payload in linear memory.
func (r Ref) Offset() uint32 {
	return r.off
}

// IsNil returns whether r is the nil handle.
func (r Ref) IsNil() bool {
	return r.off == 0
}

func isImmediate(w uint32) bool {
	return w&1 == 1
}

func isRef(w uint32) bool {
	return w != 0 && w&1 == 0
}

// The object header lives immediately before the payload.
//
//	ptr-8: forward  0, or the new payload offset once evacuated
//	ptr-4: words    payload size in words
const (
	wordSize   = 4
	alignSize  = wordSize
	alignMask  = alignSize - 1
	headerSize = (2*wordSize + alignMask) &^ alignMask

	forwardOffset = headerSize
	wordsOffset   = headerSize - wordSize
)

// HeaderSize is the number of bytes every object occupies before its payload.
const HeaderSize = headerSize

// WordSize is the size in bytes of a slot or field.
const WordSize = wordSize

// headerOf returns the offset of the header belonging to the payload at ptr.
func headerOf(ptr uint32) uint32 {
	return ptr - headerSize
}
