package gc

import "github.com/cockroachdb/errors"

// A Frame is a run of root slots on the root stack, created by PushFrame and
// released by PopFrame. Frames must be popped in the reverse order in which
// they were pushed.
type Frame struct {
	base uint32
	n    uint32
	id   uint32 // unique per push
}

// Base returns the offset of the first slot of the frame.
func (f Frame) Base() uint32 {
	return f.base
}

// Len returns the number of slots in the frame.
func (f Frame) Len() uint32 {
	return f.n
}

// PushFrame reserves n root slots below the current top of the root stack.
// All slots start out as Nil.
func (h *Heap) PushFrame(n uint32) (Frame, error) {
	if n > h.stackTop/wordSize {
		return Frame{}, errors.Wrapf(ErrRootStackOverflow,
			"frame of %d slots does not fit, %d slots left", n, h.stackTop/wordSize)
	}
	h.stackTop -= n * wordSize
	for i := uint32(0); i < n; i++ {
		h.store(h.stackTop+i*wordSize, 0)
	}
	h.lastFrameID++
	h.frames = append(h.frames, h.lastFrameID)
	return Frame{base: h.stackTop, n: n, id: h.lastFrameID}, nil
}

// PopFrame releases the slots of f. The values in them stop being roots.
// f must be the most recently pushed frame that has not been popped yet.
func (h *Heap) PopFrame(f Frame) error {
	if len(h.frames) == 0 || h.frames[len(h.frames)-1] != f.id {
		return errors.Wrapf(ErrRootStackUnderflow,
			"frame at %#x is not the most recently pushed frame", f.base)
	}
	if f.base != h.stackTop {
		return errors.Wrapf(ErrRootStackUnderflow,
			"frame at %#x popped while the top of the root stack is %#x", f.base, h.stackTop)
	}
	if f.n > (h.stackBase-h.stackTop)/wordSize {
		return errors.Wrapf(ErrRootStackUnderflow,
			"popping %d slots with only %d pushed", f.n, (h.stackBase-h.stackTop)/wordSize)
	}
	h.stackTop += f.n * wordSize
	h.frames = h.frames[:len(h.frames)-1]
	return nil
}

// Root returns the value in slot i of f.
func (h *Heap) Root(f Frame, i uint32) Value {
	if i >= f.n {
		runtimePanic("root slot index out of range")
	}
	return Value{h.load(f.base + i*wordSize)}
}

// SetRoot stores v in slot i of f.
func (h *Heap) SetRoot(f Frame, i uint32, v Value) {
	if i >= f.n {
		runtimePanic("root slot index out of range")
	}
	h.store(f.base+i*wordSize, v.w)
}

// Roots calls fn for every root slot, from the top of the root stack (the most
// recently pushed slot) to its base.
func (h *Heap) Roots(fn func(slot uint32, v Value)) {
	for slot := h.stackTop; slot < h.stackBase; slot += wordSize {
		fn(slot, Value{h.load(slot)})
	}
}

// StackDepth returns the number of root slots currently pushed.
func (h *Heap) StackDepth() uint32 {
	return (h.stackBase - h.stackTop) / wordSize
}
