package gc

import "github.com/cockroachdb/errors"

// Allocate returns a new object with room for at least size bytes of payload.
// The payload is rounded up to whole words (at least one word) and zeroed.
//
// Allocate may run a collection first. Every reference the caller still needs
// afterwards must be in a root slot before the call, and must be read back
// from that slot after it.
//
// If the object cannot fit in a half-space even after a collection,
// ErrOutOfMemory is returned and no object is allocated.
func (h *Heap) Allocate(size uint32) (Ref, error) {
	if size > h.halfSize-headerSize {
		// Also guards the rounding below against overflow.
		h.logger.Debug("gc: allocation larger than half-space", "size", size, "half", h.halfSize)
		return Ref{}, errors.Wrapf(ErrOutOfMemory,
			"allocation of %d bytes does not fit in a half-space of %d bytes", size, h.halfSize)
	}
	aligned := (size + alignMask) &^ alignMask
	if aligned < alignSize {
		aligned = alignSize
	}
	roomFor := aligned + headerSize

	h.maybeCollect(roomFor)
	if h.nextFree+roomFor > h.fromSpace+h.halfSize {
		live := h.nextFree - h.fromSpace
		h.logger.Debug("gc: out of memory after collection", "size", size, "live", live, "half", h.halfSize)
		return Ref{}, errors.Wrapf(ErrOutOfMemory,
			"allocation of %d bytes does not fit next to %d live bytes in a half-space of %d bytes",
			size, live, h.halfSize)
	}

	ptr := h.nextFree + headerSize
	words := aligned / wordSize
	h.writeHeader(ptr, words)
	for i := uint32(0); i < words; i++ {
		h.store(ptr+i*wordSize, 0)
	}
	h.nextFree = ptr + aligned

	h.stats.mallocs++
	h.stats.liveObjects++
	h.stats.totalAlloc += uint64(aligned)
	return Ref{ptr}, nil
}

// freshAlloc reserves an object of size bytes in the half that is being
// evacuated into. It never collects and does not write the header: the
// collector writes it once all fields have been copied.
func (h *Heap) freshAlloc(size uint32) uint32 {
	ptr := h.newFree + headerSize
	h.newFree = ptr + size
	return ptr
}

// Field returns word i of the payload of r. The index is not checked.
func (h *Heap) Field(r Ref, i uint32) Value {
	return Value{h.load(r.off + i*wordSize)}
}

// SetField stores v in word i of the payload of r. The index is not checked.
// There is no write barrier: any object may point at any other.
func (h *Heap) SetField(r Ref, i uint32, v Value) {
	h.store(r.off+i*wordSize, v.w)
}

// Words returns the payload size of r in words, as recorded in its header.
func (h *Heap) Words(r Ref) uint32 {
	return h.wordsOf(r.off)
}
