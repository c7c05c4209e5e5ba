package gc

import "time"

// scanEntry is an object that has been evacuated but whose fields have not
// all been copied yet.
type scanEntry struct {
	from  uint32 // payload of the original
	to    uint32 // payload of the copy
	next  uint32 // index of the next field to copy
	words uint32
}

// maybeCollect runs a collection unless there are at least roomFor bytes left
// in the active half.
func (h *Heap) maybeCollect(roomFor uint32) {
	if h.nextFree+roomFor < h.fromSpace+h.halfSize {
		return
	}
	h.collect()
}

// GC performs a collection cycle, regardless of how much room is left.
func (h *Heap) GC() {
	h.collect()
}

// collect copies everything reachable from the root stack into the inactive
// half and makes that half the active one.
func (h *Heap) collect() {
	start := time.Now()
	used := h.nextFree - h.fromSpace
	before := h.stats.liveObjects

	h.newFree = h.toSpace
	h.stats.liveObjects = 0
	h.scanShadowStack()

	h.fromSpace, h.toSpace = h.toSpace, h.fromSpace
	h.nextFree = h.newFree

	live := h.nextFree - h.fromSpace
	h.stats.recordCycle(start, time.Now(), before-h.stats.liveObjects, uint64(live))
	h.logger.Debug("gc: collection",
		"cycle", h.stats.numGC,
		"used", used,
		"live", live,
		"freed", used-live,
		"objects", h.stats.liveObjects,
		"roots", h.StackDepth(),
		"pause", h.stats.lastPause())
}

// scanShadowStack replaces every root by its evacuated copy.
func (h *Heap) scanShadowStack() {
	for slot := h.stackTop; slot < h.stackBase; slot += wordSize {
		h.store(slot, h.copy(h.load(slot)))
	}
}

// copy returns the location of v after evacuation. Immediates and nil are
// returned as they are. An object that has not been evacuated yet is copied
// to the inactive half together with everything reachable from it.
//
// Objects are copied depth first, in the same order a recursive copy would
// visit them, but the pending objects are kept on an explicit stack so that
// long chains don't need a deep Go stack.
func (h *Heap) copy(v uint32) uint32 {
	if !isRef(v) {
		return v
	}
	if fwd := h.forward(v); fwd != 0 {
		return fwd
	}
	to := h.evacuate(v)

	for len(h.scanStack) != 0 {
		top := &h.scanStack[len(h.scanStack)-1]
		if top.next == top.words {
			// All fields copied. The header of the copy has forward set to 0,
			// ready for the next cycle.
			h.writeHeader(top.to, top.words)
			h.scanStack = h.scanStack[:len(h.scanStack)-1]
			continue
		}
		i := top.next
		top.next++
		field := top.to + i*wordSize
		x := h.load(top.from + i*wordSize)

		if isRef(x) {
			fwd := h.forward(x)
			if fwd == 0 {
				// May grow scanStack, so top must not be used after this.
				fwd = h.evacuate(x)
			}
			x = fwd
		}
		h.store(field, x)
	}
	return to
}

// evacuate reserves a copy of the object at ptr in the inactive half, marks
// the original as forwarded to it and schedules its fields for copying. The
// forwarding offset is set before any field is looked at, so a reference back
// to this object (directly or through a cycle) resolves to the copy.
func (h *Heap) evacuate(ptr uint32) uint32 {
	words := h.wordsOf(ptr)
	to := h.freshAlloc(words * wordSize)
	h.setForward(ptr, to)
	h.scanStack = append(h.scanStack, scanEntry{from: ptr, to: to, words: words})
	h.stats.liveObjects++
	return to
}
