package gc

import "time"

// pauseHistory is the number of recent pauses that are remembered.
const pauseHistory = 256

type heapStats struct {
	mallocs     uint64 // total number of allocations
	frees       uint64 // objects left behind by collections
	totalAlloc  uint64 // total number of bytes allocated, rounded to words
	liveObjects uint64 // objects in the active half, garbage included
	liveAfterGC uint64 // bytes surviving the last collection

	numGC      uint32
	lastGC     time.Time
	pauseTotal time.Duration
	pauses     [pauseHistory]time.Duration // circular buffer, indexed by numGC
	pauseEnds  [pauseHistory]time.Time
}

func (s *heapStats) recordCycle(start, end time.Time, freed, live uint64) {
	pause := end.Sub(start)
	s.pauses[s.numGC%pauseHistory] = pause
	s.pauseEnds[s.numGC%pauseHistory] = end
	s.numGC++
	s.lastGC = end
	s.pauseTotal += pause
	s.frees += freed
	s.liveAfterGC = live
}

func (s *heapStats) lastPause() time.Duration {
	if s.numGC == 0 {
		return 0
	}
	return s.pauses[(s.numGC-1)%pauseHistory]
}

// MemStats records statistics about a heap.
type MemStats struct {
	// Sys is the number of bytes of linear memory reserved for the root stack
	// and both halves.
	Sys uint64

	// HeapSys is the size of one half-space, the most that can be live.
	HeapSys uint64

	// HeapAlloc is the number of bytes used in the active half, including
	// headers and objects that became unreachable since the last collection.
	HeapAlloc uint64

	// HeapIdle is the number of bytes still free in the active half.
	HeapIdle uint64

	// HeapObjects is the number of objects in the active half.
	HeapObjects uint64

	// HeapLive is the number of bytes that survived the last collection.
	HeapLive uint64

	// StackInuse is the number of bytes of root slots currently pushed.
	StackInuse uint64

	// Mallocs is the cumulative number of objects allocated, and Frees the
	// cumulative number of objects reclaimed by collections.
	Mallocs uint64
	Frees   uint64

	// TotalAlloc is the cumulative number of payload bytes allocated.
	TotalAlloc uint64

	// NumGC is the number of completed collections.
	NumGC uint32

	// LastGC is the time the last collection finished.
	LastGC time.Time

	// PauseTotal is the cumulative time spent collecting.
	PauseTotal time.Duration

	// PauseNs holds recent pause times. The most recent pause is at
	// PauseNs[(NumGC+255)%256].
	PauseNs [pauseHistory]uint64

	// PauseEnd holds the end times of the same pauses.
	PauseEnd [pauseHistory]time.Time
}

// ReadMemStats populates m with statistics about h.
func (h *Heap) ReadMemStats(m *MemStats) {
	m.Sys = uint64(h.stackBase) + wordSize + uint64(h.heapSize)
	m.HeapSys = uint64(h.halfSize)
	m.HeapAlloc = uint64(h.nextFree - h.fromSpace)
	m.HeapIdle = m.HeapSys - m.HeapAlloc
	m.HeapObjects = h.stats.liveObjects
	m.HeapLive = h.stats.liveAfterGC
	m.StackInuse = uint64(h.stackBase - h.stackTop)
	m.Mallocs = h.stats.mallocs
	m.Frees = h.stats.frees
	m.TotalAlloc = h.stats.totalAlloc
	m.NumGC = h.stats.numGC
	m.LastGC = h.stats.lastGC
	m.PauseTotal = h.stats.pauseTotal
	for i, p := range h.stats.pauses {
		m.PauseNs[i] = uint64(p)
	}
	m.PauseEnd = h.stats.pauseEnds
}

// Walk calls fn for every object in the active half, in address order, until
// fn returns false. Objects that are no longer reachable are visited too, up
// to the next collection.
func (h *Heap) Walk(fn func(r Ref, words uint32) bool) {
	for hdr := h.fromSpace; hdr < h.nextFree; {
		ptr := hdr + headerSize
		words := h.wordsOf(ptr)
		if !fn(Ref{ptr}, words) {
			return
		}
		end := uint64(ptr) + uint64(words)*wordSize
		if end > uint64(h.nextFree) {
			// Corrupt header. There is no way to find the next object.
			return
		}
		hdr = uint32(end)
	}
}

// Forwarded returns the forwarding offset stored in the header of r. It is
// zero for every object in the active half outside of a collection.
func (h *Heap) Forwarded(r Ref) uint32 {
	return h.forward(r.off)
}
