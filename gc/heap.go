// Package gc implements a semi-space copying garbage collector on top of a
// WebAssembly linear memory. All references are 32-bit byte offsets into that
// memory; nothing here ever holds a Go pointer to an object.
//
// The memory is laid out as follows:
//
//	0                     stackBase  fromSpace            toSpace
//	|<-- root stack (1MiB) --->| gap |<----- half ------>|<----- half ------>|
//	                 <- stackTop
//
// The root stack (the "shadow stack") grows down from stackBase. Every slot in
// [stackTop, stackBase) is a root. The heap proper is split into two halves of
// equal size. New objects are bump allocated from the active half (fromSpace).
// When it runs out, all objects reachable from the roots are copied into the
// other half, the roles of the two halves are swapped, and allocation resumes
// right after the copied objects. Everything left behind is garbage and will
// be overwritten by the next collection.
//
// Every object starts with a header of two words: a forwarding offset (zero
// except while a collection is in progress) and the payload size in words. The
// collector sets the forwarding offset of an object before it copies any of
// its fields, so shared objects are copied once and cycles terminate.
//
// The host is responsible for rooting: every reference that must survive a
// call that may allocate has to be stored in a root slot before the call and
// read back from it afterwards, because the object may have moved. A reference
// held anywhere else (a Go variable, for example) becomes stale after a
// collection.
//
// A Heap is not safe for concurrent use.
//
// More information:
// C. J. Cheney, "A nonrecursive list compacting algorithm" (1970).
// "The Garbage Collection Handbook" by Richard Jones, Antony Hosking, Eliot
// Moss, chapter 4.
package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/exp/slog"
)

const (
	pageSize     = 65536
	mebibyte     = 1024 * 1024
	stackReserve = 1 * mebibyte

	// MaxSizeMB is the smallest heap size (in MiB) that New refuses.
	MaxSizeMB = 1024
)

// Config describes the heap to set up.
type Config struct {
	// SizeMB is the size of both halves together, in MiB. It must be between 1
	// and MaxSizeMB-1.
	SizeMB uint32

	// Logger receives debug output about collections. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Heap is a collected heap living in a linear memory.
type Heap struct {
	mem    api.Memory
	logger *slog.Logger

	heapSize uint32
	halfSize uint32

	stackBase uint32 // first byte above the root stack
	stackTop  uint32 // lowest root slot in use

	frames      []uint32 // ids of the pushed frames, innermost last
	lastFrameID uint32

	fromSpace uint32 // active half, receiving allocations
	toSpace   uint32 // inactive half, evacuation target
	nextFree  uint32 // bump pointer into fromSpace

	newFree   uint32      // evacuation cursor into toSpace, during a collection
	scanStack []scanEntry // objects with fields still to be copied, during a collection

	stats heapStats
}

// Layout describes where the parts of a heap currently are.
type Layout struct {
	HeapSize  uint32
	HalfSize  uint32
	StackBase uint32
	StackTop  uint32
	FromSpace uint32
	ToSpace   uint32
	NextFree  uint32
}

// New sets up a heap in mem. The memory is grown once, so that it can hold
// the root stack and both halves. Nothing else may use the memory below the
// end of the heap.
func New(mem api.Memory, cfg Config) (*Heap, error) {
	if cfg.SizeMB == 0 || cfg.SizeMB >= MaxSizeMB {
		return nil, errors.Wrapf(ErrInvalidConfiguration,
			"heap size of %d MiB is outside 1..%d MiB", cfg.SizeMB, MaxSizeMB-1)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	heapSize := cfg.SizeMB * mebibyte
	h := &Heap{
		mem:       mem,
		logger:    logger,
		heapSize:  heapSize,
		halfSize:  heapSize / 2,
		stackBase: stackReserve,
		stackTop:  stackReserve,
	}
	h.fromSpace = h.stackBase + wordSize
	h.toSpace = h.fromSpace + h.halfSize
	h.nextFree = h.fromSpace

	if err := growMemory(mem, h.toSpace+h.halfSize); err != nil {
		return nil, err
	}

	logger.Debug("gc: heap initialized",
		"size", heapSize,
		"half", h.halfSize,
		"stackBase", h.stackBase,
		"fromSpace", h.fromSpace,
		"toSpace", h.toSpace)
	return h, nil
}

// growMemory makes sure mem holds at least end bytes.
func growMemory(mem api.Memory, end uint32) error {
	size := mem.Size()
	if size >= end {
		return nil
	}
	pages := (end - size + pageSize - 1) / pageSize
	if _, ok := mem.Grow(pages); !ok {
		return errors.Wrapf(ErrInvalidConfiguration,
			"could not grow linear memory of %d bytes by %d pages", size, pages)
	}
	return nil
}

// Close destroys the heap. All frames must have been popped. The memory itself
// is owned by the caller and is left as it is.
func (h *Heap) Close() error {
	if h.stackTop != h.stackBase || len(h.frames) != 0 {
		return errors.AssertionFailedf("gc: heap closed with %d frames (%d root slots) still pushed",
			len(h.frames), (h.stackBase-h.stackTop)/wordSize)
	}
	h.mem = nil
	h.scanStack = nil
	return nil
}

// Layout returns the current layout of the heap.
func (h *Heap) Layout() Layout {
	return Layout{
		HeapSize:  h.heapSize,
		HalfSize:  h.halfSize,
		StackBase: h.stackBase,
		StackTop:  h.stackTop,
		FromSpace: h.fromSpace,
		ToSpace:   h.toSpace,
		NextFree:  h.nextFree,
	}
}

func (h *Heap) load(addr uint32) uint32 {
	v, ok := h.mem.ReadUint32Le(addr)
	if !ok {
		runtimePanic("load outside linear memory")
	}
	return v
}

func (h *Heap) store(addr, v uint32) {
	if !h.mem.WriteUint32Le(addr, v) {
		runtimePanic("store outside linear memory")
	}
}

func (h *Heap) forward(ptr uint32) uint32 {
	return h.load(ptr - forwardOffset)
}

func (h *Heap) setForward(ptr, to uint32) {
	h.store(ptr-forwardOffset, to)
}

func (h *Heap) wordsOf(ptr uint32) uint32 {
	return h.load(ptr - wordsOffset)
}

// writeHeader initializes the header of the object at ptr.
func (h *Heap) writeHeader(ptr, words uint32) {
	hdr := headerOf(ptr)
	h.store(hdr, 0)
	h.store(hdr+wordSize, words)
}
