// Package wasmmem provides a standalone WebAssembly linear memory, for hosts
// that want a collected heap without loading a module of their own.
package wasmmem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// PageSize is the size in bytes of one linear memory page.
const PageSize = 65536

// MaxPages is the number of pages addressable with 32-bit offsets.
const MaxPages = 65536

// memoryModule is the smallest module that exports a memory: no functions, a
// single memory with zero initial pages and no declared maximum.
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version 1

	// memory section: 1 memory, limits {min: 0}
	0x05, 0x03, 0x01, 0x00, 0x00,

	// export section: "memory" -> memory 0
	0x07, 0x0a, 0x01,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y',
	0x02, 0x00,
}

// Memory is a linear memory owned by a private wazero runtime. It implements
// api.Memory, so it can be handed to anything that works on module memories.
type Memory struct {
	api.Memory

	runtime wazero.Runtime
}

// New starts a runtime and instantiates an empty memory in it. The memory
// starts with zero pages and may later grow to at most limitPages pages (or
// MaxPages if limitPages is 0).
func New(ctx context.Context, limitPages uint32) (*Memory, error) {
	if limitPages == 0 || limitPages > MaxPages {
		limitPages = MaxPages
	}
	config := wazero.NewRuntimeConfigInterpreter().WithMemoryLimitPages(limitPages)
	r := wazero.NewRuntimeWithConfig(ctx, config)

	mod, err := r.Instantiate(ctx, memoryModule)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Wrap(err, "wasmmem: instantiate memory module")
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		r.Close(ctx)
		return nil, errors.New("wasmmem: memory module has no exported memory")
	}
	return &Memory{Memory: mem, runtime: r}, nil
}

// Pages returns the current size of the memory in pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / PageSize
}

// Close releases the runtime and with it the memory. The memory must not be
// used afterwards.
func (m *Memory) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}
