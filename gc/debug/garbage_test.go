package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tinygo-org/copygc/gc"
	"github.com/tinygo-org/copygc/wasmmem"
)

func newHeap(t *testing.T) *gc.Heap {
	t.Helper()
	ctx := context.Background()
	mem, err := wasmmem.New(ctx, 0)
	if err != nil {
		t.Fatalf("wasmmem.New returned %s", err)
	}
	t.Cleanup(func() { mem.Close(ctx) })
	h, err := gc.New(mem, gc.Config{SizeMB: 1})
	if err != nil {
		t.Fatalf("gc.New returned %s", err)
	}
	return h
}

func TestReadGCStats(t *testing.T) {
	h := newHeap(t)

	stats := GCStats{PauseQuantiles: make([]time.Duration, 5)}
	ReadGCStats(h, &stats)
	if stats.NumGC != 0 || len(stats.Pause) != 0 {
		t.Errorf("ReadGCStats on a fresh heap returned NumGC=%d, %d pauses, want 0, 0", stats.NumGC, len(stats.Pause))
	}

	for i := 0; i < 300; i++ {
		FreeOSMemory(h)
	}
	ReadGCStats(h, &stats)
	if stats.NumGC != 300 {
		t.Errorf("NumGC = %d, want 300", stats.NumGC)
	}
	if len(stats.Pause) != 256 || len(stats.PauseEnd) != 256 {
		t.Errorf("got %d pauses and %d pause ends, want 256", len(stats.Pause), len(stats.PauseEnd))
	}
	if !stats.PauseEnd[0].Equal(stats.LastGC) {
		t.Errorf("most recent pause ended at %v, last collection at %v", stats.PauseEnd[0], stats.LastGC)
	}
	for i := 1; i < len(stats.PauseQuantiles); i++ {
		if stats.PauseQuantiles[i] < stats.PauseQuantiles[i-1] {
			t.Errorf("pause quantiles not sorted: %v", stats.PauseQuantiles)
		}
	}
}

func TestWriteHeapDump(t *testing.T) {
	h := newHeap(t)
	f, err := h.PushFrame(1)
	if err != nil {
		t.Fatal(err)
	}
	a, err := h.Allocate(2 * gc.WordSize)
	if err != nil {
		t.Fatal(err)
	}
	h.SetField(a, 0, gc.Int(42))
	h.SetField(a, 1, a.Value())
	h.SetRoot(f, 0, a.Value())

	var buf bytes.Buffer
	if err := WriteHeapDump(h, &buf); err != nil {
		t.Fatalf("WriteHeapDump returned %s", err)
	}

	var dump struct {
		Layout struct {
			FromSpace uint32 `json:"fromSpace"`
		} `json:"layout"`
		Roots []struct {
			Slot  uint32 `json:"slot"`
			Value string `json:"value"`
		} `json:"roots"`
		Objects []struct {
			Offset uint32   `json:"offset"`
			Words  uint32   `json:"words"`
			Fields []string `json:"fields"`
		} `json:"objects"`
	}
	if err := json.Unmarshal(buf.Bytes(), &dump); err != nil {
		t.Fatalf("heap dump is not valid JSON: %s\n%s", err, buf.String())
	}
	if dump.Layout.FromSpace != h.Layout().FromSpace {
		t.Errorf("dumped fromSpace %#x, want %#x", dump.Layout.FromSpace, h.Layout().FromSpace)
	}
	if len(dump.Roots) != 1 || dump.Roots[0].Value != a.Value().String() {
		t.Errorf("dumped roots %+v, want one root holding %s", dump.Roots, a.Value())
	}
	if len(dump.Objects) != 1 {
		t.Fatalf("dumped %d objects, want 1", len(dump.Objects))
	}
	o := dump.Objects[0]
	if o.Offset != a.Offset() || o.Words != 2 || o.Fields[0] != "int(42)" || o.Fields[1] != a.Value().String() {
		t.Errorf("dumped object %+v does not match the heap", o)
	}

	if err := h.PopFrame(f); err != nil {
		t.Fatal(err)
	}
}
