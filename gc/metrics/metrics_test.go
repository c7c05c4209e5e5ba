package metrics

import (
	"context"
	"testing"

	"github.com/tinygo-org/copygc/gc"
	"github.com/tinygo-org/copygc/wasmmem"
)

func TestReadAll(t *testing.T) {
	ctx := context.Background()
	mem, err := wasmmem.New(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close(ctx)
	h, err := gc.New(mem, gc.Config{SizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if _, err := h.Allocate(8); err != nil {
			t.Fatal(err)
		}
	}
	h.GC()
	h.GC()

	descs := All()
	samples := make([]Sample, len(descs)+1)
	for i, d := range descs {
		samples[i].Name = d.Name
	}
	samples[len(descs)].Name = "/unknown:bytes"
	Read(h, samples)

	for i, d := range descs {
		if samples[i].Value.Kind() != d.Kind {
			t.Errorf("%s has kind %d, want %d", d.Name, samples[i].Value.Kind(), d.Kind)
		}
	}
	if k := samples[len(descs)].Value.Kind(); k != KindBad {
		t.Errorf("unknown metric has kind %d, want KindBad", k)
	}

	values := make(map[string]Value)
	for _, s := range samples {
		values[s.Name] = s.Value
	}
	if n := values["/gc/cycles/total:gc-cycles"].Uint64(); n != 2 {
		t.Errorf("collections = %d, want 2", n)
	}
	if n := values["/gc/heap/allocs:objects"].Uint64(); n != 10 {
		t.Errorf("allocated objects = %d, want 10", n)
	}
	if n := values["/gc/heap/frees:objects"].Uint64(); n != 10 {
		t.Errorf("freed objects = %d, want 10", n)
	}
	if n := values["/memory/classes/heap/objects:bytes"].Uint64(); n != 0 {
		t.Errorf("heap bytes in use = %d, want 0", n)
	}
	if n := values["/memory/classes/heap/free:bytes"].Uint64(); n != 512*1024 {
		t.Errorf("free heap bytes = %d, want %d", n, 512*1024)
	}

	hist := values["/gc/pauses:seconds"].Float64Histogram()
	if len(hist.Buckets) != len(hist.Counts)+1 {
		t.Errorf("histogram has %d buckets for %d counts", len(hist.Buckets), len(hist.Counts))
	}
	var total uint64
	for _, c := range hist.Counts {
		total += c
	}
	if total != 2 {
		t.Errorf("histogram counts %d pauses, want 2", total)
	}
	if values["/gc/pauses/total:seconds"].Float64() < 0 {
		t.Errorf("negative total pause time")
	}
}

func TestPauseHistogramBucketsNotShared(t *testing.T) {
	ctx := context.Background()
	mem, err := wasmmem.New(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close(ctx)
	h, err := gc.New(mem, gc.Config{SizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	h.GC()

	samples := []Sample{{Name: "/gc/pauses:seconds"}}
	Read(h, samples)
	hist := samples[0].Value.Float64Histogram()
	want := append([]float64(nil), hist.Buckets...)
	for i := range hist.Buckets {
		hist.Buckets[i] = -1
	}

	Read(h, samples)
	got := samples[0].Value.Float64Histogram().Buckets
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d is %g after the caller changed an earlier result, want %g", i, got[i], want[i])
		}
	}
	var total uint64
	for _, c := range samples[0].Value.Float64Histogram().Counts {
		total += c
	}
	if total != 1 {
		t.Errorf("histogram counts %d pauses, want 1", total)
	}
}
