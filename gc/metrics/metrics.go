// Package metrics exposes statistics about a collected heap under stable
// names, in the style of runtime/metrics.
package metrics

import (
	"math"
	"slices"
	"time"

	"github.com/tinygo-org/copygc/gc"
)

// Description describes a metric.
type Description struct {
	// Name is the full name of the metric, including its unit.
	Name string

	// Description is an English language sentence describing the metric.
	Description string

	// Kind is the kind of value for this metric.
	Kind ValueKind

	// Cumulative is whether the metric only ever increases.
	Cumulative bool
}

var allDesc = []Description{
	{
		Name:        "/gc/cycles/total:gc-cycles",
		Description: "Count of completed collections.",
		Kind:        KindUint64,
		Cumulative:  true,
	},
	{
		Name:        "/gc/heap/allocs:bytes",
		Description: "Cumulative sum of payload bytes allocated, rounded up to whole words.",
		Kind:        KindUint64,
		Cumulative:  true,
	},
	{
		Name:        "/gc/heap/allocs:objects",
		Description: "Cumulative count of objects allocated.",
		Kind:        KindUint64,
		Cumulative:  true,
	},
	{
		Name:        "/gc/heap/frees:objects",
		Description: "Cumulative count of objects left behind by collections.",
		Kind:        KindUint64,
		Cumulative:  true,
	},
	{
		Name:        "/gc/heap/live:bytes",
		Description: "Bytes that survived the last collection, headers included.",
		Kind:        KindUint64,
	},
	{
		Name:        "/gc/heap/objects:objects",
		Description: "Number of objects in the active half, reachable or not.",
		Kind:        KindUint64,
	},
	{
		Name:        "/gc/pauses:seconds",
		Description: "Distribution of recent collection pause times.",
		Kind:        KindFloat64Histogram,
	},
	{
		Name:        "/gc/pauses/total:seconds",
		Description: "Cumulative time spent in collections.",
		Kind:        KindFloat64,
		Cumulative:  true,
	},
	{
		Name:        "/gc/roots/stack:bytes",
		Description: "Bytes of root slots currently pushed.",
		Kind:        KindUint64,
	},
	{
		Name:        "/memory/classes/heap/free:bytes",
		Description: "Bytes still available for allocation in the active half.",
		Kind:        KindUint64,
	},
	{
		Name:        "/memory/classes/heap/objects:bytes",
		Description: "Bytes used in the active half, headers and garbage included.",
		Kind:        KindUint64,
	},
	{
		Name:        "/memory/classes/total:bytes",
		Description: "Bytes of linear memory used by the root stack and both halves.",
		Kind:        KindUint64,
	},
}

// All returns descriptions of all supported metrics.
func All() []Description {
	return allDesc
}

// Float64Histogram represents a distribution of float64 values.
type Float64Histogram struct {
	// Counts contains the number of values in each bucket.
	Counts []uint64

	// Buckets contains the boundaries of the buckets, so it has one more
	// element than Counts. Bucket i is [Buckets[i], Buckets[i+1]).
	Buckets []float64
}

// pauseBuckets are the bucket boundaries of the pause histogram, in seconds.
var pauseBuckets = []float64{0, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, math.Inf(1)}

// Sample captures a single metric sample.
type Sample struct {
	Name  string
	Value Value
}

// Read populates each Value in m with the current value of the metric named
// by the corresponding Name. Unknown names get a value of kind KindBad.
func Read(h *gc.Heap, m []Sample) {
	var ms gc.MemStats
	h.ReadMemStats(&ms)

	for i := range m {
		v := &m[i].Value
		switch m[i].Name {
		case "/gc/cycles/total:gc-cycles":
			v.setUint64(uint64(ms.NumGC))
		case "/gc/heap/allocs:bytes":
			v.setUint64(ms.TotalAlloc)
		case "/gc/heap/allocs:objects":
			v.setUint64(ms.Mallocs)
		case "/gc/heap/frees:objects":
			v.setUint64(ms.Frees)
		case "/gc/heap/live:bytes":
			v.setUint64(ms.HeapLive)
		case "/gc/heap/objects:objects":
			v.setUint64(ms.HeapObjects)
		case "/gc/pauses:seconds":
			v.kind = KindFloat64Histogram
			v.pointer = pauseHistogram(&ms)
		case "/gc/pauses/total:seconds":
			v.kind = KindFloat64
			v.scalar = math.Float64bits(ms.PauseTotal.Seconds())
		case "/gc/roots/stack:bytes":
			v.setUint64(ms.StackInuse)
		case "/memory/classes/heap/free:bytes":
			v.setUint64(ms.HeapIdle)
		case "/memory/classes/heap/objects:bytes":
			v.setUint64(ms.HeapAlloc)
		case "/memory/classes/total:bytes":
			v.setUint64(ms.Sys)
		default:
			*v = Value{}
		}
	}
}

func pauseHistogram(ms *gc.MemStats) *Float64Histogram {
	hist := &Float64Histogram{
		Counts:  make([]uint64, len(pauseBuckets)-1),
		Buckets: slices.Clone(pauseBuckets),
	}
	n := int(ms.NumGC)
	if n > len(ms.PauseNs) {
		n = len(ms.PauseNs)
	}
	for i := 0; i < n; i++ {
		sec := time.Duration(ms.PauseNs[i]).Seconds()
		for b := len(hist.Counts) - 1; b >= 0; b-- {
			if sec >= hist.Buckets[b] {
				hist.Counts[b]++
				break
			}
		}
	}
	return hist
}

// Value represents a metric value returned by Read.
type Value struct {
	kind    ValueKind
	scalar  uint64
	pointer *Float64Histogram
}

func (v *Value) setUint64(x uint64) {
	v.kind = KindUint64
	v.scalar = x
	v.pointer = nil
}

// Kind returns the tag representing the kind of value this is.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Uint64 returns the internal uint64 value for the metric.
// It panics if the metric's kind is not KindUint64.
func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 {
		panic("called Uint64 on non-uint64 metric value")
	}
	return v.scalar
}

// Float64 returns the internal float64 value for the metric.
// It panics if the metric's kind is not KindFloat64.
func (v Value) Float64() float64 {
	if v.kind != KindFloat64 {
		panic("called Float64 on non-float64 metric value")
	}
	return math.Float64frombits(v.scalar)
}

// Float64Histogram returns the internal histogram value for the metric.
// It panics if the metric's kind is not KindFloat64Histogram.
func (v Value) Float64Histogram() *Float64Histogram {
	if v.kind != KindFloat64Histogram {
		panic("called Float64Histogram on non-histogram metric value")
	}
	return v.pointer
}

// ValueKind is a tag for a metric Value which indicates its type.
type ValueKind int

const (
	KindBad ValueKind = iota
	KindUint64
	KindFloat64
	KindFloat64Histogram
)
