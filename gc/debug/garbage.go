// Package debug contains facilities for inspecting a collected heap while it
// is in use.
package debug

import (
	"io"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/tinygo-org/copygc/gc"
)

// GCStats collect information about recent collections.
type GCStats struct {
	LastGC         time.Time       // time of last collection
	NumGC          int64           // number of collections
	PauseTotal     time.Duration   // total pause for all collections
	Pause          []time.Duration // pause history, most recent first
	PauseEnd       []time.Time     // pause end times history, most recent first
	PauseQuantiles []time.Duration
}

// ReadGCStats reads statistics about collections of h into stats.
// The pause history holds at most the last 256 collections.
// If stats.PauseQuantiles is non-empty, ReadGCStats fills it with quantiles
// summarizing the distribution of pause time: for len(stats.PauseQuantiles)
// equal to 5 it holds the minimum, 25%, 50%, 75% and maximum pause times.
func ReadGCStats(h *gc.Heap, stats *GCStats) {
	var m gc.MemStats
	h.ReadMemStats(&m)

	stats.LastGC = m.LastGC
	stats.NumGC = int64(m.NumGC)
	stats.PauseTotal = m.PauseTotal

	n := int(m.NumGC)
	if n > len(m.PauseNs) {
		n = len(m.PauseNs)
	}
	stats.Pause = stats.Pause[:0]
	stats.PauseEnd = stats.PauseEnd[:0]
	for i := 0; i < n; i++ {
		j := (int(m.NumGC) - 1 - i) % len(m.PauseNs)
		stats.Pause = append(stats.Pause, time.Duration(m.PauseNs[j]))
		stats.PauseEnd = append(stats.PauseEnd, m.PauseEnd[j])
	}

	if len(stats.PauseQuantiles) > 0 {
		if n == 0 {
			clear(stats.PauseQuantiles)
		} else {
			sorted := slices.Clone(stats.Pause)
			slices.Sort(sorted)
			nq := len(stats.PauseQuantiles) - 1
			for i := 0; i < nq; i++ {
				stats.PauseQuantiles[i] = sorted[len(sorted)*i/nq]
			}
			stats.PauseQuantiles[nq] = sorted[len(sorted)-1]
		}
	}
}

// FreeOSMemory forces a collection of h. The linear memory never shrinks, so
// this only makes the active half as empty as it can be.
func FreeOSMemory(h *gc.Heap) {
	h.GC()
}

// WriteHeapDump writes a JSON description of h to w: its layout, every root
// slot, and every object in the active half with its fields. Objects that are
// unreachable but not yet collected are included.
func WriteHeapDump(h *gc.Heap, w io.Writer) error {
	jw := jwriter.NewWriter()
	obj := jw.Object()

	l := h.Layout()
	layout := obj.Name("layout").Object()
	layout.Name("heapSize").Int(int(l.HeapSize))
	layout.Name("halfSize").Int(int(l.HalfSize))
	layout.Name("stackBase").Int(int(l.StackBase))
	layout.Name("stackTop").Int(int(l.StackTop))
	layout.Name("fromSpace").Int(int(l.FromSpace))
	layout.Name("toSpace").Int(int(l.ToSpace))
	layout.Name("nextFree").Int(int(l.NextFree))
	layout.End()

	roots := obj.Name("roots").Array()
	h.Roots(func(slot uint32, v gc.Value) {
		root := roots.Object()
		root.Name("slot").Int(int(slot))
		root.Name("value").String(v.String())
		root.End()
	})
	roots.End()

	objects := obj.Name("objects").Array()
	h.Walk(func(r gc.Ref, words uint32) bool {
		o := objects.Object()
		o.Name("offset").Int(int(r.Offset()))
		o.Name("words").Int(int(words))
		fields := o.Name("fields").Array()
		for i := uint32(0); i < words; i++ {
			fields.String(h.Field(r, i).String())
		}
		fields.End()
		o.End()
		return true
	})
	objects.End()
	obj.End()

	if err := jw.Error(); err != nil {
		return errors.Wrap(err, "debug: encode heap dump")
	}
	_, err := w.Write(jw.Bytes())
	return errors.Wrap(err, "debug: write heap dump")
}
