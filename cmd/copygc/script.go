package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/shlex"
	"golang.org/x/exp/slog"

	"github.com/tinygo-org/copygc/diagnostics"
	"github.com/tinygo-org/copygc/gc"
	"github.com/tinygo-org/copygc/gc/debug"
	"github.com/tinygo-org/copygc/gc/metrics"
	"github.com/tinygo-org/copygc/wasmmem"
	"github.com/tinygo-org/copygc/workload"
)

// session is a heap on its own linear memory, with one root slot holding the
// current list.
type session struct {
	mem   *wasmmem.Memory
	heap  *gc.Heap
	frame gc.Frame
}

func newSession(ctx context.Context, size Size, logger *slog.Logger) (*session, error) {
	mem, err := wasmmem.New(ctx, 0)
	if err != nil {
		return nil, err
	}
	h, err := gc.New(mem, gc.Config{SizeMB: uint32(size), Logger: logger})
	if err != nil {
		mem.Close(ctx)
		return nil, err
	}
	f, err := h.PushFrame(1)
	if err != nil {
		mem.Close(ctx)
		return nil, err
	}
	return &session{mem: mem, heap: h, frame: f}, nil
}

func (s *session) current() gc.Value {
	return s.heap.Root(s.frame, 0)
}

func (s *session) setCurrent(v gc.Value) {
	s.heap.SetRoot(s.frame, 0, v)
}

func (s *session) close(ctx context.Context) error {
	err := s.heap.PopFrame(s.frame)
	if err == nil {
		err = s.heap.Close()
	}
	if cerr := s.mem.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// script runs the commands of a script file against a session. Every command
// operates on the current list, held in the single root of the session.
type script struct {
	ctx     context.Context
	logger  *slog.Logger
	out     io.Writer
	session *session
}

type scriptCommand struct {
	args int // number of required arguments, -1 for "0 or 1"
	help string
	run  func(s *script, args []string) error
}

var scriptCommands map[string]scriptCommand

func init() {
	scriptCommands = map[string]scriptCommand{
		"heap":     {1, "heap <size>: replace the heap with a new one of the given size", (*script).cmdHeap},
		"iota":     {1, "iota <n>: make the list 0..n-1 current", (*script).cmdIota},
		"reverse":  {-1, "reverse [times]: reverse the current list", (*script).cmdReverse},
		"garbage":  {1, "garbage <n>: build a list of n elements and drop it", (*script).cmdGarbage},
		"drop":     {0, "drop: make the empty list current", (*script).cmdDrop},
		"gc":       {0, "gc: force a collection", (*script).cmdGC},
		"verify":   {0, "verify: check the heap and print any problems", (*script).cmdVerify},
		"print":    {0, "print: print the current list", (*script).cmdPrint},
		"checksum": {0, "checksum: print the length and checksum of the current list", (*script).cmdChecksum},
		"stats":    {0, "stats: print collection statistics", (*script).cmdStats},
		"metrics":  {0, "metrics: print all heap metrics", (*script).cmdMetrics},
		"dump":     {0, "dump: write the heap as JSON", (*script).cmdDump},
	}
}

// runScript runs every line of r. Lines are split into words like a shell
// does; empty lines and lines starting with # are skipped. It stops at the
// first failing command.
func runScript(ctx context.Context, r io.Reader, out io.Writer, cfg Config, logger *slog.Logger) (err error) {
	s := &script{ctx: ctx, logger: logger, out: out}
	s.session, err = newSession(ctx, cfg.Heap, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.session.close(ctx); err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		words, err := shlex.Split(scanner.Text())
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if len(words) == 0 {
			continue
		}
		if err := s.exec(words[0], words[1:]); err != nil {
			return errors.Wrapf(err, "line %d: %s", line, words[0])
		}
	}
	return scanner.Err()
}

func (s *script) exec(name string, args []string) error {
	cmd, ok := scriptCommands[name]
	if !ok {
		return errors.Newf("unknown command %q", name)
	}
	switch {
	case cmd.args >= 0 && len(args) != cmd.args,
		cmd.args < 0 && len(args) > 1:
		return errors.Newf("usage: %s", cmd.help)
	}
	return cmd.run(s, args)
}

func parseCount(arg string) (int32, error) {
	n, err := strconv.ParseInt(arg, 10, 32)
	if err != nil || n < 0 {
		return 0, errors.Newf("not a valid count: %q", arg)
	}
	return int32(n), nil
}

func (s *script) cmdHeap(args []string) error {
	size, err := parseSize(args[0])
	if err != nil {
		return err
	}
	next, err := newSession(s.ctx, size, s.logger)
	if err != nil {
		return err
	}
	old := s.session
	s.session = next
	return old.close(s.ctx)
}

func (s *script) cmdIota(args []string) error {
	n, err := parseCount(args[0])
	if err != nil {
		return err
	}
	list, err := workload.Iota(s.session.heap, n)
	if err != nil {
		return err
	}
	s.session.setCurrent(list)
	return nil
}

func (s *script) cmdReverse(args []string) error {
	times := int32(1)
	if len(args) == 1 {
		var err error
		if times, err = parseCount(args[0]); err != nil {
			return err
		}
	}
	for i := int32(0); i < times; i++ {
		list, err := workload.Reverse(s.session.heap, s.session.current())
		if err != nil {
			return err
		}
		s.session.setCurrent(list)
	}
	return nil
}

func (s *script) cmdGarbage(args []string) error {
	n, err := parseCount(args[0])
	if err != nil {
		return err
	}
	_, err = workload.Iota(s.session.heap, n)
	return err
}

func (s *script) cmdDrop(args []string) error {
	s.session.setCurrent(gc.Nil)
	return nil
}

func (s *script) cmdGC(args []string) error {
	debug.FreeOSMemory(s.session.heap)
	return nil
}

func (s *script) cmdVerify(args []string) error {
	diags := diagnostics.Verify(s.session.heap)
	if len(diags) == 0 {
		return nil
	}
	diags.WriteTo(s.out)
	return errors.Newf("%d heap diagnostics", len(diags))
}

func (s *script) cmdPrint(args []string) error {
	ints, err := workload.Ints(s.session.heap, s.session.current())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, ints)
	return nil
}

func (s *script) cmdChecksum(args []string) error {
	h := s.session.heap
	n, err := workload.Len(h, s.session.current())
	if err != nil {
		return err
	}
	sum, err := workload.Checksum(h, s.session.current())
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d elements, checksum %04x\n", n, sum)
	return nil
}

func (s *script) cmdStats(args []string) error {
	var stats debug.GCStats
	stats.PauseQuantiles = make([]time.Duration, 5)
	debug.ReadGCStats(s.session.heap, &stats)
	var m gc.MemStats
	s.session.heap.ReadMemStats(&m)
	fmt.Fprintf(s.out, "collections: %d, total pause %s\n", stats.NumGC, stats.PauseTotal)
	if stats.NumGC > 0 {
		q := stats.PauseQuantiles
		fmt.Fprintf(s.out, "pauses:      min %s, median %s, max %s\n", q[0], q[2], q[4])
	}
	fmt.Fprintf(s.out, "objects:     %d in the heap, %d allocated, %d freed\n", m.HeapObjects, m.Mallocs, m.Frees)
	fmt.Fprintf(s.out, "bytes:       %d in use, %d free, %d live after the last collection\n", m.HeapAlloc, m.HeapIdle, m.HeapLive)
	return nil
}

func (s *script) cmdMetrics(args []string) error {
	descs := metrics.All()
	samples := make([]metrics.Sample, len(descs))
	for i, d := range descs {
		samples[i].Name = d.Name
	}
	metrics.Read(s.session.heap, samples)
	for _, sample := range samples {
		switch v := sample.Value; v.Kind() {
		case metrics.KindUint64:
			fmt.Fprintf(s.out, "%s: %d\n", sample.Name, v.Uint64())
		case metrics.KindFloat64:
			fmt.Fprintf(s.out, "%s: %g\n", sample.Name, v.Float64())
		case metrics.KindFloat64Histogram:
			hist := v.Float64Histogram()
			fmt.Fprintf(s.out, "%s: %v\n", sample.Name, hist.Counts)
		}
	}
	return nil
}

func (s *script) cmdDump(args []string) error {
	if err := debug.WriteHeapDump(s.session.heap, s.out); err != nil {
		return err
	}
	fmt.Fprintln(s.out)
	return nil
}
