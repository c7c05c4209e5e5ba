// Command copygc runs list workloads against a semi-space copying collector
// on wasm linear memory and reports what the collector did.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/tinygo-org/copygc/diagnostics"
	"github.com/tinygo-org/copygc/gc"
	"github.com/tinygo-org/copygc/workload"
)

const version = "0.1.0"

func usage(command string) {
	switch command {
	default:
		fmt.Fprintln(os.Stderr, "copygc version", version)
		fmt.Fprintln(os.Stderr, "usage: copygc <command> [arguments]")
		fmt.Fprintln(os.Stderr, "\ncommands:")
		fmt.Fprintln(os.Stderr, "  run:     build a list, reverse it a number of times and report")
		fmt.Fprintln(os.Stderr, "  script:  run the commands of a script file (- for stdin)")
		fmt.Fprintln(os.Stderr, "  reports: print the reports appended to a report file")
		fmt.Fprintln(os.Stderr, "  version: show version")
		fmt.Fprintln(os.Stderr, "  help:    print this help text")

		if flag.Parsed() {
			fmt.Fprintln(os.Stderr, "\nflags:")
			flag.PrintDefaults()
		}

		fmt.Fprintln(os.Stderr, "\nfor more details, see copygc help <command>")
	case "run":
		fmt.Fprintln(os.Stderr, "usage: copygc run [flags]")
		fmt.Fprintln(os.Stderr, "\nBuilds a list of -elements integers, reverses it -reverses times")
		fmt.Fprintln(os.Stderr, "and prints a summary. With -report the summary is appended to a")
		fmt.Fprintln(os.Stderr, "YAML file as well.")
	case "reports":
		fmt.Fprintln(os.Stderr, "usage: copygc reports [flags] [file]")
		fmt.Fprintln(os.Stderr, "\nPrints every report in the given file, or in the file set with")
		fmt.Fprintln(os.Stderr, "-report or the report key of the config.")
	case "script":
		fmt.Fprintln(os.Stderr, "usage: copygc script [flags] <file>")
		fmt.Fprintln(os.Stderr, "\nscript commands:")
		for _, name := range []string{"heap", "iota", "reverse", "garbage", "drop", "gc", "verify", "print", "checksum", "stats", "metrics", "dump"} {
			fmt.Fprintln(os.Stderr, " ", scriptCommands[name].help)
		}
	}
}

// handleError prints the error (if any) and exits with a non-zero exit code.
func handleError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// flagOverrides are the command line flags that override config file keys.
type flagOverrides struct {
	heap     Size
	elements uint
	reverses uint
	verify   bool
	logLevel string
	report   string
}

func (o *flagOverrides) register(fs *flag.FlagSet) {
	fs.Var(&o.heap, "heap", "heap size, split between the two halves (e.g. 16MB)")
	fs.UintVar(&o.elements, "elements", 0, "number of list elements")
	fs.UintVar(&o.reverses, "reverses", 0, "number of times to reverse the list")
	fs.BoolVar(&o.verify, "verify", false, "check the heap after the run")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&o.report, "report", "", "append a YAML report to this file")
}

// apply overrides the keys of cfg whose flags were set in fs.
func (o *flagOverrides) apply(fs *flag.FlagSet, cfg *Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "heap":
			cfg.Heap = o.heap
		case "elements":
			if o.elements > math.MaxInt32 {
				err = errors.Newf("too many elements: %d", o.elements)
			}
			cfg.Elements = int32(o.elements)
		case "reverses":
			if o.reverses > math.MaxInt32 {
				err = errors.Newf("too many reverses: %d", o.reverses)
			}
			cfg.Reverses = int32(o.reverses)
		case "verify":
			cfg.Verify = o.verify
		case "log-level":
			cfg.LogLevel = o.logLevel
		case "report":
			cfg.Report = o.report
		}
	})
	if err != nil {
		return err
	}
	return cfg.validate()
}

func newLogger(cfg Config) *slog.Logger {
	level, _ := cfg.level()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// run runs the configured workload on a fresh heap. Failures of the workload
// itself, like running out of memory, end up in the report.
func run(ctx context.Context, cfg Config, logger *slog.Logger) (r Report, err error) {
	r = newReport("run", cfg, time.Now())
	s, err := newSession(ctx, cfg.Heap, logger)
	if err != nil {
		return r, err
	}
	defer func() {
		if cerr := s.close(ctx); err == nil {
			err = cerr
		}
	}()

	start := time.Now()
	list, werr := workload.MakeWork(s.heap, cfg.Elements, cfg.Reverses)
	if werr == nil {
		s.setCurrent(list)
		werr = summarize(s, &r)
	}
	if werr != nil {
		r.Error = werr.Error()
	}
	logger.Info("workload finished", "elements", cfg.Elements, "reverses", cfg.Reverses, "duration", time.Since(start))

	if cfg.Verify {
		diags := diagnostics.Verify(s.heap)
		if len(diags) != 0 {
			logger.Error("heap is corrupt", "diagnostics", diags.String())
		}
		r.Diagnostics = len(diags)
	}

	var m gc.MemStats
	s.heap.ReadMemStats(&m)
	r.addStats(&m)
	return r, nil
}

func summarize(s *session, r *Report) error {
	n, err := workload.Len(s.heap, s.current())
	if err != nil {
		return err
	}
	sum, err := workload.Checksum(s.heap, s.current())
	if err != nil {
		return err
	}
	r.Length = n
	r.Checksum = fmt.Sprintf("%04x", sum)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "No command-line arguments supplied.")
		usage("")
		os.Exit(1)
	}
	command := os.Args[1]

	configPath := flag.String("config", "", "YAML config file")
	var overrides flagOverrides
	overrides.register(flag.CommandLine)
	if command == "help" || command == "version" {
		flag.CommandLine.Parse(nil)
	} else {
		flag.CommandLine.Parse(os.Args[2:])
	}

	ctx := context.Background()

	switch command {
	case "run":
		if flag.NArg() != 0 {
			fmt.Fprintln(os.Stderr, "run does not take arguments")
			usage(command)
			os.Exit(1)
		}
		cfg, err := loadConfig(*configPath)
		handleError(err)
		handleError(overrides.apply(flag.CommandLine, &cfg))
		logger := newLogger(cfg)

		r, err := run(ctx, cfg, logger)
		handleError(err)
		printSummary(output(os.Stdout), r)
		if cfg.Report != "" {
			handleError(appendReport(cfg.Report, r))
		}
		if r.Error != "" || r.Diagnostics != 0 {
			os.Exit(1)
		}
	case "script":
		if flag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "script needs exactly one file")
			usage(command)
			os.Exit(1)
		}
		cfg, err := loadConfig(*configPath)
		handleError(err)
		handleError(overrides.apply(flag.CommandLine, &cfg))
		logger := newLogger(cfg)

		in := os.Stdin
		if path := flag.Arg(0); path != "-" {
			in, err = os.Open(path)
			handleError(err)
			defer in.Close()
		}
		if err := runScript(ctx, in, os.Stdout, cfg, logger); err != nil {
			in.Close()
			handleError(err)
		}
	case "reports":
		if flag.NArg() > 1 {
			fmt.Fprintln(os.Stderr, "reports takes at most one file")
			usage(command)
			os.Exit(1)
		}
		cfg, err := loadConfig(*configPath)
		handleError(err)
		handleError(overrides.apply(flag.CommandLine, &cfg))
		path := cfg.Report
		if flag.NArg() == 1 {
			path = flag.Arg(0)
		}
		if path == "" {
			fmt.Fprintln(os.Stderr, "no report file given")
			usage(command)
			os.Exit(1)
		}
		handleError(printReports(output(os.Stdout), path))
	case "version":
		fmt.Printf("copygc version %s\n", version)
	case "help":
		command := ""
		if len(os.Args) >= 3 {
			command = os.Args[2]
		}
		usage(command)
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", command)
		usage("")
		os.Exit(1)
	}
}
