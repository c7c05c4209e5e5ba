package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/copygc/gc"
)

// Report is the outcome of one run. Reports are appended to the report file
// as items of a single YAML sequence.
type Report struct {
	Time        string `yaml:"time"`
	Command     string `yaml:"command"`
	Heap        Size   `yaml:"heap"`
	Elements    int32  `yaml:"elements"`
	Reverses    int32  `yaml:"reverses"`
	Length      int    `yaml:"length"`
	Checksum    string `yaml:"checksum"`
	Collections uint32 `yaml:"collections"`
	Mallocs     uint64 `yaml:"mallocs"`
	Frees       uint64 `yaml:"frees"`
	HeapAlloc   uint64 `yaml:"heap-alloc"`
	HeapLive    uint64 `yaml:"heap-live"`
	PauseTotal  string `yaml:"pause-total"`
	Diagnostics int    `yaml:"diagnostics"`
	Error       string `yaml:"error,omitempty"`
}

func newReport(command string, cfg Config, now time.Time) Report {
	return Report{
		Time:     now.Format(time.RFC3339),
		Command:  command,
		Heap:     cfg.Heap,
		Elements: cfg.Elements,
		Reverses: cfg.Reverses,
	}
}

func (r *Report) addStats(m *gc.MemStats) {
	r.Collections = m.NumGC
	r.Mallocs = m.Mallocs
	r.Frees = m.Frees
	r.HeapAlloc = m.HeapAlloc
	r.HeapLive = m.HeapLive
	r.PauseTotal = m.PauseTotal.String()
}

// appendReport appends r to the report file at path. Several runs may share a
// report file, so the file is locked while writing.
func appendReport(path string, r Report) error {
	data, err := yaml.Marshal([]Report{r})
	if err != nil {
		return errors.Wrap(err, "could not encode report")
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "could not lock report %s", path)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return errors.Wrap(err, "could not open report")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "could not write report %s", path)
	}
	return f.Close()
}

// printReports prints a summary of every report in the report file at path,
// oldest first.
func printReports(w io.Writer, path string) error {
	reports, err := readReports(path)
	if err != nil {
		return err
	}
	for i, r := range reports {
		if i != 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", r.Time)
		printSummary(w, r)
	}
	return nil
}

// readReports returns all reports in the report file at path.
func readReports(path string) ([]Report, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, errors.Wrapf(err, "could not lock report %s", path)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reports []Report
	if err := yaml.Unmarshal(data, &reports); err != nil {
		return nil, errors.Wrapf(err, "could not parse report %s", path)
	}
	return reports, nil
}

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
)

// output returns a writer for f. Escape sequences written to it are passed
// through on terminals and stripped everywhere else.
func output(f *os.File) io.Writer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return colorable.NewColorable(f)
	}
	return colorable.NewNonColorable(f)
}

func printSummary(w io.Writer, r Report) {
	status := colorGreen + "ok" + colorReset
	if r.Error != "" {
		status = colorRed + "FAIL" + colorReset + ": " + r.Error
	} else if r.Diagnostics != 0 {
		status = fmt.Sprintf("%sFAIL%s: %d heap diagnostics", colorRed, colorReset, r.Diagnostics)
	}
	fmt.Fprintf(w, "%s%s%s %s\n", colorBold, r.Command, colorReset, status)
	fmt.Fprintf(w, "  heap:        %s, %d elements, %d reverses\n", r.Heap, r.Elements, r.Reverses)
	fmt.Fprintf(w, "  result:      %d elements, checksum %s\n", r.Length, r.Checksum)
	fmt.Fprintf(w, "  collections: %d (total pause %s)\n", r.Collections, r.PauseTotal)
	fmt.Fprintf(w, "  objects:     %d allocated, %d freed\n", r.Mallocs, r.Frees)
	fmt.Fprintf(w, "  bytes:       %d in use, %d live after the last collection\n", r.HeapAlloc, r.HeapLive)
}
