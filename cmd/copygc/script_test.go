package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-colorable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/tinygo-org/copygc/gc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runTestScript(t *testing.T, text string) (string, error) {
	t.Helper()
	cfg := defaultConfig()
	cfg.Heap = 1
	var out bytes.Buffer
	err := runScript(context.Background(), strings.NewReader(text), &out, cfg, discardLogger())
	return out.String(), err
}

func TestScript(t *testing.T) {
	out, err := runTestScript(t, `
# build a list and turn it around twice
iota 5
reverse
print
reverse
print
garbage 20000
gc
verify
checksum
`)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[4 3 2 1 0]", lines[0])
	assert.Equal(t, "[0 1 2 3 4]", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "5 elements, checksum "), lines[2])
}

func TestScriptHeapSize(t *testing.T) {
	// 60000 cells do not fit in a 1MB heap, but do in a 4MB one.
	_, err := runTestScript(t, "iota 60000\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gc.ErrOutOfMemory), "got %v", err)
	assert.Contains(t, err.Error(), "line 1")

	_, err = runTestScript(t, "heap 4MB\niota 60000\nreverse 2\nverify\n")
	assert.NoError(t, err)

	_, err = runTestScript(t, "heap 2000MB\n")
	assert.True(t, errors.Is(err, gc.ErrInvalidConfiguration), "got %v", err)
}

func TestScriptErrors(t *testing.T) {
	for _, text := range []string{
		"frobnicate\n",
		"iota\n",
		"iota -1\n",
		"reverse 1 2\n",
		"print 'unterminated\n",
	} {
		_, err := runTestScript(t, text)
		assert.Error(t, err, "%q", text)
	}
}

func TestScriptDump(t *testing.T) {
	out, err := runTestScript(t, "iota 3\ndump\n")
	require.NoError(t, err)
	var dump map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	assert.Len(t, dump["objects"], 3)
}

func TestScriptStatsAndMetrics(t *testing.T) {
	out, err := runTestScript(t, "iota 100\ngc\nstats\nmetrics\n")
	require.NoError(t, err)
	assert.Contains(t, out, "collections: 1,")
	assert.Contains(t, out, "/gc/cycles/total:gc-cycles: 1\n")
	assert.Contains(t, out, "/gc/heap/allocs:objects: 100\n")
}

func TestRun(t *testing.T) {
	cfg := defaultConfig()
	cfg.Heap = 1
	cfg.Elements = 10000
	cfg.Reverses = 4
	cfg.Verify = true
	r, err := run(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, r.Error)
	assert.Equal(t, 10000, r.Length)
	assert.Zero(t, r.Diagnostics)
	assert.NotZero(t, r.Collections)
	assert.Len(t, r.Checksum, 4)

	cfg.Heap = 4
	r4, err := run(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, r.Checksum, r4.Checksum)

	cfg.Elements = 100000
	cfg.Heap = 1
	r, err = run(context.Background(), cfg, discardLogger())
	require.NoError(t, err, "running out of memory is reported, not returned")
	assert.Contains(t, r.Error, "out of memory")
	assert.Zero(t, r.Diagnostics, "the heap must stay consistent after running out of memory")
}

func TestReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	cfg := defaultConfig()
	first := newReport("run", cfg, time.Now())
	first.Checksum = "beef"
	second := newReport("run", cfg, time.Now())
	second.Error = "something went wrong"

	require.NoError(t, appendReport(path, first))
	require.NoError(t, appendReport(path, second))

	reports, err := readReports(path)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, first, reports[0])
	assert.Equal(t, second, reports[1])
}

func TestPrintReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.yaml")
	cfg := defaultConfig()
	cfg.Heap = 1
	cfg.Elements = 500
	cfg.Reverses = 1
	r, err := run(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, appendReport(path, r))
	r.Command = "again"
	require.NoError(t, appendReport(path, r))

	var buf bytes.Buffer
	require.NoError(t, printReports(colorable.NewNonColorable(&buf), path))
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "result:      500 elements, checksum "+r.Checksum))
	assert.Less(t, strings.Index(out, "run ok"), strings.Index(out, "again ok"), "reports must be printed oldest first")

	assert.Error(t, printReports(&buf, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestPrintSummaryWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	r := newReport("run", defaultConfig(), time.Now())
	r.Diagnostics = 2
	printSummary(colorable.NewNonColorable(&buf), r)
	assert.NotContains(t, buf.String(), "\x1b[")
	assert.Contains(t, buf.String(), "run FAIL: 2 heap diagnostics")
	assert.Contains(t, buf.String(), "heap:        16MB, 10000 elements, 10 reverses")
}
