package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/srediag/shm-atomics/internal/logging"
	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/litmus"
)

func invoke(args ...string) (code int, stdout, stderr string) {
	var out, errb bytes.Buffer
	code = run(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestUsage(t *testing.T) {
	code, _, stderr := invoke()
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage")

	code, _, stderr = invoke("frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "frobnicate")
}

func TestRunText(t *testing.T) {
	code, stdout, _ := invoke("run", "-trials", "2", "-iterations", "50", "-log-level", "5", "increment/16", "exchange")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "increment/16")
	assert.Contains(t, stdout, "exchange")
	assert.NotContains(t, stdout, "FAIL")
}

func TestRunJSON(t *testing.T) {
	code, stdout, _ := invoke("run", "-json", "-trials", "2", "-iterations", "50", "-order", "acq_rel", "-log-level", "5", "message-passing")
	require.Equal(t, exitOK, code)
	var report litmus.Report
	require.NoError(t, sonnet.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "acq_rel", report.Results[0].Order)
	assert.Equal(t, 2, report.Results[0].Trials)
}

func TestRunJSONStaysParseableWhenInterrupted(t *testing.T) {
	prev := logging.Level()
	defer logging.SetLogLevel(prev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errb bytes.Buffer
	code := run(ctx, []string{"run", "-json", "-trials", "1", "-log-level", "3", "exchange"}, &out, &errb)
	assert.Equal(t, exitFailed, code)

	var report litmus.Report
	require.NoError(t, sonnet.Unmarshal(out.Bytes(), &report), out.String())
	require.Len(t, report.Results, 1)
	assert.Equal(t, 0, report.Results[0].Trials)
}

func TestRunRejectsBadInput(t *testing.T) {
	code, _, stderr := invoke("run", "-order", "strong")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "strong")

	code, _, _ = invoke("run", "-trials", "0")
	assert.Equal(t, exitUsage, code)

	code, _, stderr = invoke("run", "-trials", "1", "-log-level", "5", "no-such-test")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "no-such-test")
}

func TestTotalsAcrossOpens(t *testing.T) {
	segmentDir = t.TempDir()
	defer func() { segmentDir = "" }()
	name := fmt.Sprintf("totals-%d", time.Now().UnixNano())
	ctx := context.Background()

	owner, err := openTotals(ctx, name, true)
	require.NoError(t, err)
	defer owner.close()
	owner.add(&litmus.Report{Results: []litmus.Result{{Violations: 2}, {Violations: 1}}})
	owner.add(&litmus.Report{})

	code, stdout, stderr := invoke("stat", "-segment", name)
	require.Equal(t, exitOK, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Equal(t, []string{"runs 2", "violations 3", "attached 2"}, lines)

	code, _, _ = invoke("stat")
	assert.Equal(t, exitUsage, code)
}

func TestTotalsReplaceLeftoverSegment(t *testing.T) {
	segmentDir = t.TempDir()
	defer func() { segmentDir = "" }()
	name := fmt.Sprintf("leftover-%d", time.Now().UnixNano())
	ctx := context.Background()

	// A region that was created but never removed, as after a crash.
	stale, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name, Size: segmentSize, Create: true, Dir: segmentDir})
	require.NoError(t, err)
	require.NoError(t, internalshm.UnmapRegion(ctx, stale))

	owner, err := openTotals(ctx, name, true)
	require.NoError(t, err)
	defer owner.close()
	owner.add(&litmus.Report{})
	runs, violations := owner.load()
	assert.Equal(t, uint64(1), runs)
	assert.Equal(t, uint64(0), violations)
}
