package litmus

import (
	"fmt"
	"io"
	"runtime"
	"time"

	pscpu "github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/sugawarayuuta/sonnet"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

// Result summarizes every trial of one test.
type Result struct {
	Name         string        `json:"name"`
	Order        string        `json:"order"`
	Threads      int           `json:"threads"`
	Trials       int           `json:"trials"`
	FailedTrials int           `json:"failed_trials"`
	Violations   int           `json:"violations"`
	Forbidden    bool          `json:"forbidden"`
	Failed       bool          `json:"failed"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Detail       string        `json:"detail,omitempty"`
}

// HostInfo describes the machine a report was produced on.
type HostInfo struct {
	OS            string `json:"os"`
	Platform      string `json:"platform,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	LogicalCPUs   int    `json:"logical_cpus"`
	PhysicalCPUs  int    `json:"physical_cpus,omitempty"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
}

// Report is the outcome of one Runner.Run.
type Report struct {
	Backend    string              `json:"backend"`
	Features   atomics.CPUFeatures `json:"features"`
	Host       HostInfo            `json:"host"`
	Trials     int                 `json:"trials"`
	Iterations int                 `json:"iterations"`
	Started    time.Time           `json:"started"`
	Finished   time.Time           `json:"finished"`
	Results    []Result            `json:"results"`
}

func newReport(cfg Config) *Report {
	return &Report{
		Backend:    atomics.Backend(),
		Features:   atomics.Features(),
		Host:       hostInfo(),
		Trials:     cfg.Trials,
		Iterations: cfg.Iterations,
		Started:    time.Now(),
	}
}

// hostInfo fills what gopsutil can tell about the host; missing fields stay empty.
func hostInfo() HostInfo {
	hi := HostInfo{
		OS:          runtime.GOOS,
		LogicalCPUs: runtime.NumCPU(),
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
	}
	if info, err := host.Info(); err == nil {
		hi.Platform = info.Platform
		hi.KernelVersion = info.KernelVersion
	} else {
		internalLogger.Debugf("host info: %v", err)
	}
	if n, err := pscpu.Counts(true); err == nil && n > 0 {
		hi.LogicalCPUs = n
	}
	if n, err := pscpu.Counts(false); err == nil {
		hi.PhysicalCPUs = n
	}
	return hi
}

// Failed reports whether any test showed a forbidden violation.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Failed {
			return true
		}
	}
	return false
}

// Violations returns the total violations across all tests.
func (r *Report) Violations() int {
	n := 0
	for _, res := range r.Results {
		n += res.Violations
	}
	return n
}

// WriteText writes a human readable table of r to w.
func (r *Report) WriteText(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "backend %s on %s/%s, %d cpus, gomaxprocs %d\n",
		r.Backend, r.Features.Arch, r.Host.OS, r.Host.LogicalCPUs, r.Host.GOMAXPROCS)
	fmt.Fprintf(buf, "%-18s %-8s %7s %7s %10s %-9s %s\n",
		"TEST", "ORDER", "THREADS", "TRIALS", "VIOLATIONS", "STATUS", "ELAPSED")
	for _, res := range r.Results {
		status := "ok"
		switch {
		case res.Failed:
			status = "FAIL"
		case res.Violations > 0:
			status = "allowed"
		}
		fmt.Fprintf(buf, "%-18s %-8s %7d %7d %10d %-9s %v\n",
			res.Name, res.Order, res.Threads, res.Trials, res.Violations, status, res.Elapsed.Round(time.Microsecond))
		if res.Failed && res.Detail != "" {
			fmt.Fprintf(buf, "  %s\n", res.Detail)
		}
	}
	_, err := buf.WriteTo(w)
	return err
}

// WriteJSON writes r to w as a single JSON document.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := sonnet.Marshal(r)
	if err != nil {
		return fmt.Errorf("litmus: encode report: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
