// Package health exposes liveness and readiness probes for a process that runs
// litmus checks over shared memory.
package health

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/atomics"
	"github.com/srediag/shm-atomics/pkg/litmus"
)

var (
	ErrNoReport  = errors.New("health: no litmus report yet")
	ErrViolation = errors.New("health: litmus report has forbidden violations")
	ErrNoSpace   = errors.New("health: shared memory directory is full")
)

// Options configures a Monitor.
type Options struct {
	// Registerer, when set, exports every check as a Prometheus gauge.
	Registerer prometheus.Registerer
	// MaxGoroutines fails liveness above this count. Zero disables the check.
	MaxGoroutines int
	// ShmDir and ShmBytes make readiness require room for a segment of ShmBytes in ShmDir.
	ShmDir   string
	ShmBytes uint64
}

// Monitor serves /live and /ready and tracks the latest litmus report.
type Monitor struct {
	healthcheck.Handler
	report *litmus.Report
}

// NewMonitor returns a Monitor with its checks registered.
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{}
	if opts.Registerer != nil {
		m.Handler = healthcheck.NewMetricsHandler(opts.Registerer, "shm_atomics")
	} else {
		m.Handler = healthcheck.NewHandler()
	}
	if opts.MaxGoroutines > 0 {
		m.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	m.AddReadinessCheck("litmus", m.checkReport)
	if opts.ShmBytes > 0 {
		dir := opts.ShmDir
		if dir == "" {
			dir = internalshm.DefaultDir
		}
		m.AddReadinessCheck("shm-space", func() error {
			if !internalshm.CanCreate(opts.ShmBytes, filepath.Join(dir, "probe")) {
				return fmt.Errorf("%w: %s", ErrNoSpace, dir)
			}
			return nil
		})
	}
	return m
}

// Observe records r as the latest report.
func (m *Monitor) Observe(r *litmus.Report) {
	atomics.StorePointer(&m.report, r, atomics.Release)
}

// Latest returns the latest report, or nil.
func (m *Monitor) Latest() *litmus.Report {
	return atomics.LoadPointer(&m.report, atomics.Acquire)
}

func (m *Monitor) checkReport() error {
	r := m.Latest()
	switch {
	case r == nil:
		return ErrNoReport
	case r.Failed():
		for _, res := range r.Results {
			if res.Failed {
				return fmt.Errorf("%w: %s under %s: %s", ErrViolation, res.Name, res.Order, res.Detail)
			}
		}
	}
	return nil
}
