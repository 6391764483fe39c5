package litmus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shm-atomics/internal/logging"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

const instrumentationName = "github.com/srediag/shm-atomics/pkg/litmus"

var (
	ErrUnknownTest    = errors.New("litmus: unknown test")
	ErrRunnerClosed   = errors.New("litmus: runner is closed")
	ErrThreadPanicked = errors.New("litmus: test thread panicked")

	internalLogger = logging.New("litmus", nil)
)

// Runner executes litmus tests on a bounded goroutine pool.
type Runner struct {
	cfg    Config
	pool   *ants.Pool
	prom   *promMetrics
	tracer trace.Tracer

	runs       metric.Int64Counter
	violations metric.Int64Counter

	mu sync.Mutex // serializes Run; trials of one test share the pool
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.Meter == nil {
		cfg.Meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	prom, err := newPromMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("litmus: metrics: %w", err)
	}
	runs, err := cfg.Meter.Int64Counter("shm_atomics.litmus.trials",
		metric.WithDescription("Litmus trials run."))
	if err != nil {
		return nil, fmt.Errorf("litmus: meter: %w", err)
	}
	violations, err := cfg.Meter.Int64Counter("shm_atomics.litmus.violations",
		metric.WithDescription("Rounds that broke a litmus property."))
	if err != nil {
		return nil, fmt.Errorf("litmus: meter: %w", err)
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("litmus: pool: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		pool:       pool,
		prom:       prom,
		tracer:     cfg.Tracer,
		runs:       runs,
		violations: violations,
	}, nil
}

// Config returns the configuration the Runner was built with.
func (r *Runner) Config() Config {
	return r.cfg
}

// Close waits for a running Run to finish and releases the worker pool.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool.Release()
}

// Run executes the named tests, or the whole catalog when names is empty, and
// returns their report. A cancelled ctx stops between trials and returns the
// partial report along with ctx.Err().
func (r *Runner) Run(ctx context.Context, names ...string) (*Report, error) {
	tests, err := selectTests(names)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool.IsClosed() {
		return nil, ErrRunnerClosed
	}

	report := newReport(r.cfg)
	for _, t := range tests {
		res, err := r.runTest(ctx, t)
		report.Results = append(report.Results, res)
		if err != nil {
			report.Finished = time.Now()
			return report, err
		}
	}
	report.Finished = time.Now()
	return report, nil
}

func selectTests(names []string) ([]Test, error) {
	if len(names) == 0 {
		return Catalog(), nil
	}
	tests := make([]Test, 0, len(names))
	for _, name := range names {
		t, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTest, name)
		}
		tests = append(tests, t)
	}
	return tests, nil
}

type trialResult struct {
	outcome
	elapsed time.Duration
}

func (r *Runner) runTest(ctx context.Context, t Test) (Result, error) {
	order := r.cfg.Order
	ctx, span := r.tracer.Start(ctx, "litmus."+t.Name, trace.WithAttributes(
		attribute.String("litmus.order", order.String()),
		attribute.Int("litmus.trials", r.cfg.Trials),
	))
	defer span.End()

	threads := r.cfg.Threads
	if t.pair {
		threads = pairThreads
	}
	res := Result{
		Name:      t.Name,
		Order:     order.String(),
		Threads:   threads,
		Forbidden: t.Forbidden(order),
	}
	tr := &trial{
		threads:    r.cfg.Threads,
		iterations: r.cfg.Iterations,
		order:      order,
		parallel:   r.parallel,
	}

	results := queue.NewRingBuffer(uint64(r.cfg.Trials))
	defer results.Dispose()

	start := time.Now()
	var runErr error
	for i := 0; i < r.cfg.Trials; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		began := time.Now()
		out, err := t.run(tr)
		if err != nil {
			runErr = fmt.Errorf("%s trial %d: %w", t.Name, i, err)
			break
		}
		if err := results.Put(trialResult{outcome: out, elapsed: time.Since(began)}); err != nil {
			runErr = err
			break
		}
	}
	res.Elapsed = time.Since(start)

	attrs := metric.WithAttributes(attribute.String("test", t.Name), attribute.String("order", res.Order))
	for results.Len() > 0 {
		item, err := results.Get()
		if err != nil {
			break
		}
		got := item.(trialResult)
		res.Trials++
		outcomeLabel := "pass"
		if got.violations > 0 {
			res.Violations += got.violations
			res.FailedTrials++
			if res.Detail == "" {
				res.Detail = got.detail
			}
			outcomeLabel = "violation"
			r.prom.violations.WithLabelValues(t.Name, res.Order).Add(float64(got.violations))
			r.violations.Add(ctx, int64(got.violations), attrs)
		}
		r.prom.trials.WithLabelValues(t.Name, res.Order, outcomeLabel).Inc()
		r.prom.duration.WithLabelValues(t.Name).Observe(got.elapsed.Seconds())
		r.runs.Add(ctx, 1, attrs)
	}
	res.Failed = res.Forbidden && res.Violations > 0

	span.SetAttributes(attribute.Int("litmus.violations", res.Violations))
	switch {
	case runErr != nil:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		internalLogger.Warnf("%s stopped after %d trials: %v", t.Name, res.Trials, runErr)
	case res.Failed:
		span.SetStatus(codes.Error, res.Detail)
		internalLogger.Errorf("%s under %s: %d violations in %d trials: %s", t.Name, order, res.Violations, res.Trials, res.Detail)
	default:
		internalLogger.Debugf("%s under %s: %d trials, %d violations, %v", t.Name, order, res.Trials, res.Violations, res.Elapsed)
	}
	return res, runErr
}

// parallel runs fn on n pool workers and waits for all of them.
func (r *Runner) parallel(n int, fn func(thread int)) error {
	var (
		wg       sync.WaitGroup
		panicked uint32
	)
	for k := 0; k < n; k++ {
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					atomics.Store(&panicked, 1, atomics.Release)
					internalLogger.Errorf("thread %d panicked: %v", k, p)
				}
			}()
			fn(k)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	if atomics.Load(&panicked, atomics.Acquire) != 0 {
		return ErrThreadPanicked
	}
	return nil
}
