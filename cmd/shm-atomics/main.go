// Command shm-atomics runs memory-model litmus tests against the atomics
// backends and can serve their results as probes and metrics.
//
// Usage:
//
//	shm-atomics run   [-trials N] [-threads N] [-iterations N] [-order o] [-json] [test ...]
//	shm-atomics serve [-addr :9464] [-interval 30s] [-segment name] [flags of run]
//	shm-atomics stat  -segment name
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/srediag/shm-atomics/internal/logging"
	"github.com/srediag/shm-atomics/pkg/atomics"
	"github.com/srediag/shm-atomics/pkg/health"
	"github.com/srediag/shm-atomics/pkg/litmus"
	"github.com/srediag/shm-atomics/pkg/shm"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2

	instrumentationName = "github.com/srediag/shm-atomics/cmd/shm-atomics"

	// Offsets of the totals published by serve, in allocation order.
	runsOffset       = shm.HeaderSize
	violationsOffset = shm.HeaderSize + 8
	segmentSize      = 4096
)

var log = logging.New("shm-atomics", os.Stderr)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: shm-atomics run|serve|stat [flags]")
		return exitUsage
	}
	switch args[0] {
	case "run":
		return runCmd(ctx, args[1:], stdout, stderr)
	case "serve":
		return serveCmd(ctx, args[1:], stderr)
	case "stat":
		return statCmd(ctx, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return exitUsage
	}
}

type runFlags struct {
	cfg      litmus.Config
	order    string
	logLevel int
	debug    bool
}

// bind registers the litmus flags on fs, with defaults taken from the environment.
func (f *runFlags) bind(fs *flag.FlagSet) error {
	cfg, err := litmus.ConfigFromEnv(litmus.DefaultConfig())
	if err != nil {
		return err
	}
	f.cfg = cfg
	fs.IntVar(&f.cfg.Trials, "trials", cfg.Trials, "trials per test")
	fs.IntVar(&f.cfg.Threads, "threads", cfg.Threads, "threads in the counter tests")
	fs.IntVar(&f.cfg.Iterations, "iterations", cfg.Iterations, "operations per thread per trial")
	fs.IntVar(&f.cfg.Workers, "workers", cfg.Workers, "goroutine pool size")
	fs.StringVar(&f.order, "order", cfg.Order.String(), "memory order under test")
	fs.IntVar(&f.logLevel, "log-level", logging.Level(), "log level, 0 (trace) to 5 (silent)")
	fs.BoolVar(&f.debug, "debug", atomics.DebugMode(), "check cell alignment and order classes")
	return nil
}

func (f *runFlags) config() (litmus.Config, error) {
	logging.SetLogLevel(f.logLevel)
	atomics.SetDebugMode(f.debug)
	o, err := atomics.ParseMemoryOrder(f.order)
	if err != nil {
		return f.cfg, err
	}
	f.cfg.Order = o
	f.cfg.Meter = otel.Meter(instrumentationName)
	f.cfg.Tracer = otel.Tracer(instrumentationName)
	return f.cfg, litmus.VerifyConfig(f.cfg)
}

func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var rf runFlags
	if err := rf.bind(fs); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	asJSON := fs.Bool("json", false, "write the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := rf.config()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	runner, err := litmus.NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer runner.Close()

	report, err := runner.Run(ctx, fs.Args()...)
	if errors.Is(err, litmus.ErrUnknownTest) {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if report != nil {
		write := report.WriteText
		if *asJSON {
			write = report.WriteJSON
		}
		if werr := write(stdout); werr != nil {
			log.Errorf("write report: %v", werr)
		}
	}
	if err != nil {
		log.Errorf("run: %v", err)
		return exitFailed
	}
	if report.Failed() {
		return exitFailed
	}
	return exitOK
}

func serveCmd(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var rf runFlags
	if err := rf.bind(fs); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	addr := fs.String("addr", ":9464", "listen address for /metrics, /live and /ready")
	interval := fs.Duration("interval", 30*time.Second, "pause between litmus runs")
	segment := fs.String("segment", "", "publish run totals in this shared memory segment")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := rf.config()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cfg.Registerer = reg
	runner, err := litmus.NewRunner(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	defer runner.Close()

	var shared *totals
	if *segment != "" {
		if shared, err = openTotals(ctx, *segment, true); err != nil {
			log.Errorf("segment %s: %v", *segment, err)
			return exitFailed
		}
		defer shared.close()
	}

	monitor := health.NewMonitor(health.Options{
		Registerer:    reg,
		MaxGoroutines: 10000,
		ShmBytes:      segmentSize,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", monitor.LiveEndpoint)
	mux.HandleFunc("/ready", monitor.ReadyEndpoint)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("serving on %s", *addr)
		serveErr <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		report, err := runner.Run(ctx)
		if report != nil && err == nil {
			monitor.Observe(report)
			shared.add(report)
			if report.Failed() {
				log.Errorf("litmus run had %d violations", report.Violations())
			}
		}
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnf("shutdown: %v", err)
			}
			return exitOK
		case err := <-serveErr:
			log.Errorf("serve: %v", err)
			return exitFailed
		case <-ticker.C:
		}
	}
}

func statCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	segment := fs.String("segment", "", "shared memory segment written by serve")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *segment == "" {
		fmt.Fprintln(stderr, "stat: -segment is required")
		return exitUsage
	}
	t, err := openTotals(ctx, *segment, false)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer t.close()
	runs, violations := t.load()
	fmt.Fprintf(stdout, "runs %d\nviolations %d\nattached %d\n", runs, violations, t.seg.Attached())
	return exitOK
}
