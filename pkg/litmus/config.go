package litmus

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

const (
	EnvTrials     = "SHMATOMICS_TRIALS"
	EnvThreads    = "SHMATOMICS_THREADS"
	EnvIterations = "SHMATOMICS_ITERATIONS"
	EnvWorkers    = "SHMATOMICS_WORKERS"
	EnvOrder      = "SHMATOMICS_ORDER"
)

// Config is used to configure a Runner.
type Config struct {
	// Trials is how many times each test runs.
	Trials int
	// Threads is how many goroutines race in the counter tests.
	Threads int
	// Iterations is how many operations each goroutine performs per trial.
	Iterations int
	// Workers bounds the goroutine pool. It must cover Threads and the two
	// threads of the ordering tests, since a trial's threads wait on each other.
	Workers int
	// Order is the memory order every operation under test uses.
	Order atomics.MemoryOrder

	// Registerer receives the Prometheus collectors. Nil uses a private registry.
	Registerer prometheus.Registerer
	Meter      metric.Meter
	Tracer     trace.Tracer
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() Config {
	return Config{
		Trials:     100,
		Threads:    4,
		Iterations: 1000,
		Workers:    8,
		Order:      atomics.SeqCst,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(c Config) error {
	if c.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Trials)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if need := max(c.Threads, pairThreads); c.Workers < need {
		return fmt.Errorf("workers must be at least %d, got %d", need, c.Workers)
	}
	if !c.Order.Valid() {
		return errors.New("order is not a valid memory order")
	}
	return nil
}

// ConfigFromEnv overlays the SHMATOMICS_* environment variables onto c.
func ConfigFromEnv(c Config) (Config, error) {
	ints := []struct {
		env string
		dst *int
	}{
		{EnvTrials, &c.Trials},
		{EnvThreads, &c.Threads},
		{EnvIterations, &c.Iterations},
		{EnvWorkers, &c.Workers},
	}
	for _, it := range ints {
		v := os.Getenv(it.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", it.env, err)
		}
		*it.dst = n
	}
	if v := os.Getenv(EnvOrder); v != "" {
		o, err := atomics.ParseMemoryOrder(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvOrder, err)
		}
		c.Order = o
	}
	return c, nil
}
