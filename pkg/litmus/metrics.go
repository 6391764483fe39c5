package litmus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shm_atomics"

type promMetrics struct {
	trials     *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newPromMetrics(reg prometheus.Registerer) (*promMetrics, error) {
	m := &promMetrics{
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "litmus",
			Name:      "trials_total",
			Help:      "Litmus trials run, by test, memory order and outcome.",
		}, []string{"test", "order", "outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "litmus",
			Name:      "violations_total",
			Help:      "Rounds that broke the property a litmus test checks.",
		}, []string{"test", "order"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "litmus",
			Name:      "trial_duration_seconds",
			Help:      "Wall time of one litmus trial.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"test"}),
	}
	var err error
	if m.trials, err = register(reg, m.trials); err != nil {
		return nil, err
	}
	if m.violations, err = register(reg, m.violations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the collector a previous Runner registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
