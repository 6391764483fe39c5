package litmus

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/sugawarayuuta/sonnet"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

func smallConfig() Config {
	c := DefaultConfig()
	c.Trials = 5
	c.Iterations = 200
	c.Threads = 4
	c.Workers = 4
	return c
}

type RunnerTestSuite struct {
	suite.Suite
	reg    *prometheus.Registry
	runner *Runner
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) SetupTest() {
	s.reg = prometheus.NewRegistry()
	cfg := smallConfig()
	cfg.Registerer = s.reg
	r, err := NewRunner(cfg)
	s.Require().NoError(err)
	s.runner = r
}

func (s *RunnerTestSuite) TearDownTest() {
	s.runner.Close()
}

func (s *RunnerTestSuite) counter(name string, labels map[string]string) float64 {
	families, err := s.reg.Gather()
	s.Require().NoError(err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func matches(m *dto.Metric, labels map[string]string) bool {
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

func (s *RunnerTestSuite) TestCatalogPassesUnderEveryOrder() {
	for _, o := range atomics.Orders {
		cfg := smallConfig()
		cfg.Order = o
		r, err := NewRunner(cfg)
		s.Require().NoError(err)
		report, err := r.Run(context.Background())
		r.Close()
		s.Require().NoError(err, o.String())
		s.Len(report.Results, len(Catalog()))
		for _, res := range report.Results {
			s.Equal(cfg.Trials, res.Trials, res.Name)
			s.False(res.Failed, "%s under %s: %s", res.Name, o, res.Detail)
		}
		s.False(report.Failed())
	}
}

func (s *RunnerTestSuite) TestMetricsCountTrials() {
	_, err := s.runner.Run(context.Background(), "increment/8", "store-buffering")
	s.Require().NoError(err)

	s.Equal(5.0, s.counter("shm_atomics_litmus_trials_total", map[string]string{"test": "increment/8", "order": "seq_cst"}))
	s.Equal(5.0, s.counter("shm_atomics_litmus_trials_total", map[string]string{"test": "store-buffering", "outcome": "pass"}))
	s.Equal(0.0, s.counter("shm_atomics_litmus_violations_total", nil))

	// A second runner on the same registry shares the collectors.
	cfg := smallConfig()
	cfg.Registerer = s.reg
	again, err := NewRunner(cfg)
	s.Require().NoError(err)
	defer again.Close()
	_, err = again.Run(context.Background(), "increment/8")
	s.Require().NoError(err)
	s.Equal(10.0, s.counter("shm_atomics_litmus_trials_total", map[string]string{"test": "increment/8"}))
}

func (s *RunnerTestSuite) TestUnknownTest() {
	_, err := s.runner.Run(context.Background(), "increment/8", "nope")
	s.ErrorIs(err, ErrUnknownTest)
}

func (s *RunnerTestSuite) TestCancelledRunReturnsPartialReport() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := s.runner.Run(ctx, "cmpxchg", "exchange")
	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(report)
	s.Require().Len(report.Results, 1)
	s.Equal(0, report.Results[0].Trials)
}

func (s *RunnerTestSuite) TestClosedRunner() {
	s.runner.Close()
	_, err := s.runner.Run(context.Background())
	s.ErrorIs(err, ErrRunnerClosed)
}

func (s *RunnerTestSuite) TestThreadPanicIsReported() {
	err := s.runner.parallel(2, func(k int) {
		if k == 1 {
			panic("boom")
		}
	})
	s.ErrorIs(err, ErrThreadPanicked)
}

func (s *RunnerTestSuite) TestReportEncodings() {
	report, err := s.runner.Run(context.Background(), "bitwise", "message-passing")
	s.Require().NoError(err)

	var text bytes.Buffer
	s.Require().NoError(report.WriteText(&text))
	out := text.String()
	s.Contains(out, "backend "+atomics.Backend())
	s.Contains(out, "bitwise")
	s.Contains(out, "message-passing")
	s.NotContains(out, "FAIL")

	var js bytes.Buffer
	s.Require().NoError(report.WriteJSON(&js))
	var decoded Report
	s.Require().NoError(sonnet.Unmarshal(js.Bytes(), &decoded))
	s.Equal(report.Backend, decoded.Backend)
	s.Require().Len(decoded.Results, 2)
	s.Equal("message-passing", decoded.Results[1].Name)
	s.True(decoded.Results[1].Forbidden)
	s.True(strings.HasSuffix(js.String(), "\n"))
}

func TestVerifyConfig(t *testing.T) {
	assert.NoError(t, VerifyConfig(DefaultConfig()))

	bad := []func(*Config){
		func(c *Config) { c.Trials = 0 },
		func(c *Config) { c.Threads = -1 },
		func(c *Config) { c.Iterations = 0 },
		func(c *Config) { c.Workers = c.Threads - 1 },
		func(c *Config) { c.Threads, c.Workers = 1, 1 },
		func(c *Config) { c.Order = atomics.MemoryOrder(42) },
	}
	for i, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, VerifyConfig(c), "case %d", i)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvTrials, "7")
	t.Setenv(EnvOrder, "acq_rel")
	c, err := ConfigFromEnv(DefaultConfig())
	assert.NoError(t, err)
	assert.Equal(t, 7, c.Trials)
	assert.Equal(t, atomics.AcqRel, c.Order)
	assert.Equal(t, DefaultConfig().Threads, c.Threads)

	t.Setenv(EnvWorkers, "many")
	_, err = ConfigFromEnv(DefaultConfig())
	assert.ErrorContains(t, err, EnvWorkers)

	t.Setenv(EnvWorkers, "")
	t.Setenv(EnvOrder, "strong")
	_, err = ConfigFromEnv(DefaultConfig())
	assert.Error(t, err)
}

func TestForbiddenTable(t *testing.T) {
	mp, ok := Lookup("message-passing")
	assert.True(t, ok)
	sb, ok := Lookup("store-buffering")
	assert.True(t, ok)
	inc, ok := Lookup("increment/64")
	assert.True(t, ok)

	assert.False(t, mp.Forbidden(atomics.Relaxed))
	assert.False(t, mp.Forbidden(atomics.Release))
	assert.True(t, mp.Forbidden(atomics.AcqRel))
	assert.False(t, sb.Forbidden(atomics.AcqRel))
	assert.True(t, sb.Forbidden(atomics.SeqCst))
	for _, o := range atomics.Orders {
		assert.True(t, inc.Forbidden(o))
	}
}
