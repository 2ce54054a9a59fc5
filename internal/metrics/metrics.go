// Package metrics keeps Prometheus series for a benchmark suite and exports
// them in the node_exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/daryltucker/infer-bench/internal/model"
)

const namespace = "infer_bench"

var labels = []string{"model", "device", "mode"}

// Set is the collection of series for one suite. Each suite owns its registry
// so a textfile only carries the runs it measured.
type Set struct {
	reg *prometheus.Registry

	elapsed *prometheus.GaugeVec
	step    *prometheus.GaugeVec
	passes  *prometheus.CounterVec
	runs    *prometheus.CounterVec
}

// New registers every series on a fresh registry.
func New() *Set {
	s := &Set{
		reg: prometheus.NewRegistry(),
		elapsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "elapsed_milliseconds",
				Help:      "Device time of the measured region of the last run",
			},
			labels,
		),
		step: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "step_milliseconds",
				Help:      "Average device time per measured forward pass",
			},
			labels,
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_passes_total",
				Help:      "Forward passes launched, warm-up included",
			},
			labels,
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed model configurations by result",
			},
			[]string{"result"},
		),
	}
	s.reg.MustRegister(s.elapsed, s.step, s.passes, s.runs)
	return s
}

// Registry exposes the underlying registry.
func (s *Set) Registry() *prometheus.Registry { return s.reg }

// Observe records r. Failed runs only count towards runs_total.
func (s *Set) Observe(r model.Result) {
	if r.Error != "" {
		s.runs.WithLabelValues("error").Inc()
		return
	}
	s.runs.WithLabelValues("ok").Inc()
	lv := []string{r.Model, r.Device, r.Mode}
	s.elapsed.WithLabelValues(lv...).Set(r.ElapsedMS)
	s.step.WithLabelValues(lv...).Set(r.AverageMS)
	s.passes.WithLabelValues(lv...).Add(float64(r.WarmupSteps + r.NumSteps))
}

// WriteTextfile atomically writes every series to path.
func (s *Set) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, s.reg)
}
