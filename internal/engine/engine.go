/*
PURPOSE:
  Core engine for the benchmark suite.
  Handles model discovery from the configuration, device resolution and
  the construction of run configurations from the model library.

REQUIREMENTS:
  User-specified:
  - Detect models (configured entries, narrowed by selection and exclusion).
  - Fall back to the CPU when no accelerator is found, unless required.

  Implementation-discovered:
  - Every collaborator that touches the host (device probe, external
    commands, the clock, the runner itself) is a field so tests can fake it.
  - A model's network is built from the configured seed, so two suites with
    the same seed measure identical weights.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/config, internal/bench, internal/device, internal/nn/zoo

ERROR HANDLING:
  - Unknown architectures are reported by name.
  - No retries: a failed measurement is not repeated.

IMPLEMENTATION RULES:
  - Exclusion is a case-insensitive substring match on the model name.

USAGE:
  e := engine.New(cfg)
  models := e.Models()

RELATED FILES:
  - internal/config/config.go
  - internal/engine/runner.go
*/

package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/daryltucker/infer-bench/internal/bench"
	"github.com/daryltucker/infer-bench/internal/config"
	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/envinfo"
	"github.com/daryltucker/infer-bench/internal/metrics"
	"github.com/daryltucker/infer-bench/internal/nn"
	"github.com/daryltucker/infer-bench/internal/nn/zoo"
	"github.com/daryltucker/infer-bench/internal/output"
)

// InferFunc measures one run configuration. bench.Infer is the default.
type InferFunc func(rc bench.RunConfig, numSteps int, dev device.Device, flags device.Flags, opts bench.Options) (float64, error)

// Engine runs a suite described by a Config.
type Engine struct {
	Config  *config.Config
	Probe   device.Prober
	Runner  envinfo.CommandRunner
	Metrics *metrics.Set
	Infer   InferFunc
	Now     func() time.Time
}

// New creates a new Engine.
func New(cfg *config.Config) *Engine {
	return &Engine{
		Config:  cfg,
		Probe:   device.HostProbe,
		Runner:  envinfo.ExecRunner{},
		Metrics: metrics.New(),
		Infer:   bench.Infer,
		Now:     time.Now,
	}
}

// Models returns the configured models that survive selection and exclusion,
// in configuration order.
func (e *Engine) Models() []config.ModelConfig {
	var out []config.ModelConfig
	for _, m := range e.Config.Models {
		if len(e.Config.Only) > 0 && !slices.Contains(e.Config.Only, m.Name) {
			continue
		}
		if ex, skip := excluded(m.Name, e.Config.Exclude); skip {
			output.Logger.Info().Str("model", m.Name).Str("filter", ex).Msg("Skipping model (excluded)")
			continue
		}
		out = append(out, m)
	}
	return out
}

func excluded(name string, filters []string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ex := range filters {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return ex, true
		}
	}
	return "", false
}

// Device resolves the configured device spec.
func (e *Engine) Device() (device.Device, error) {
	spec, err := device.Parse(e.Config.Device)
	if err != nil {
		return device.Device{}, err
	}
	return device.Resolve(spec, e.Config.Policy(), e.Probe)
}

// RunConfig turns a model entry into a run configuration. The network is
// built lazily by the runner.
func (e *Engine) RunConfig(m config.ModelConfig) (bench.RunConfig, error) {
	entry, ok := zoo.Lookup(m.ArchOf())
	if !ok {
		return bench.RunConfig{}, fmt.Errorf("model %q: unknown architecture %q", m.Name, m.ArchOf())
	}
	seed := e.Config.Seed
	return bench.RunConfig{
		Name:        m.Name,
		Network:     func() (nn.Network, error) { return entry.Factory(seed) },
		InputShapes: m.InputShapes,
	}, nil
}
