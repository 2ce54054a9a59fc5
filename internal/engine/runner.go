/*
PURPOSE:
  High-level runner that orchestrates the benchmarking process.
  Resolves the device, prints diagnostics, then measures each model
  configuration in turn.

REQUIREMENTS:
  User-specified:
  - Print the environment and the execution mode flags before any run.
  - For each configuration print the model, its input shapes, the average
    time per step and the total time.
  - Log results to CSV/JSON.

  Implementation-discovered:
  - Configurations run strictly one after another; each gets fresh inputs,
    a fresh stream and its own warm-up.
  - A failed configuration still produces a row so the file shows where
    the suite stopped.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine, internal/bench, internal/envinfo,
    internal/metrics, internal/output

ERROR HANDLING:
  - Configuration errors abort before any model is built.
  - A network error aborts the suite after its row is written. No retries.
  - Output write failures are logged and do not stop the suite.

IMPLEMENTATION RULES:
  - Iterate configurations sequentially.
  - Results files are versioned (results.csv.1) instead of overwritten.

USAGE:
  engine.Run(ctx, cfg)

RELATED FILES:
  - internal/engine/engine.go
  - internal/bench/runner.go
*/

package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/daryltucker/infer-bench/internal/bench"
	"github.com/daryltucker/infer-bench/internal/config"
	"github.com/daryltucker/infer-bench/internal/envinfo"
	"github.com/daryltucker/infer-bench/internal/model"
	"github.com/daryltucker/infer-bench/internal/output"
)

// Summary describes a finished suite.
type Summary struct {
	RunID       string
	CSVPath     string
	JSONPath    string
	MetricsPath string
	Results     []model.Result
}

// Run executes the full benchmark suite.
func Run(ctx context.Context, cfg *config.Config) error {
	_, err := New(cfg).Run(ctx)
	return err
}

// Run executes the suite and reports what it wrote.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	cfg := e.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := cfg.Mode()
	reducedPrecision, compileGraph := mode.Flags()
	flags := cfg.Flags()

	dev, err := e.Device()
	if err != nil {
		return nil, err
	}

	info := envinfo.Collect(ctx, envinfo.Options{Device: dev, Flags: flags, Mode: mode, Runner: e.Runner})
	for _, f := range info.Fields {
		output.Logger.Info().Msgf("%s: %s", f.Key, f.Value)
	}
	output.Logger.Info().Msgf("Reduced Precision Enabled: %t", mode == bench.ReducedPrecision)
	output.Logger.Info().Msgf("Compiled Graph Enabled: %t", mode == bench.CompiledGraph)

	models := e.Models()
	if len(models) == 0 {
		output.Logger.Warn().Msg("No model configurations left after filtering")
	}

	// Ensure output directory exists
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", cfg.OutputDir, err)
	}

	sum := &Summary{RunID: uuid.NewString()}

	sum.CSVPath, err = output.VersionedPath(filepath.Join(cfg.OutputDir, cfg.OutputFile))
	if err != nil {
		return nil, err
	}
	csvWriter, err := output.NewCSVWriter(sum.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init CSV writer at %s: %w", sum.CSVPath, err)
	}
	defer csvWriter.Close()

	sum.JSONPath, err = output.VersionedPath(filepath.Join(cfg.OutputDir, cfg.JSONFile))
	if err != nil {
		return nil, err
	}
	jsonWriter, err := output.NewJSONWriter(sum.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init JSON writer at %s: %w", sum.JSONPath, err)
	}
	defer jsonWriter.Close()

	record := func(res model.Result) {
		sum.Results = append(sum.Results, res)
		if err := csvWriter.Write(res); err != nil {
			output.Logger.Error().Err(err).Msg("Failed to write result to CSV")
		}
		if err := jsonWriter.Write(res); err != nil {
			output.Logger.Error().Err(err).Msg("Failed to write result to JSON")
		}
		e.Metrics.Observe(res)
	}

	runErr := func() error {
		for _, m := range models {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, err := e.RunConfig(m)
			if err != nil {
				return err
			}

			output.Logger.Info().Msgf("Model: %s", m.Name)
			output.Logger.Info().Msgf("Input shapes: %v", m.InputShapes)

			res := model.Result{
				RunID:       sum.RunID,
				Model:       m.Name,
				Arch:        m.ArchOf(),
				InputShapes: m.InputShapes,
				Device:      dev.String(),
				Mode:        mode.String(),
				AutoTune:    flags.AutoTune,
				AllowTF32:   flags.AllowTF32,
				Timestamp:   e.Now(),
				NumSteps:    cfg.NumSteps,
				WarmupSteps: bench.WarmupSteps,
			}

			bar := output.NewProgress(os.Stderr, m.Name, cfg.NumSteps, cfg.Progress)
			elapsed, err := e.Infer(rc, cfg.NumSteps, dev, flags, bench.Options{
				ReducedPrecision: reducedPrecision,
				CompileGraph:     compileGraph,
				Seed:             cfg.Seed,
				Observer:         bar.Observe,
			})
			bar.Close()
			res.WallSeconds = e.Now().Sub(res.Timestamp).Seconds()

			if err != nil {
				output.Logger.Error().Err(err).Str("model", m.Name).Msg("Inference benchmark failed")
				res.Error = err.Error()
				record(res)
				return fmt.Errorf("model %s: %w", m.Name, err)
			}

			res.ElapsedMS = elapsed
			res.AverageMS = bench.AverageMS(elapsed, cfg.NumSteps)
			res.TotalSeconds = int(math.Round(elapsed / 1000))
			output.Logger.Info().Msgf("Average time: %7.3f milliseconds.", res.AverageMS)
			output.Logger.Info().Msgf("Total time: %3d seconds.", res.TotalSeconds)
			record(res)
		}
		return nil
	}()

	if cfg.MetricsFile != "" {
		sum.MetricsPath = cfg.MetricsFile
		if err := e.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			output.Logger.Error().Err(err).Str("path", cfg.MetricsFile).Msg("Failed to write metrics textfile")
		}
	}
	if runErr != nil {
		return sum, runErr
	}

	output.Logger.Info().
		Str("run_id", sum.RunID).
		Str("csv", sum.CSVPath).
		Str("json", sum.JSONPath).
		Int("models", len(sum.Results)).
		Msg("Suite complete")
	return sum, nil
}
