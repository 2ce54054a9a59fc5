/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes the full benchmark suite.

REQUIREMENTS:
  User-specified:
  - Run the benchmarks.
  - Flags for the step count, device and execution mode.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config, only for flags actually given, so a
    config file value is not reset by a flag default.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load fails or engine run fails.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Engine.Run.

USAGE:
  infer-bench run --steps 256 --device accel:0

RELATED FILES:
  - internal/cli/root.go
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/daryltucker/infer-bench/internal/engine"
)

var (
	stepsOverride       int
	deviceOverride      string
	reducedPrecision    bool
	compileGraph        bool
	modeOverride        string
	requireAccelerator  bool
	autoTune            bool
	allowTF32           bool
	seedOverride        uint64
	outputOverride      string
	metricsFileOverride string
	noProgress          bool
	excludeOverride     []string
	modelsOverride      []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark suite",
	Long: `Executes the benchmark suite on one device.
The process follows a strict protocol for every model configuration:
1. Configure: builds the network in evaluation mode and random inputs.
2. Warm Up: 16 untimed forward passes.
3. Measure: times --steps forward passes between two device events.

Results are saved to CSV and JSON Lines, with automatic file versioning
(e.g., infer_results.csv.1) to prevent overwriting previous data.`,
	Example: `  # Run with defaults (uses infer_bench.yaml when present)
  infer-bench run

  # Longer measurement on the second accelerator, results in ./benchmarks
  infer-bench run --steps 1024 --device accel:1 -o ./benchmarks

  # Run only specific models in reduced precision
  infer-bench run --models resnet,vgg --reduced-precision

  # Fail instead of falling back to the CPU
  infer-bench run --require-accelerator --compile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// 2. Overrides
		flags := cmd.Flags()
		if flags.Changed("steps") {
			cfg.NumSteps = stepsOverride
		}
		if flags.Changed("device") {
			cfg.Device = deviceOverride
		}
		if flags.Changed("reduced-precision") {
			cfg.ReducedPrecision = reducedPrecision
		}
		if flags.Changed("compile") {
			cfg.CompileGraph = compileGraph
		}
		if flags.Changed("mode") {
			cfg.ExecMode = modeOverride
		}
		if flags.Changed("require-accelerator") {
			cfg.RequireAccelerator = requireAccelerator
		}
		if flags.Changed("autotune") {
			cfg.AutoTune = autoTune
		}
		if flags.Changed("allow-tf32") {
			cfg.AllowTF32 = allowTF32
		}
		if flags.Changed("seed") {
			cfg.Seed = seedOverride
		}
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}
		if metricsFileOverride != "" {
			cfg.MetricsFile = metricsFileOverride
		}
		if noProgress {
			cfg.Progress = false
		}
		if len(excludeOverride) > 0 {
			cfg.Exclude = excludeOverride
		}
		if len(modelsOverride) > 0 {
			cfg.Only = modelsOverride
		}

		// 3. Execution
		return engine.Run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.IntVar(&stepsOverride, "steps", 0, "Number of measured forward passes per model (default from config: 64)")
	f.StringVar(&deviceOverride, "device", "", "Device: cpu, accel[:N] (aliases cuda[:N], gpu[:N])")
	f.BoolVar(&reducedPrecision, "reduced-precision", false, "Run matmul-class kernels in fp16 (incompatible with --compile)")
	f.BoolVar(&compileGraph, "compile", false, "Fuse and trace the layer graph before measuring")
	f.StringVar(&modeOverride, "mode", "", "Execution mode: standard, reduced-precision (amp) or compiled-graph (compile)")
	f.BoolVar(&requireAccelerator, "require-accelerator", false, "Fail instead of falling back to the CPU")
	f.BoolVar(&autoTune, "autotune", true, "Pick the fastest convolution algorithm per input shape")
	f.BoolVar(&allowTF32, "allow-tf32", true, "Round fp32 matmul operands to tf32")
	f.Uint64Var(&seedOverride, "seed", 0, "Seed for weights and inputs")
	f.StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (CSV/JSON)")
	f.StringVar(&metricsFileOverride, "metrics-file", "", "Write Prometheus metrics to this textfile")
	f.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	f.StringSliceVar(&excludeOverride, "exclude", nil, "Comma-separated list of substrings to exclude from model names")
	f.StringSliceVar(&modelsOverride, "models", nil, "Comma-separated list of specific models to run")
}
