/*
PURPOSE:
  Defines the configuration structure and loading logic for infer-bench.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Allow configuration of the device, step count, execution mode and the
    list of model configurations to measure.

  Implementation-discovered:
  - YAML is the primary format; TOML and JSON are accepted by extension.
  - Environment variables override the file (INFER_BENCH_...).
  - The two legacy mode booleans are kept at this boundary and converted
    into a single execution mode by Validate.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3, github.com/pelletier/go-toml/v2

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - A missing default file is not an error; defaults are used.
  - Validate reports configuration errors before any model is built.

IMPLEMENTATION RULES:
  - Config struct tags support yaml, toml and json.
  - Defaults should be sensible (64 steps, fallback to CPU).

USAGE:
  cfg, err := config.Load("infer_bench.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct, DefaultConfig() and envVars.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/daryltucker/infer-bench/internal/bench"
	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/nn/zoo"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INFER_BENCH_"

// DefaultFiles are searched in order when no config path is given.
var DefaultFiles = []string{"infer_bench.yaml", "infer_bench.yml", "infer_bench.toml", "infer_bench.json"}

// ModelConfig is one entry of the suite: a zoo architecture and its input shapes.
type ModelConfig struct {
	Name        string  `yaml:"name" toml:"name" json:"name"`
	Arch        string  `yaml:"arch" toml:"arch" json:"arch"` // Defaults to Name
	InputShapes [][]int `yaml:"input_shapes" toml:"input_shapes" json:"input_shapes"`
}

// LogConfig selects the log level and format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Config represents the full configuration for infer-bench.
type Config struct {
	Device             string `yaml:"device" toml:"device" json:"device"`
	RequireAccelerator bool   `yaml:"require_accelerator" toml:"require_accelerator" json:"require_accelerator"`
	NumSteps           int    `yaml:"num_steps" toml:"num_steps" json:"num_steps"`
	ReducedPrecision   bool   `yaml:"reduced_precision" toml:"reduced_precision" json:"reduced_precision"`
	CompileGraph       bool   `yaml:"compile_graph" toml:"compile_graph" json:"compile_graph"`
	ExecMode           string `yaml:"mode" toml:"mode" json:"mode"` // standard, reduced-precision or compiled-graph
	AutoTune           bool   `yaml:"autotune" toml:"autotune" json:"autotune"`
	AllowTF32          bool   `yaml:"allow_tf32" toml:"allow_tf32" json:"allow_tf32"`
	Seed               uint64 `yaml:"seed" toml:"seed" json:"seed"`

	OutputDir   string `yaml:"output_dir" toml:"output_dir" json:"output_dir"`
	OutputFile  string `yaml:"output_file" toml:"output_file" json:"output_file"`
	JSONFile    string `yaml:"json_file" toml:"json_file" json:"json_file"`
	MetricsFile string `yaml:"metrics_file" toml:"metrics_file" json:"metrics_file"` // Prometheus textfile, empty disables
	Progress    bool   `yaml:"progress" toml:"progress" json:"progress"`

	Models []ModelConfig `yaml:"models" toml:"models" json:"models"`
	// Only restricts the suite to these model names.
	Only []string `yaml:"only" toml:"only" json:"only"`
	// Exclude is a list of strings to filter model names (substring match)
	Exclude []string `yaml:"exclude" toml:"exclude" json:"exclude"`

	Log LogConfig `yaml:"log" toml:"log" json:"log"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Device:     "accel:0",
		NumSteps:   64,
		AutoTune:   true,
		AllowTF32:  true,
		OutputDir:  ".",
		OutputFile: "infer_results.csv",
		JSONFile:   "infer_results.jsonl",
		Progress:   true,
		Models: []ModelConfig{
			{Name: "mlp", InputShapes: [][]int{{8, 512}}},
			{Name: "vgg", InputShapes: [][]int{{8, 3, 32, 32}}},
			{Name: "resnet", InputShapes: [][]int{{8, 3, 32, 32}}},
			{Name: "transformer", InputShapes: [][]int{{1, 64, 64}, {1, 64, 64}}},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// If no file found, the defaults are used. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, name := range DefaultFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile decodes path over cfg based on its extension.
// Supports: .yaml/.yml/.conf, .json, .toml
func (cfg *Config) ReadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".conf", "":
		err = yaml.Unmarshal(b, cfg)
	case ".json":
		err = json.Unmarshal(b, cfg)
	case ".toml":
		err = toml.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from INFER_BENCH_* variables found by lookup.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("DEVICE", &cfg.Device)
	str("MODE", &cfg.ExecMode)
	str("OUTPUT_DIR", &cfg.OutputDir)
	str("METRICS_FILE", &cfg.MetricsFile)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	boolean("REQUIRE_ACCELERATOR", &cfg.RequireAccelerator)
	boolean("REDUCED_PRECISION", &cfg.ReducedPrecision)
	boolean("COMPILE_GRAPH", &cfg.CompileGraph)
	boolean("AUTOTUNE", &cfg.AutoTune)
	boolean("ALLOW_TF32", &cfg.AllowTF32)
	boolean("PROGRESS", &cfg.Progress)

	if v, ok := lookup(EnvPrefix + "NUM_STEPS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sNUM_STEPS: %w", EnvPrefix, err))
		} else {
			cfg.NumSteps = n
		}
	}
	if v, ok := lookup(EnvPrefix + "SEED"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			cfg.Seed = n
		}
	}
	if v, ok := lookup(EnvPrefix + "EXCLUDE"); ok {
		cfg.Exclude = SplitList(v)
	}
	if v, ok := lookup(EnvPrefix + "MODELS"); ok {
		cfg.Only = SplitList(v)
	}
	return errors.Join(errs...)
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Mode resolves the execution mode from the mode key and the two mode
// booleans. A boolean naming a different mode than the key is an error.
func (cfg *Config) Mode() (bench.Mode, error) {
	flagged, err := bench.ModeFromFlags(cfg.ReducedPrecision, cfg.CompileGraph)
	if err != nil || cfg.ExecMode == "" {
		return flagged, err
	}
	named, err := bench.ParseMode(cfg.ExecMode)
	if err != nil {
		return bench.Standard, err
	}
	if flagged != bench.Standard && flagged != named {
		return bench.Standard, fmt.Errorf("%w: mode %s conflicts with %s", bench.ErrIncompatibleModes, named, flagged)
	}
	return named, nil
}

// Flags returns the backend flags fixed for the whole process.
func (cfg *Config) Flags() device.Flags {
	return device.Flags{AutoTune: cfg.AutoTune, AllowTF32: cfg.AllowTF32}
}

// Policy returns how a missing accelerator is handled.
func (cfg *Config) Policy() device.Policy {
	if cfg.RequireAccelerator {
		return device.PolicyRequire
	}
	return device.PolicyFallback
}

// ArchOf returns the zoo architecture of m.
func (m ModelConfig) ArchOf() string {
	if m.Arch != "" {
		return m.Arch
	}
	return m.Name
}

// Validate checks everything that can be checked without building a network.
func (cfg *Config) Validate() error {
	if _, err := cfg.Mode(); err != nil {
		return err
	}
	if cfg.NumSteps < 1 {
		return fmt.Errorf("%w: got %d", bench.ErrInvalidSteps, cfg.NumSteps)
	}
	if _, err := device.Parse(cfg.Device); err != nil {
		return err
	}
	if len(cfg.Models) == 0 {
		return errors.New("no model configurations")
	}

	seen := make(map[string]bool, len(cfg.Models))
	for i, m := range cfg.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: missing name", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("models[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true
		if _, ok := zoo.Lookup(m.ArchOf()); !ok {
			return fmt.Errorf("model %q: unknown architecture %q (known: %s)", m.Name, m.ArchOf(), strings.Join(zoo.Names(), ", "))
		}
		if len(m.InputShapes) == 0 {
			return fmt.Errorf("model %q: no input shapes", m.Name)
		}
		for _, s := range m.InputShapes {
			if len(s) == 0 || slices.ContainsFunc(s, func(d int) bool { return d < 1 }) {
				return fmt.Errorf("model %q: invalid input shape %v", m.Name, s)
			}
		}
	}
	for _, name := range cfg.Only {
		if !seen[name] {
			return fmt.Errorf("selected model %q is not configured", name)
		}
	}
	return nil
}
