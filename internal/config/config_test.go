package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/daryltucker/infer-bench/internal/bench"
	"github.com/daryltucker/infer-bench/internal/device"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.NumSteps != 64 || cfg.Policy() != device.PolicyFallback {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if f := cfg.Flags(); !f.AutoTune || !f.AllowTF32 {
		t.Fatalf("unexpected flags %+v", f)
	}
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `device: cpu
num_steps: 8
compile_graph: true
seed: 7
models:
  - name: small-mlp
    arch: mlp
    input_shapes: [[2, 512]]
exclude: [vgg]
log:
  level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "cpu" || cfg.NumSteps != 8 || !cfg.CompileGraph || cfg.Seed != 7 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].ArchOf() != "mlp" || !slices.Equal(cfg.Models[0].InputShapes[0], []int{2, 512}) {
		t.Fatalf("unexpected models: %+v", cfg.Models)
	}
	// Fields absent from the file keep their defaults.
	if cfg.OutputFile != "infer_results.csv" || cfg.Log.Format != "console" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if m, err := cfg.Mode(); err != nil || m != bench.CompiledGraph {
		t.Fatalf("mode = %v, %v", m, err)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"device":"accel:1","num_steps":3,"reduced_precision":true,"models":[{"name":"transformer","input_shapes":[[1,8,64],[1,8,64]]}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "accel:1" || cfg.NumSteps != 3 || !cfg.ReducedPrecision || len(cfg.Models[0].InputShapes) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", `device = "gpu:0"
num_steps = 16
allow_tf32 = false

[[models]]
name = "resnet"
input_shapes = [[4, 3, 16, 16]]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "gpu:0" || cfg.NumSteps != 16 || cfg.AllowTF32 || cfg.Models[0].Name != "resnet" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	d := t.TempDir()
	if _, err := Load(filepath.Join(d, "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit file")
	}
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "bad.yaml", "num_steps: [oops")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("expected parse error naming the file, got %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Models) != len(DefaultConfig().Models) {
		t.Fatalf("expected default models, got %+v", cfg.Models)
	}
}

func TestLoadFindsDefaultFile(t *testing.T) {
	d := t.TempDir()
	writeTempFile(t, d, "infer_bench.toml", "num_steps = 5\n")
	t.Chdir(d)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NumSteps != 5 {
		t.Fatalf("default file not loaded: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INFER_BENCH_NUM_STEPS", "12")
	t.Setenv("INFER_BENCH_DEVICE", "cpu")
	t.Setenv("INFER_BENCH_REDUCED_PRECISION", "true")
	t.Setenv("INFER_BENCH_EXCLUDE", "vgg, ,resnet")
	t.Setenv("INFER_BENCH_SEED", "99")
	cfg, err := Load(writeTempFile(t, t.TempDir(), "cfg.yaml", "num_steps: 3\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NumSteps != 12 || cfg.Device != "cpu" || !cfg.ReducedPrecision || cfg.Seed != 99 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.Exclude, []string{"vgg", "resnet"}) {
		t.Fatalf("exclude = %v", cfg.Exclude)
	}
}

func TestEnvParseErrors(t *testing.T) {
	env := map[string]string{
		"INFER_BENCH_NUM_STEPS": "many",
		"INFER_BENCH_AUTOTUNE":  "sometimes",
	}
	err := DefaultConfig().ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil || !strings.Contains(err.Error(), "NUM_STEPS") || !strings.Contains(err.Error(), "AUTOTUNE") {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		is     error
		text   string
	}{
		"incompatible modes": {func(c *Config) { c.ReducedPrecision, c.CompileGraph = true, true }, bench.ErrIncompatibleModes, ""},
		"zero steps":         {func(c *Config) { c.NumSteps = 0 }, bench.ErrInvalidSteps, ""},
		"bad device":         {func(c *Config) { c.Device = "tpu:0" }, nil, "tpu"},
		"no models":          {func(c *Config) { c.Models = nil }, nil, "no model"},
		"unknown arch":       {func(c *Config) { c.Models[0].Arch = "alexnet" }, nil, "alexnet"},
		"zero dim":           {func(c *Config) { c.Models[0].InputShapes = [][]int{{8, 0}} }, nil, "invalid input shape"},
		"no shapes":          {func(c *Config) { c.Models[0].InputShapes = nil }, nil, "no input shapes"},
		"duplicate":          {func(c *Config) { c.Models[1].Name = c.Models[0].Name }, nil, "duplicate"},
		"unknown selection":  {func(c *Config) { c.Only = []string{"bert"} }, nil, "bert"},
		"unknown mode":       {func(c *Config) { c.ExecMode = "turbo" }, bench.ErrUnknownMode, "turbo"},
		"mode conflict":      {func(c *Config) { c.ExecMode, c.CompileGraph = "amp", true }, bench.ErrIncompatibleModes, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
			if tc.text != "" && !strings.Contains(err.Error(), tc.text) {
				t.Fatalf("error %q does not mention %q", err, tc.text)
			}
		})
	}
}

func TestModeKey(t *testing.T) {
	cases := map[string]struct {
		file    string
		env     string
		want    bench.Mode
		reduced bool
	}{
		"yaml name":            {file: "mode: compiled-graph\n", want: bench.CompiledGraph},
		"yaml alias":           {file: "mode: amp\n", want: bench.ReducedPrecision},
		"key agrees with flag": {file: "mode: amp\nreduced_precision: true\n", want: bench.ReducedPrecision, reduced: true},
		"env wins":             {file: "mode: amp\n", env: "compile", want: bench.CompiledGraph},
		"absent":               {file: "num_steps: 2\n", want: bench.Standard},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("INFER_BENCH_MODE", tc.env)
			}
			cfg, err := Load(writeTempFile(t, t.TempDir(), "cfg.yaml", tc.file))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
			m, err := cfg.Mode()
			if err != nil || m != tc.want || cfg.ReducedPrecision != tc.reduced {
				t.Fatalf("mode = %v, %v (reduced_precision %v)", m, err, cfg.ReducedPrecision)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireAccelerator = true
	if cfg.Policy() != device.PolicyRequire {
		t.Fatalf("expected PolicyRequire")
	}
}
