/*
PURPOSE:
  Defines the result record shared by the engine and the writers.
  One Result is produced per model configuration in a suite.

REQUIREMENTS:
  User-specified:
  - Record elapsed device time, average time per step and total seconds.
  - Track model name, input shapes, device and execution mode.

  Implementation-discovered:
  - The device recorded is the one actually used, which differs from the
    requested one after a CPU fallback.
  - A failed run still produces a row, with Error set.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Times are float64 milliseconds as reported by device events.

USAGE:
  res := model.Result{...}

SELF-HEALING INSTRUCTIONS:
  - If new metrics are needed, add field and update CSV/JSON writers.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update when adding new metrics to capture.
*/

package model

import (
	"time"
)

// Result represents the outcome of a single benchmark run.
type Result struct {
	RunID       string    `json:"run_id"`
	Model       string    `json:"model"`
	Arch        string    `json:"arch"`
	InputShapes [][]int   `json:"input_shapes"`
	Device      string    `json:"device"`
	Mode        string    `json:"mode"`
	AutoTune    bool      `json:"autotune"`
	AllowTF32   bool      `json:"allow_tf32"`
	Timestamp   time.Time `json:"timestamp"`

	NumSteps    int `json:"num_steps"`
	WarmupSteps int `json:"warmup_steps"`

	ElapsedMS    float64 `json:"elapsed_ms"`    // Device time of the measured region
	AverageMS    float64 `json:"average_ms"`    // ElapsedMS / NumSteps
	TotalSeconds int     `json:"total_seconds"` // Rounded, as logged
	WallSeconds  float64 `json:"wall_seconds"`  // Host time for the whole run, including build and warm-up

	Error string `json:"error,omitempty"` // If the run failed
}
