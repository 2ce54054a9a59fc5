/*
PURPOSE:
  Selects the compute device a benchmark runs on and carries the
  process-wide backend flags.

REQUIREMENTS:
  User-specified:
  - A device identifier picks the target ("cpu", "accel:0", ...).
  - Missing accelerators are handled by an explicit policy.
  - Backend toggles are set once and treated as read-only.

  Implementation-discovered:
  - "cuda:N" and "gpu:N" are accepted as aliases so existing run scripts
    keep working.
  - Probing is injectable for tests.

ARCHITECTURE INTEGRATION:
  - Used by: internal/bench, internal/engine, internal/envinfo
  - Calls: internal/output (fallback warning)

ERROR HANDLING:
  - Parse errors for malformed identifiers.
  - ErrNoAccelerator under PolicyRequire.

IMPLEMENTATION RULES:
  - No global mutable state. Flags are passed by value.

RELATED FILES:
  - internal/device/stream.go
*/

package device

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/daryltucker/infer-bench/internal/output"
)

// ErrNoAccelerator is returned when an accelerator is required but absent.
var ErrNoAccelerator = errors.New("no accelerator available")

// Kind distinguishes host execution from the queued accelerator.
type Kind int

const (
	// CPU executes work inline on the calling goroutine.
	CPU Kind = iota
	// Accelerator executes work asynchronously on an in-order stream.
	Accelerator
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case Accelerator:
		return "accel"
	default:
		return "unknown"
	}
}

// Device is a resolved compute target.
type Device struct {
	Kind  Kind
	Index int
	Name  string
	// Units is the number of compute units kernels may fan out across.
	Units int
}

func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// HostCPU is the single-unit inline device.
func HostCPU() Device {
	return Device{Kind: CPU, Name: "host " + runtime.GOARCH, Units: 1}
}

// Spec is a parsed, unresolved device identifier.
type Spec struct {
	Kind  Kind
	Index int
}

func (s Spec) String() string {
	if s.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("accel:%d", s.Index)
}

// Parse accepts "cpu", "accel", "accel:N", and the aliases "cuda[:N]" and "gpu[:N]".
func Parse(s string) (Spec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "cpu" {
		return Spec{Kind: CPU}, nil
	}
	name, idx, hasIdx := strings.Cut(s, ":")
	switch name {
	case "accel", "cuda", "gpu":
	default:
		return Spec{}, fmt.Errorf("unknown device %q", s)
	}
	if !hasIdx {
		return Spec{Kind: Accelerator}, nil
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Spec{}, fmt.Errorf("invalid device index in %q", s)
	}
	return Spec{Kind: Accelerator, Index: n}, nil
}

// Policy decides what happens when the requested accelerator is missing.
type Policy int

const (
	// PolicyFallback logs a warning and runs on the CPU.
	PolicyFallback Policy = iota
	// PolicyRequire fails with ErrNoAccelerator.
	PolicyRequire
)

// Prober enumerates the accelerators visible to the process.
type Prober interface {
	Accelerators() []Device
}

// ProberFunc adapts a function to Prober.
type ProberFunc func() []Device

func (f ProberFunc) Accelerators() []Device { return f() }

// HostProbe exposes one stream accelerator backed by all usable CPUs.
// A single-CPU process has nothing to overlap with and reports none.
var HostProbe Prober = ProberFunc(func() []Device {
	units := runtime.GOMAXPROCS(0)
	if units < 2 {
		return nil
	}
	return []Device{{
		Kind:  Accelerator,
		Index: 0,
		Name:  fmt.Sprintf("host stream %s/%s", runtime.GOOS, runtime.GOARCH),
		Units: units,
	}}
})

// Resolve maps a spec onto a concrete device.
func Resolve(spec Spec, policy Policy, probe Prober) (Device, error) {
	if spec.Kind == CPU {
		return HostCPU(), nil
	}
	accels := probe.Accelerators()
	for _, d := range accels {
		if d.Index == spec.Index {
			return d, nil
		}
	}
	if policy == PolicyRequire {
		return Device{}, fmt.Errorf("%w: requested %s, found %d", ErrNoAccelerator, spec, len(accels))
	}
	output.Logger.Warn().
		Str("requested", spec.String()).
		Int("found", len(accels)).
		Msg("No valid accelerator was found. Using CPU.")
	return HostCPU(), nil
}

// Flags are backend toggles fixed for the lifetime of the process.
type Flags struct {
	// AutoTune times candidate convolution algorithms per input shape
	// and keeps the fastest.
	AutoTune bool `json:"autotune"`
	// AllowTF32 rounds float32 matmul operands to a 10-bit mantissa.
	AllowTF32 bool `json:"allow_tf32"`
}
