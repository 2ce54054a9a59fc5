/*
PURPOSE:
  Collects the software and hardware environment printed before a suite.
  Results are only comparable between machines when this is recorded.

REQUIREMENTS:
  User-specified:
  - Report the toolchain version, the architectures the binary targets,
    the device name, its compute capability and the driver version.

  Implementation-discovered:
  - GPU details come from nvidia-smi when it is installed; a missing tool
    is normal on CPU hosts and reads "unavailable", never an error.
  - Kernels run on host streams, so GPU fields are labelled as host
    inventory and are only queried for accelerator runs.
  - Field order matters for humans diffing two logs, so Fields is a slice.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine, internal/cli (env command)
  - Uses: golang.org/x/sys/cpu, internal/device

ERROR HANDLING:
  - Query failures are logged at debug level and reported as "unavailable".

IMPLEMENTATION RULES:
  - External commands go through CommandRunner so tests can fake them.
  - Every query is bounded by QueryTimeout.

USAGE:
  info := envinfo.Collect(ctx, envinfo.Options{Device: dev, Flags: flags})
  for _, f := range info.Fields { ... }

RELATED FILES:
  - internal/envinfo/exec.go
*/

package envinfo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/cpu"

	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/output"
)

// Unavailable is reported for anything that could not be queried.
const Unavailable = "unavailable"

// QueryTimeout bounds each external query.
const QueryTimeout = 5 * time.Second

// NvidiaSMI is the tool queried for GPU details.
const NvidiaSMI = "nvidia-smi"

// ErrMalformed is returned for tool output that cannot be parsed.
var ErrMalformed = errors.New("malformed query output")

// Field is one labelled diagnostic value.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GPU holds the values reported by nvidia-smi.
type GPU struct {
	Name              string `json:"name"`
	ComputeCapability string `json:"compute_capability"`
	DriverVersion     string `json:"driver_version"`
}

// Info is the collected environment.
type Info struct {
	Fields []Field `json:"fields"`
	GPU    *GPU    `json:"gpu,omitempty"`
}

// Get returns the value stored under key.
func (i Info) Get(key string) (string, bool) {
	for _, f := range i.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Options select what Collect reports.
type Options struct {
	Device device.Device
	Flags  device.Flags
	Mode   fmt.Stringer // Execution mode, omitted when nil
	Runner CommandRunner
}

// Collect gathers diagnostics. It never fails.
func Collect(ctx context.Context, opts Options) Info {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	var info Info
	add := func(k, v string) { info.Fields = append(info.Fields, Field{Key: k, Value: v}) }

	add("Go Version", runtime.Version())
	add("Module Version", moduleVersion())
	add("Platform", runtime.GOOS+"/"+runtime.GOARCH)
	add("Logical CPUs", strconv.Itoa(runtime.NumCPU()))
	add("CPU Architecture Targets", strings.Join(CPUFeatures(), " "))
	add("Device", opts.Device.String())
	add("Device Name", opts.Device.Name)
	add("Compute Units", strconv.Itoa(opts.Device.Units))

	// Kernels always run on the host, so the GPU fields describe host
	// inventory only. A CPU run does not look for one.
	var (
		gpu GPU
		err = errors.New("cpu device")
	)
	if opts.Device.Kind == device.Accelerator {
		gpu, err = QueryGPU(ctx, opts.Runner, opts.Device.Index)
	}
	if err != nil {
		output.Logger.Debug().Err(err).Msg("GPU query skipped or failed")
		add("Host GPU Device Name", Unavailable)
		add("Host GPU Compute Capability", Unavailable)
		add("Host NVIDIA Driver Version", Unavailable)
	} else {
		info.GPU = &gpu
		add("Host GPU Device Name", gpu.Name)
		add("Host GPU Compute Capability", gpu.ComputeCapability)
		add("Host NVIDIA Driver Version", gpu.DriverVersion)
	}

	add("AutoTune Enabled", strconv.FormatBool(opts.Flags.AutoTune))
	add("TF32 Allowed", strconv.FormatBool(opts.Flags.AllowTF32))
	if opts.Mode != nil {
		add("Execution Mode", opts.Mode.String())
	}
	return info
}

// QueryGPU asks nvidia-smi for the name, compute capability and driver
// version of GPU index.
func QueryGPU(ctx context.Context, r CommandRunner, index int) (GPU, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	out, err := r.Output(ctx, Cmd{
		Path: NvidiaSMI,
		Args: []string{
			"--id=" + strconv.Itoa(index),
			"--query-gpu=name,compute_cap,driver_version",
			"--format=csv,noheader",
		},
	})
	if err != nil {
		return GPU{}, err
	}
	return ParseGPU(out)
}

// ParseGPU reads the first line of "name, compute_cap, driver_version" output.
func ParseGPU(out []byte) (GPU, error) {
	rd := csv.NewReader(strings.NewReader(strings.TrimSpace(string(out))))
	rd.TrimLeadingSpace = true
	rd.FieldsPerRecord = -1
	rec, err := rd.Read()
	if err != nil {
		return GPU{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rec) != 3 {
		return GPU{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformed, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return GPU{Name: rec[0], ComputeCapability: rec[1], DriverVersion: rec[2]}, nil
}

// CPUFeatures lists the SIMD extensions the host offers to kernels.
func CPUFeatures() []string {
	var feats []string
	has := func(ok bool, name string) {
		if ok {
			feats = append(feats, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		has(cpu.X86.HasSSE41, "sse4.1")
		has(cpu.X86.HasSSE42, "sse4.2")
		has(cpu.X86.HasAVX, "avx")
		has(cpu.X86.HasAVX2, "avx2")
		has(cpu.X86.HasFMA, "fma")
		has(cpu.X86.HasAVX512F, "avx512f")
		has(cpu.X86.HasAVX512BF16, "avx512bf16")
	case "arm64":
		has(cpu.ARM64.HasFP, "fp")
		has(cpu.ARM64.HasASIMD, "asimd")
		has(cpu.ARM64.HasFPHP, "fphp")
		has(cpu.ARM64.HasASIMDHP, "asimdhp")
		has(cpu.ARM64.HasSVE, "sve")
	}
	if len(feats) == 0 {
		return []string{runtime.GOARCH}
	}
	return feats
}

func moduleVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" {
		return "(devel)"
	}
	return bi.Main.Version
}
