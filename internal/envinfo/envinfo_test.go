package envinfo

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"

	"github.com/daryltucker/infer-bench/internal/device"
)

type fakeRunner struct {
	out   string
	err   error
	calls []Cmd
}

func (f *fakeRunner) Output(_ context.Context, c Cmd) ([]byte, error) {
	f.calls = append(f.calls, c)
	return []byte(f.out), f.err
}

type stringer string

func (s stringer) String() string { return string(s) }

func TestParseGPU(t *testing.T) {
	cases := map[string]struct {
		in   string
		want GPU
		bad  bool
	}{
		"single":    {in: "NVIDIA GeForce RTX 3090, 8.6, 535.104.05\n", want: GPU{"NVIDIA GeForce RTX 3090", "8.6", "535.104.05"}},
		"first row": {in: "A100-SXM4-40GB, 8.0, 550.54\nTesla T4, 7.5, 550.54\n", want: GPU{"A100-SXM4-40GB", "8.0", "550.54"}},
		"empty":     {in: "", bad: true},
		"short":     {in: "550.54\n", bad: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseGPU([]byte(tc.in))
			if tc.bad {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got %+v, %v", got, err)
			}
		})
	}
}

func TestQueryGPUArgs(t *testing.T) {
	r := &fakeRunner{out: "Tesla T4, 7.5, 550.54\n"}
	if _, err := QueryGPU(context.Background(), r, 2); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0].Path != NvidiaSMI || !slices.Contains(r.calls[0].Args, "--id=2") {
		t.Fatalf("unexpected calls %+v", r.calls)
	}
}

func TestCollectWithGPU(t *testing.T) {
	r := &fakeRunner{out: "NVIDIA GeForce RTX 3090, 8.6, 535.104.05\n"}
	dev := device.Device{Kind: device.Accelerator, Index: 0, Name: "host stream", Units: 4}
	info := Collect(context.Background(), Options{Device: dev, Flags: device.Flags{AutoTune: true}, Mode: stringer("compiled-graph"), Runner: r})

	for key, want := range map[string]string{
		"Device":                      "accel:0",
		"Compute Units":               "4",
		"Host GPU Device Name":        "NVIDIA GeForce RTX 3090",
		"Host GPU Compute Capability": "8.6",
		"Host NVIDIA Driver Version":  "535.104.05",
		"AutoTune Enabled":            "true",
		"TF32 Allowed":                "false",
		"Execution Mode":              "compiled-graph",
	} {
		if got, ok := info.Get(key); !ok || got != want {
			t.Errorf("%s = %q (present %v), want %q", key, got, ok, want)
		}
	}
	if info.Fields[0].Key != "Go Version" || info.GPU == nil {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestCollectWithoutTool(t *testing.T) {
	r := &fakeRunner{err: exec.ErrNotFound}
	dev := device.Device{Kind: device.Accelerator, Index: 1, Name: "host stream", Units: 2}
	info := Collect(context.Background(), Options{Device: dev, Runner: r})
	if len(r.calls) != 1 {
		t.Fatalf("expected one query, got %d", len(r.calls))
	}
	if got, _ := info.Get("Host NVIDIA Driver Version"); got != Unavailable {
		t.Fatalf("driver = %q", got)
	}
	if info.GPU != nil {
		t.Fatalf("unexpected GPU %+v", info.GPU)
	}
	if _, ok := info.Get("Execution Mode"); ok {
		t.Fatalf("mode reported without one")
	}
}

func TestCollectOnCPUSkipsGPUQuery(t *testing.T) {
	r := &fakeRunner{out: "NVIDIA GeForce RTX 3090, 8.6, 535.104.05\n"}
	info := Collect(context.Background(), Options{Device: device.HostCPU(), Runner: r})
	if len(r.calls) != 0 {
		t.Fatalf("queried nvidia-smi for a CPU run: %+v", r.calls)
	}
	if got, _ := info.Get("Host GPU Device Name"); got != Unavailable || info.GPU != nil {
		t.Fatalf("GPU reported for a CPU run: %q %+v", got, info.GPU)
	}
}

func TestCPUFeaturesNeverEmpty(t *testing.T) {
	if len(CPUFeatures()) == 0 {
		t.Fatalf("no CPU features reported")
	}
}
