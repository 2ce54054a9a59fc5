package bench

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/nn"
	"github.com/daryltucker/infer-bench/internal/nn/zoo"
	"github.com/daryltucker/infer-bench/internal/tensor"
)

// spy counts factory and forward calls and can run a hook per forward.
type spy struct {
	built atomic.Int32
	calls atomic.Int32
	hook  func(c *nn.Context, call int) error
}

func (s *spy) factory() (nn.Network, error) {
	s.built.Add(1)
	return nn.NetworkFunc(func(c *nn.Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
		n := int(s.calls.Add(1))
		if s.hook != nil {
			if err := s.hook(c, n); err != nil {
				return nil, err
			}
		}
		return inputs, nil
	}), nil
}

func (s *spy) config() RunConfig {
	return RunConfig{Name: "spy", Network: s.factory, InputShapes: [][]int{{1, 3, 8, 8}}}
}

func accelerator() device.Device {
	return device.Device{Kind: device.Accelerator, Name: "test", Units: 2}
}

func TestInferWarmupAndMeasureCounts(t *testing.T) {
	sp := &spy{hook: func(*nn.Context, int) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}}
	elapsed, err := Infer(sp.config(), 10, accelerator(), device.Flags{}, Options{})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if got := sp.calls.Load(); got != 26 {
		t.Fatalf("expected 26 invocations (16 warm-up + 10 measured), got %d", got)
	}
	if elapsed < 20 {
		t.Fatalf("elapsed %.3fms shorter than 10 x 2ms", elapsed)
	}
	if elapsed > 2000 {
		t.Fatalf("elapsed %.3fms implausibly long", elapsed)
	}
	if avg := AverageMS(elapsed, 10); avg != elapsed/10 {
		t.Fatalf("average %v != elapsed/steps %v", avg, elapsed/10)
	}
}

func TestInferRejectsIncompatibleModesBeforeDeviceWork(t *testing.T) {
	sp := &spy{}
	_, err := Infer(sp.config(), 10, accelerator(), device.Flags{}, Options{ReducedPrecision: true, CompileGraph: true})
	if !errors.Is(err, ErrIncompatibleModes) {
		t.Fatalf("expected ErrIncompatibleModes, got %v", err)
	}
	if sp.built.Load() != 0 || sp.calls.Load() != 0 {
		t.Fatalf("network touched: built=%d calls=%d", sp.built.Load(), sp.calls.Load())
	}
}

func TestZeroStepsRejected(t *testing.T) {
	sp := &spy{}
	if _, err := Infer(sp.config(), 0, accelerator(), device.Flags{}, Options{}); !errors.Is(err, ErrInvalidSteps) {
		t.Fatalf("expected ErrInvalidSteps, got %v", err)
	}
	if sp.built.Load() != 0 {
		t.Fatalf("factory called for an invalid run")
	}

	net, _ := sp.factory()
	s := device.NewStream(device.HostCPU())
	defer s.Close()
	ec := nn.NewContext(device.Flags{}, device.HostCPU())
	if _, err := MeasureInference(s, net, ec, nil, 0, nil); !errors.Is(err, ErrInvalidSteps) {
		t.Fatalf("expected ErrInvalidSteps, got %v", err)
	}
	if sp.calls.Load() != 0 {
		t.Fatalf("network invoked %d times for zero steps", sp.calls.Load())
	}
}

func TestWarmupPrecedesFirstTimedCall(t *testing.T) {
	sp := &spy{}
	net, _ := sp.factory()
	s := device.NewStream(device.HostCPU())
	defer s.Close()
	ec := nn.NewContext(device.Flags{}, device.HostCPU())

	var steps []int
	observe := func(step, total int) {
		// CPU streams run inline, so the launch for this step has completed.
		if want := int32(WarmupSteps + step); sp.calls.Load() != want {
			t.Errorf("step %d: %d calls so far, want %d", step, sp.calls.Load(), want)
		}
		if total != 5 {
			t.Errorf("total = %d", total)
		}
		steps = append(steps, step)
	}
	elapsed, err := MeasureInference(s, net, ec, nil, 5, observe)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if elapsed < 0 {
		t.Fatalf("negative elapsed %v", elapsed)
	}
	if len(steps) != 5 || steps[4] != 5 {
		t.Fatalf("observer saw %v", steps)
	}
}

func TestWarmupIsExcludedFromTiming(t *testing.T) {
	sp := &spy{hook: func(_ *nn.Context, call int) error {
		if call <= WarmupSteps {
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	}}
	elapsed, err := Infer(sp.config(), 4, accelerator(), device.Flags{}, Options{})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if elapsed >= 80 {
		t.Fatalf("elapsed %.3fms includes the 160ms warm-up", elapsed)
	}
}

func TestSequentialRunsEachWarmUp(t *testing.T) {
	first, second := &spy{}, &spy{}
	for _, sp := range []*spy{first, second} {
		if _, err := Infer(sp.config(), 3, accelerator(), device.Flags{}, Options{}); err != nil {
			t.Fatalf("infer: %v", err)
		}
	}
	if first.calls.Load() != 19 || second.calls.Load() != 19 {
		t.Fatalf("expected 19 calls per run, got %d and %d", first.calls.Load(), second.calls.Load())
	}
}

func TestNetworkErrorPropagatesUnchanged(t *testing.T) {
	boom := errors.New("bad input shape")
	sp := &spy{hook: func(_ *nn.Context, call int) error {
		if call == 3 {
			return boom
		}
		return nil
	}}
	_, err := Infer(sp.config(), 8, accelerator(), device.Flags{}, Options{})
	if err != boom {
		t.Fatalf("expected the network error unchanged, got %v", err)
	}
	if sp.calls.Load() != 3 {
		t.Fatalf("launches after the failure should be skipped, got %d calls", sp.calls.Load())
	}
}

func TestScopesCoverEveryPass(t *testing.T) {
	var bad atomic.Int32
	sp := &spy{hook: func(c *nn.Context, _ int) error {
		if c.GradEnabled() || c.Precision() != tensor.Float16 {
			bad.Add(1)
		}
		return nil
	}}
	if _, err := Infer(sp.config(), 4, accelerator(), device.Flags{}, Options{ReducedPrecision: true}); err != nil {
		t.Fatalf("infer: %v", err)
	}
	if bad.Load() != 0 {
		t.Fatalf("%d passes ran outside no-grad/fp16 scope", bad.Load())
	}
}

func TestMeasureInferenceRestoresGradMode(t *testing.T) {
	sp := &spy{}
	net, _ := sp.factory()
	s := device.NewStream(accelerator())
	defer s.Close()
	ec := nn.NewContext(device.Flags{}, accelerator())
	if _, err := MeasureInference(s, net, ec, nil, 2, nil); err != nil {
		t.Fatalf("measure: %v", err)
	}
	if !ec.GradEnabled() {
		t.Fatalf("grad mode not restored after measurement")
	}
}

func TestMeasureInferenceRestoresGradModeOnError(t *testing.T) {
	boom := errors.New("kernel fault")
	for _, dev := range []device.Device{device.HostCPU(), accelerator()} {
		t.Run(dev.String(), func(t *testing.T) {
			sp := &spy{hook: func(_ *nn.Context, call int) error {
				if call == 3 {
					return boom
				}
				return nil
			}}
			net, _ := sp.factory()
			s := device.NewStream(dev)
			defer s.Close()
			ec := nn.NewContext(device.Flags{}, dev)
			if _, err := MeasureInference(s, net, ec, nil, 2, nil); !errors.Is(err, boom) {
				t.Fatalf("expected network error, got %v", err)
			}
			if !ec.GradEnabled() {
				t.Fatalf("grad mode not restored after a failed measurement")
			}
		})
	}
}

func TestInputSmallerThanPoolWindow(t *testing.T) {
	rc := RunConfig{
		Name:        "vgg",
		Network:     func() (nn.Network, error) { return zoo.VGG(1) },
		InputShapes: [][]int{{1, 3, 3, 3}},
	}
	tiny := rc
	tiny.InputShapes = [][]int{{1, 3, 1, 1}}
	cases := map[string]struct {
		rc   RunConfig
		dev  device.Device
		opts Options
	}{
		"standard cpu":        {rc, device.HostCPU(), Options{}},
		"standard accel":      {rc, accelerator(), Options{}},
		"reduced precision":   {rc, accelerator(), Options{ReducedPrecision: true}},
		"compiled graph":      {rc, accelerator(), Options{CompileGraph: true}},
		"single pixel":        {tiny, accelerator(), Options{}},
		"single pixel on cpu": {tiny, device.HostCPU(), Options{CompileGraph: true}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Infer(tc.rc, 1, tc.dev, device.Flags{AutoTune: true}, tc.opts)
			if !errors.Is(err, tensor.ErrShape) {
				t.Fatalf("expected ErrShape, got %v", err)
			}
		})
	}
}

func TestCompiledGraphMode(t *testing.T) {
	rc := RunConfig{
		Name:        "mlp",
		Network:     func() (nn.Network, error) { return zoo.MLP(1) },
		InputShapes: [][]int{{4, 512}},
	}
	elapsed, err := Infer(rc, 2, accelerator(), device.Flags{AllowTF32: true}, Options{CompileGraph: true, Seed: 9})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if elapsed < 0 || math.IsNaN(elapsed) {
		t.Fatalf("bad elapsed %v", elapsed)
	}

	sp := &spy{}
	if _, err := Infer(sp.config(), 2, accelerator(), device.Flags{}, Options{CompileGraph: true}); !errors.Is(err, nn.ErrNotCompilable) {
		t.Fatalf("expected ErrNotCompilable, got %v", err)
	}
}

func TestInferOnCPU(t *testing.T) {
	sp := &spy{}
	elapsed, err := Infer(sp.config(), 3, device.HostCPU(), device.Flags{}, Options{})
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if elapsed < 0 || sp.calls.Load() != 19 {
		t.Fatalf("elapsed=%v calls=%d", elapsed, sp.calls.Load())
	}
}
