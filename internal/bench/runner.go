/*
PURPOSE:
  Timed Inference Runner. Warms a network up, then times a fixed number of
  forward passes with events recorded on the device stream.

REQUIREMENTS:
  User-specified:
  - Exactly 16 untimed warm-up passes, then exactly num_steps timed passes.
  - Timing comes from device event markers, read after a barrier.
  - Gradient bookkeeping is off for the whole call.
  - Reduced precision and graph compilation are mutually exclusive and the
    conflict is reported before any device work.
  - num_steps < 1 is rejected.

  Implementation-discovered:
  - The execution mode scope covers warm-up and measurement alike, so
    warm-up primes the code path that is actually timed.
  - Each run gets its own stream and context; nothing carries over.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/device, internal/nn, internal/tensor

ERROR HANDLING:
  - Network errors are returned unchanged, never wrapped or retried.

IMPLEMENTATION RULES:
  - No host clock around the measured region.
  - The observer only reports progress.

RELATED FILES:
  - internal/bench/mode.go
*/

package bench

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/nn"
	"github.com/daryltucker/infer-bench/internal/tensor"
)

// WarmupSteps is the number of untimed passes before measurement.
const WarmupSteps = 16

// ErrInvalidSteps is returned when fewer than one step is requested.
var ErrInvalidSteps = errors.New("num_steps must be at least 1")

// Observer is told about every timed launch. It must not block for long.
type Observer func(step, total int)

// RunConfig names a network and the shapes of its inputs.
type RunConfig struct {
	Name        string
	Network     func() (nn.Network, error)
	InputShapes [][]int
}

// Options select the execution mode and input generation of a run.
type Options struct {
	ReducedPrecision bool
	CompileGraph     bool
	Seed             uint64
	Observer         Observer
}

// AverageMS is the mean time per step.
func AverageMS(elapsedMS float64, numSteps int) float64 {
	return elapsedMS / float64(numSteps)
}

// MeasureInference runs the warm-up and timed phases of net on s and returns
// the device time of the timed phase in milliseconds.
func MeasureInference(s *device.Stream, net nn.Network, ec *nn.Context, inputs []*tensor.Tensor, numSteps int, observe Observer) (float64, error) {
	if numSteps < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSteps, numSteps)
	}
	defer ec.NoGrad()()

	forward := func() error {
		_, err := net.Forward(ec, inputs...)
		return err
	}
	for i := 0; i < WarmupSteps; i++ {
		if err := s.Launch(forward); err != nil {
			return 0, err
		}
	}

	tic, toc := device.NewEvent(), device.NewEvent()
	if err := s.Record(tic); err != nil {
		return 0, err
	}
	for i := 0; i < numSteps; i++ {
		if err := s.Launch(forward); err != nil {
			return 0, err
		}
		if observe != nil {
			observe(i+1, numSteps)
		}
	}
	if err := s.Record(toc); err != nil {
		return 0, err
	}
	if err := toc.Synchronize(); err != nil {
		return 0, err
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return tic.ElapsedTime(toc)
}

// Infer builds rc's network and inputs on dev and measures numSteps passes.
func Infer(rc RunConfig, numSteps int, dev device.Device, flags device.Flags, opts Options) (float64, error) {
	mode, err := ModeFromFlags(opts.ReducedPrecision, opts.CompileGraph)
	if err != nil {
		return 0, err
	}
	if numSteps < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSteps, numSteps)
	}

	net, err := rc.Network()
	if err != nil {
		return 0, err
	}
	nn.Eval(net)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	inputs := make([]*tensor.Tensor, 0, len(rc.InputShapes))
	for _, shape := range rc.InputShapes {
		x, err := tensor.Rand(rng, shape...)
		if err != nil {
			return 0, err
		}
		inputs = append(inputs, x)
	}

	ec := nn.NewContext(flags, dev)
	defer ec.NoGrad()()
	switch mode {
	case ReducedPrecision:
		defer ec.Autocast(tensor.Float16)()
	case CompiledGraph:
		if net, err = nn.Compile(ec, net, inputs); err != nil {
			return 0, err
		}
	}

	s := device.NewStream(dev)
	defer s.Close()
	return MeasureInference(s, net, ec, inputs, numSteps, opts.Observer)
}
