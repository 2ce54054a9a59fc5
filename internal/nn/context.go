/*
PURPOSE:
  Execution context threaded through every forward pass. Carries the
  backend flags, the autograd mode and the autocast precision.

REQUIREMENTS:
  User-specified:
  - Gradient bookkeeping is disabled by a scoped mode, not a global toggle.
  - Reduced precision is a scoped wrapper that reverts on every exit path.
  - Backend toggles are explicit and immutable.

  Implementation-discovered:
  - With grad enabled, layers retain their inputs on a tape. This is the
    memory cost the no-grad scope avoids.
  - Kernels fan out across the device's compute units.

ARCHITECTURE INTEGRATION:
  - Created by: internal/bench
  - Read by: every layer in internal/nn

ERROR HANDLING:
  - None. Scopes cannot fail.

IMPLEMENTATION RULES:
  - Scope methods return a restore func meant for defer.
  - Mode reads are atomic: the host toggles scopes, the stream worker reads.

RELATED FILES:
  - internal/nn/compile.go
*/

package nn

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/infer-bench/internal/device"
	"github.com/daryltucker/infer-bench/internal/tensor"
)

// Context holds per-run execution state. Nothing in it is shared across runs.
type Context struct {
	flags device.Flags
	units int

	grad     atomic.Bool
	autocast atomic.Int32 // tensor.Precision, Float32 when off

	tapeMu sync.Mutex
	tape   []*tensor.Tensor

	tuner *convTuner
}

// NewContext returns a context with grad enabled and autocast off.
func NewContext(flags device.Flags, dev device.Device) *Context {
	units := dev.Units
	if units < 1 {
		units = 1
	}
	c := &Context{flags: flags, units: units, tuner: newConvTuner()}
	c.grad.Store(true)
	return c
}

// Flags returns the backend flags the context was built with.
func (c *Context) Flags() device.Flags { return c.flags }

// GradEnabled reports whether layers record activations.
func (c *Context) GradEnabled() bool { return c.grad.Load() }

// NoGrad disables activation recording until restore is called.
func (c *Context) NoGrad() (restore func()) {
	prev := c.grad.Swap(false)
	return func() { c.grad.Store(prev) }
}

// Autocast runs matmul and convolution operands at p until restore is called.
func (c *Context) Autocast(p tensor.Precision) (restore func()) {
	prev := c.autocast.Swap(int32(p))
	return func() { c.autocast.Store(prev) }
}

// Precision is the operand precision for matmul-class kernels.
func (c *Context) Precision() tensor.Precision {
	if p := tensor.Precision(c.autocast.Load()); p != tensor.Float32 {
		return p
	}
	if c.flags.AllowTF32 {
		return tensor.TF32
	}
	return tensor.Float32
}

func (c *Context) save(ts ...*tensor.Tensor) {
	if !c.GradEnabled() {
		return
	}
	c.tapeMu.Lock()
	c.tape = append(c.tape, ts...)
	c.tapeMu.Unlock()
}

// SavedBytes is the activation memory currently held on the tape.
func (c *Context) SavedBytes() int {
	c.tapeMu.Lock()
	defer c.tapeMu.Unlock()
	n := 0
	for _, t := range c.tape {
		n += t.Bytes()
	}
	return n
}

// ReleaseTape drops all recorded activations.
func (c *Context) ReleaseTape() {
	c.tapeMu.Lock()
	c.tape = nil
	c.tapeMu.Unlock()
}

// parallelFor splits [0, n) into chunks across the compute units.
func (c *Context) parallelFor(n int, fn func(lo, hi int)) {
	if c.units == 1 || n < 2 {
		fn(0, n)
		return
	}
	chunks := c.units
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks
	var g errgroup.Group
	g.SetLimit(c.units)
	for lo := 0; lo < n; lo += size {
		lo, hi := lo, min(lo+size, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
