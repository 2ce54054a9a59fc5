package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// Activation is an optional activation fused into a matmul-class kernel.
type Activation int

const (
	ActNone Activation = iota
	ActReLU
)

// Linear computes y = x·Wᵀ + b over the last dimension.
type Linear struct {
	In, Out int
	Weight  []float32 // Out x In
	Bias    []float32
	Act     Activation
}

// uniformInit fills dst from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformInit(rng *rand.Rand, dst []float32, fanIn int) {
	bound := float32(1 / math.Sqrt(float64(fanIn)))
	for i := range dst {
		dst[i] = (rng.Float32()*2 - 1) * bound
	}
}

// NewLinear returns a randomly initialized Linear layer.
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	l := &Linear{In: in, Out: out, Weight: make([]float32, in*out), Bias: make([]float32, out)}
	uniformInit(rng, l.Weight, in)
	uniformInit(rng, l.Bias, in)
	return l
}

func (l *Linear) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim(-1) != l.In {
		return nil, fmt.Errorf("%w: linear expects last dim %d, got %v", tensor.ErrShape, l.In, x.Shape)
	}
	c.save(x)
	rows := x.Len() / l.In
	shape := append(x.Shape[:len(x.Shape)-1:len(x.Shape)-1], l.Out)
	out := tensor.MustNew(shape...)
	p := c.Precision()
	xs := tensor.Rounded(x.Data, p)
	ws := tensor.Rounded(l.Weight, p)
	c.parallelFor(rows, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			xr := xs[r*l.In : (r+1)*l.In]
			yr := out.Data[r*l.Out : (r+1)*l.Out]
			for o := 0; o < l.Out; o++ {
				wr := ws[o*l.In : (o+1)*l.In]
				sum := l.Bias[o]
				for i, v := range xr {
					sum += v * wr[i]
				}
				if l.Act == ActReLU && sum < 0 {
					sum = 0
				}
				yr[o] = sum
			}
		}
	})
	return out, nil
}
