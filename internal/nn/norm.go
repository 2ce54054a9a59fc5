package nn

import (
	"fmt"
	"math"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// BatchNorm2D normalizes NCHW input per channel. In training mode it uses
// batch statistics and updates the running estimates.
type BatchNorm2D struct {
	C           int
	Gamma, Beta []float32
	RunningMean []float32
	RunningVar  []float32
	Momentum    float32
	Eps         float32
	training    bool
}

// NewBatchNorm2D returns an identity-initialized batch norm.
func NewBatchNorm2D(c int) *BatchNorm2D {
	bn := &BatchNorm2D{
		C:           c,
		Gamma:       make([]float32, c),
		Beta:        make([]float32, c),
		RunningMean: make([]float32, c),
		RunningVar:  make([]float32, c),
		Momentum:    0.1,
		Eps:         1e-5,
		training:    true,
	}
	for i := range bn.Gamma {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *BatchNorm2D) SetTraining(training bool) { bn.training = training }

// Training reports the current mode.
func (bn *BatchNorm2D) Training() bool { return bn.training }

func (bn *BatchNorm2D) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != bn.C {
		return nil, fmt.Errorf("%w: batchnorm2d expects [N %d H W], got %v", tensor.ErrShape, bn.C, x.Shape)
	}
	c.save(x)
	n, hw := x.Shape[0], x.Shape[2]*x.Shape[3]
	mean, variance := bn.RunningMean, bn.RunningVar
	if bn.training {
		mean, variance = batchStats(x, n, bn.C, hw)
		m := bn.Momentum
		for ch := range mean {
			bn.RunningMean[ch] = (1-m)*bn.RunningMean[ch] + m*mean[ch]
			bn.RunningVar[ch] = (1-m)*bn.RunningVar[ch] + m*variance[ch]
		}
	}
	out := x.Clone()
	for ch := 0; ch < bn.C; ch++ {
		scale := bn.Gamma[ch] / float32(math.Sqrt(float64(variance[ch]+bn.Eps)))
		shift := bn.Beta[ch] - mean[ch]*scale
		for b := 0; b < n; b++ {
			plane := out.Data[(b*bn.C+ch)*hw : (b*bn.C+ch+1)*hw]
			for i, v := range plane {
				plane[i] = v*scale + shift
			}
		}
	}
	return out, nil
}

func batchStats(x *tensor.Tensor, n, c, hw int) (mean, variance []float32) {
	mean = make([]float32, c)
	variance = make([]float32, c)
	count := float64(n * hw)
	for ch := 0; ch < c; ch++ {
		var sum, sq float64
		for b := 0; b < n; b++ {
			for _, v := range x.Data[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				sum += float64(v)
				sq += float64(v) * float64(v)
			}
		}
		m := sum / count
		mean[ch] = float32(m)
		variance[ch] = float32(sq/count - m*m)
	}
	return mean, variance
}

// LayerNorm normalizes over the last dimension.
type LayerNorm struct {
	Dim         int
	Gamma, Beta []float32
	Eps         float32
}

// NewLayerNorm returns an identity-initialized layer norm.
func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{Dim: dim, Gamma: make([]float32, dim), Beta: make([]float32, dim), Eps: 1e-5}
	for i := range ln.Gamma {
		ln.Gamma[i] = 1
	}
	return ln
}

func (ln *LayerNorm) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dim(-1) != ln.Dim {
		return nil, fmt.Errorf("%w: layernorm expects last dim %d, got %v", tensor.ErrShape, ln.Dim, x.Shape)
	}
	c.save(x)
	out := x.Clone()
	for r := 0; r < out.Len()/ln.Dim; r++ {
		row := out.Data[r*ln.Dim : (r+1)*ln.Dim]
		var sum, sq float64
		for _, v := range row {
			sum += float64(v)
			sq += float64(v) * float64(v)
		}
		m := sum / float64(ln.Dim)
		inv := float32(1 / math.Sqrt(sq/float64(ln.Dim)-m*m+float64(ln.Eps)))
		for i, v := range row {
			row[i] = (v-float32(m))*inv*ln.Gamma[i] + ln.Beta[i]
		}
	}
	return out, nil
}
