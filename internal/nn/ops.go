package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// ReLU is max(x, 0).
type ReLU struct{}

func (ReLU) Apply(_ *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	tensor.ReLU(out)
	return out, nil
}

// MaxPool2D takes the maximum over K x K windows of NCHW input.
type MaxPool2D struct {
	K, Stride int
}

func (p MaxPool2D) Apply(_ *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%w: maxpool2d expects NCHW, got %v", tensor.ErrShape, x.Shape)
	}
	n, ch, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if h < p.K || w < p.K {
		return nil, fmt.Errorf("%w: maxpool2d input %v too small for window %d", tensor.ErrShape, x.Shape, p.K)
	}
	oh, ow := (h-p.K)/p.Stride+1, (w-p.K)/p.Stride+1
	out := tensor.MustNew(n, ch, oh, ow)
	for plane := 0; plane < n*ch; plane++ {
		src := x.Data[plane*h*w : (plane+1)*h*w]
		dst := out.Data[plane*oh*ow : (plane+1)*oh*ow]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				m := src[oy*p.Stride*w+ox*p.Stride]
				for ky := 0; ky < p.K; ky++ {
					for kx := 0; kx < p.K; kx++ {
						if v := src[(oy*p.Stride+ky)*w+ox*p.Stride+kx]; v > m {
							m = v
						}
					}
				}
				dst[oy*ow+ox] = m
			}
		}
	}
	return out, nil
}

// GlobalAvgPool reduces NCHW to NC.
type GlobalAvgPool struct{}

func (GlobalAvgPool) Apply(_ *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("%w: global pool expects NCHW, got %v", tensor.ErrShape, x.Shape)
	}
	n, ch, hw := x.Shape[0], x.Shape[1], x.Shape[2]*x.Shape[3]
	out := tensor.MustNew(n, ch)
	for plane := range out.Data {
		var sum float32
		for _, v := range x.Data[plane*hw : (plane+1)*hw] {
			sum += v
		}
		out.Data[plane] = sum / float32(hw)
	}
	return out, nil
}

// Flatten collapses every dimension after the first.
type Flatten struct{}

func (Flatten) Apply(_ *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Reshape(x.Shape[0], x.Len()/x.Shape[0])
}

// Dropout zeroes elements with probability P in training mode and is the
// identity otherwise.
type Dropout struct {
	P        float32
	rng      *rand.Rand
	training bool
}

// NewDropout returns a dropout layer in training mode.
func NewDropout(rng *rand.Rand, p float32) *Dropout {
	return &Dropout{P: p, rng: rng, training: true}
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Apply(_ *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.P == 0 {
		return x, nil
	}
	out := x.Clone()
	scale := 1 / (1 - d.P)
	for i := range out.Data {
		if d.rng.Float32() < d.P {
			out.Data[i] = 0
		} else {
			out.Data[i] *= scale
		}
	}
	return out, nil
}

// Residual computes relu(body(x) + shortcut(x)). A nil Shortcut is the identity.
type Residual struct {
	Body     *Sequential
	Shortcut Layer
}

func (r *Residual) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := r.Body.Apply(c, x)
	if err != nil {
		return nil, err
	}
	skip := x
	if r.Shortcut != nil {
		if skip, err = r.Shortcut.Apply(c, x); err != nil {
			return nil, err
		}
	}
	out, err := tensor.Add(y, skip)
	if err != nil {
		return nil, err
	}
	tensor.ReLU(out)
	return out, nil
}

func (r *Residual) SetTraining(training bool) {
	r.Body.SetTraining(training)
	if t, ok := r.Shortcut.(trainable); ok {
		t.SetTraining(training)
	}
}
