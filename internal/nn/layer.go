package nn

import (
	"fmt"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// Layer maps one tensor to another.
type Layer interface {
	Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// Network is a runnable model taking one or more inputs.
type Network interface {
	Forward(c *Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error)
	// SetTraining toggles training-time behavior such as dropout and
	// batch-statistics updates.
	SetTraining(training bool)
}

type trainable interface {
	SetTraining(training bool)
}

// Eval switches net to inference behavior.
func Eval(net Network) { net.SetTraining(false) }

// NetworkFunc adapts a plain function to Network. It has no training mode.
type NetworkFunc func(c *Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error)

func (f NetworkFunc) Forward(c *Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	return f(c, inputs...)
}

func (NetworkFunc) SetTraining(bool) {}

// Sequential applies layers in order. It is both a Layer and a
// single-input Network.
type Sequential struct {
	Layers []Layer
}

// NewSequential builds a Sequential from layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = l.Apply(c, x); err != nil {
			return nil, fmt.Errorf("layer %d (%T): %w", i, l, err)
		}
	}
	return x, nil
}

func (s *Sequential) Forward(c *Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: sequential network takes 1 input, got %d", tensor.ErrShape, len(inputs))
	}
	out, err := s.Apply(c, inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.Layers {
		if t, ok := l.(trainable); ok {
			t.SetTraining(training)
		}
	}
}
