/*
PURPOSE:
  Dense float32 tensors used as network inputs, weights and activations.

REQUIREMENTS:
  User-specified:
  - Inputs are built fresh per run from a shape list.
  - Every element is sampled independently from U[0, 1).

  Implementation-discovered:
  - Reduced-precision execution needs fp16 rounding of operands.
  - TF32 matmul emulation needs mantissa truncation.

ARCHITECTURE INTEGRATION:
  - Used by: internal/nn, internal/bench

ERROR HANDLING:
  - Shape mistakes are returned as errors, never panics, so that a
    misconfigured model surfaces as a normal failure.

IMPLEMENTATION RULES:
  - Row-major layout, last dimension contiguous.
  - No device placement: data lives in host memory.

RELATED FILES:
  - internal/tensor/precision.go
*/

package tensor

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// ErrShape is returned when tensor dimensions do not line up.
var ErrShape = errors.New("shape mismatch")

// Tensor is a row-major dense float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-filled tensor.
func New(shape ...int) (*Tensor, error) {
	n, err := Numel(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}, nil
}

// MustNew is New for shapes known to be valid at compile time.
func MustNew(shape ...int) *Tensor {
	t, err := New(shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromSlice wraps data without copying.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	n, err := Numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Rand samples every element independently from U[0, 1).
func Rand(rng *rand.Rand, shape ...int) (*Tensor, error) {
	t, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.Float32()
	}
	return t, nil
}

// Numel returns the element count for shape.
func Numel(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

// Len is the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Reshape returns a view sharing data with t.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n, err := Numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

// Bytes is the memory held by the tensor data.
func (t *Tensor) Bytes() int { return 4 * len(t.Data) }

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool { return slices.Equal(a.Shape, b.Shape) }

// Add returns a + b elementwise.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("%w: add %v and %v", ErrShape, a.Shape, b.Shape)
	}
	out := a.Clone()
	for i, v := range b.Data {
		out.Data[i] += v
	}
	return out, nil
}

// ReLU clamps negative values to zero in place.
func ReLU(t *Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}
