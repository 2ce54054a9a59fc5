package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// MultiHeadAttention is scaled dot-product attention over [B, T, D] inputs.
type MultiHeadAttention struct {
	D, Heads      int
	Q, K, V, Proj *Linear
}

// NewMultiHeadAttention returns attention with d split across heads.
func NewMultiHeadAttention(rng *rand.Rand, d, heads int) (*MultiHeadAttention, error) {
	if heads <= 0 || d%heads != 0 {
		return nil, fmt.Errorf("%w: model dim %d not divisible by %d heads", tensor.ErrShape, d, heads)
	}
	return &MultiHeadAttention{
		D: d, Heads: heads,
		Q: NewLinear(rng, d, d), K: NewLinear(rng, d, d), V: NewLinear(rng, d, d),
		Proj: NewLinear(rng, d, d),
	}, nil
}

// Attend lets query positions attend over kv positions.
func (a *MultiHeadAttention) Attend(c *Context, query, kv *tensor.Tensor) (*tensor.Tensor, error) {
	if len(query.Shape) != 3 || len(kv.Shape) != 3 || query.Shape[0] != kv.Shape[0] {
		return nil, fmt.Errorf("%w: attention expects [B T D] and [B S D], got %v and %v", tensor.ErrShape, query.Shape, kv.Shape)
	}
	q, err := a.Q.Apply(c, query)
	if err != nil {
		return nil, err
	}
	k, err := a.K.Apply(c, kv)
	if err != nil {
		return nil, err
	}
	v, err := a.V.Apply(c, kv)
	if err != nil {
		return nil, err
	}
	b, t, s := query.Shape[0], query.Shape[1], kv.Shape[1]
	dh := a.D / a.Heads
	scale := float32(1 / math.Sqrt(float64(dh)))
	mixed := tensor.MustNew(b, t, a.D)
	c.parallelFor(b*a.Heads, func(lo, hi int) {
		scores := make([]float32, s)
		for job := lo; job < hi; job++ {
			bi, h := job/a.Heads, job%a.Heads
			for ti := 0; ti < t; ti++ {
				qrow := q.Data[(bi*t+ti)*a.D+h*dh:][:dh]
				for si := 0; si < s; si++ {
					krow := k.Data[(bi*s+si)*a.D+h*dh:][:dh]
					var dot float32
					for i, x := range qrow {
						dot += x * krow[i]
					}
					scores[si] = dot * scale
				}
				softmax(scores)
				out := mixed.Data[(bi*t+ti)*a.D+h*dh:][:dh]
				for si, w := range scores {
					vrow := v.Data[(bi*s+si)*a.D+h*dh:][:dh]
					for i, x := range vrow {
						out[i] += w * x
					}
				}
			}
		}
	})
	c.save(mixed)
	return a.Proj.Apply(c, mixed)
}

func softmax(xs []float32) {
	m := xs[0]
	for _, v := range xs {
		if v > m {
			m = v
		}
	}
	var sum float32
	for i, v := range xs {
		e := float32(math.Exp(float64(v - m)))
		xs[i] = e
		sum += e
	}
	for i := range xs {
		xs[i] /= sum
	}
}

// EncoderLayer is a post-norm transformer encoder block.
type EncoderLayer struct {
	SelfAttn     *MultiHeadAttention
	FF           *Sequential
	Norm1, Norm2 *LayerNorm
	Drop         *Dropout
}

// DecoderLayer is a post-norm transformer decoder block.
type DecoderLayer struct {
	SelfAttn, CrossAttn *MultiHeadAttention
	FF                  *Sequential
	Norm1, Norm2, Norm3 *LayerNorm
	Drop                *Dropout
}

func feedForward(rng *rand.Rand, d, ff int, dropout float32) *Sequential {
	return NewSequential(NewLinear(rng, d, ff), ReLU{}, NewDropout(rng, dropout), NewLinear(rng, ff, d))
}

// addNorm returns norm(x + drop(y)).
func addNorm(c *Context, norm *LayerNorm, drop *Dropout, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := drop.Apply(c, y)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(x, y)
	if err != nil {
		return nil, err
	}
	return norm.Apply(c, sum)
}

func (l *EncoderLayer) apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := l.SelfAttn.Attend(c, x, x)
	if err != nil {
		return nil, err
	}
	if x, err = addNorm(c, l.Norm1, l.Drop, x, y); err != nil {
		return nil, err
	}
	if y, err = l.FF.Apply(c, x); err != nil {
		return nil, err
	}
	return addNorm(c, l.Norm2, l.Drop, x, y)
}

func (l *DecoderLayer) apply(c *Context, x, memory *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := l.SelfAttn.Attend(c, x, x)
	if err != nil {
		return nil, err
	}
	if x, err = addNorm(c, l.Norm1, l.Drop, x, y); err != nil {
		return nil, err
	}
	if y, err = l.CrossAttn.Attend(c, x, memory); err != nil {
		return nil, err
	}
	if x, err = addNorm(c, l.Norm2, l.Drop, x, y); err != nil {
		return nil, err
	}
	if y, err = l.FF.Apply(c, x); err != nil {
		return nil, err
	}
	return addNorm(c, l.Norm3, l.Drop, x, y)
}

// Transformer is an encoder-decoder taking (src, tgt) and returning the
// decoder output.
type Transformer struct {
	D                int
	Encoder          []*EncoderLayer
	Decoder          []*DecoderLayer
	EncNorm, DecNorm *LayerNorm
}

// TransformerOptions sizes a Transformer.
type TransformerOptions struct {
	D, Heads, FF  int
	EncoderLayers int
	DecoderLayers int
	Dropout       float32
}

// NewTransformer builds a randomly initialized encoder-decoder.
func NewTransformer(rng *rand.Rand, o TransformerOptions) (*Transformer, error) {
	t := &Transformer{D: o.D, EncNorm: NewLayerNorm(o.D), DecNorm: NewLayerNorm(o.D)}
	for i := 0; i < o.EncoderLayers; i++ {
		sa, err := NewMultiHeadAttention(rng, o.D, o.Heads)
		if err != nil {
			return nil, err
		}
		t.Encoder = append(t.Encoder, &EncoderLayer{
			SelfAttn: sa,
			FF:       feedForward(rng, o.D, o.FF, o.Dropout),
			Norm1:    NewLayerNorm(o.D),
			Norm2:    NewLayerNorm(o.D),
			Drop:     NewDropout(rng, o.Dropout),
		})
	}
	for i := 0; i < o.DecoderLayers; i++ {
		sa, err := NewMultiHeadAttention(rng, o.D, o.Heads)
		if err != nil {
			return nil, err
		}
		ca, err := NewMultiHeadAttention(rng, o.D, o.Heads)
		if err != nil {
			return nil, err
		}
		t.Decoder = append(t.Decoder, &DecoderLayer{
			SelfAttn:  sa,
			CrossAttn: ca,
			FF:        feedForward(rng, o.D, o.FF, o.Dropout),
			Norm1:     NewLayerNorm(o.D),
			Norm2:     NewLayerNorm(o.D),
			Norm3:     NewLayerNorm(o.D),
			Drop:      NewDropout(rng, o.Dropout),
		})
	}
	return t, nil
}

func (t *Transformer) Forward(c *Context, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("%w: transformer takes (src, tgt), got %d inputs", tensor.ErrShape, len(inputs))
	}
	memory, tgt := inputs[0], inputs[1]
	var err error
	for i, l := range t.Encoder {
		if memory, err = l.apply(c, memory); err != nil {
			return nil, fmt.Errorf("encoder %d: %w", i, err)
		}
	}
	if memory, err = t.EncNorm.Apply(c, memory); err != nil {
		return nil, err
	}
	for i, l := range t.Decoder {
		if tgt, err = l.apply(c, tgt, memory); err != nil {
			return nil, fmt.Errorf("decoder %d: %w", i, err)
		}
	}
	out, err := t.DecNorm.Apply(c, tgt)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out}, nil
}

func (t *Transformer) SetTraining(training bool) {
	for _, l := range t.Encoder {
		l.FF.SetTraining(training)
		l.Drop.SetTraining(training)
	}
	for _, l := range t.Decoder {
		l.FF.SetTraining(training)
		l.Drop.SetTraining(training)
	}
}
