package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

// ErrNotCompilable is returned for networks without an inspectable layer graph.
var ErrNotCompilable = errors.New("network cannot be compiled")

type fusable interface {
	fused() Network
}

// Compile rewrites net's layer graph ahead of time and traces it once with
// inputs. Conv2D+BatchNorm2D pairs are folded, Linear/Conv2D+ReLU pairs are
// fused into one kernel and eval-mode dropout is removed. The original
// network is left untouched.
func Compile(c *Context, net Network, inputs []*tensor.Tensor) (Network, error) {
	f, ok := net.(fusable)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotCompilable, net)
	}
	g := f.fused()
	if _, err := g.Forward(c, inputs...); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return g, nil
}

func (s *Sequential) fused() Network { return s.fusedSeq() }

func (s *Sequential) fusedSeq() *Sequential {
	return &Sequential{Layers: fuseLayers(s.Layers)}
}

func nextIsReLU(layers []Layer, i int) bool {
	if i+1 >= len(layers) {
		return false
	}
	_, ok := layers[i+1].(ReLU)
	return ok
}

func fuseLayers(layers []Layer) []Layer {
	out := make([]Layer, 0, len(layers))
	for i := 0; i < len(layers); i++ {
		switch l := layers[i].(type) {
		case *Conv2D:
			conv := *l
			if i+1 < len(layers) {
				if bn, ok := layers[i+1].(*BatchNorm2D); ok && !bn.training && bn.C == l.OutC {
					conv = foldBatchNorm(conv, bn)
					i++
				}
			}
			if conv.Act == ActNone && nextIsReLU(layers, i) {
				conv.Act = ActReLU
				i++
			}
			out = append(out, &conv)
		case *Linear:
			lin := *l
			if lin.Act == ActNone && nextIsReLU(layers, i) {
				lin.Act = ActReLU
				i++
			}
			out = append(out, &lin)
		case *Dropout:
			if l.training {
				out = append(out, l)
			}
		case *Sequential:
			out = append(out, l.fusedSeq())
		case *Residual:
			out = append(out, &Residual{Body: l.Body.fusedSeq(), Shortcut: fuseOne(l.Shortcut)})
		default:
			out = append(out, l)
		}
	}
	return out
}

func fuseOne(l Layer) Layer {
	if l == nil {
		return nil
	}
	if fl := fuseLayers([]Layer{l}); len(fl) == 1 {
		return fl[0]
	}
	return nil
}

// foldBatchNorm merges inference-mode batch norm into the convolution weights.
func foldBatchNorm(conv Conv2D, bn *BatchNorm2D) Conv2D {
	per := conv.InC * conv.K * conv.K
	w := make([]float32, len(conv.Weight))
	b := make([]float32, len(conv.Bias))
	for oc := 0; oc < conv.OutC; oc++ {
		scale := bn.Gamma[oc] / float32(math.Sqrt(float64(bn.RunningVar[oc]+bn.Eps)))
		for i := oc * per; i < (oc+1)*per; i++ {
			w[i] = conv.Weight[i] * scale
		}
		b[oc] = (conv.Bias[oc]-bn.RunningMean[oc])*scale + bn.Beta[oc]
	}
	conv.Weight, conv.Bias = w, b
	return conv
}

func (t *Transformer) fused() Network {
	g := &Transformer{D: t.D, EncNorm: t.EncNorm, DecNorm: t.DecNorm}
	for _, l := range t.Encoder {
		cp := *l
		cp.FF = l.FF.fusedSeq()
		g.Encoder = append(g.Encoder, &cp)
	}
	for _, l := range t.Decoder {
		cp := *l
		cp.FF = l.FF.fusedSeq()
		g.Decoder = append(g.Decoder, &cp)
	}
	return g
}
