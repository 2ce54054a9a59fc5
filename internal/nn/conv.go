package nn

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/daryltucker/infer-bench/internal/tensor"
)

type convAlgo int

const (
	convDirect convAlgo = iota
	convIm2col
)

// convTuner remembers the fastest algorithm per layer and input shape.
type convTuner struct {
	mu     sync.Mutex
	chosen map[string]convAlgo
}

func newConvTuner() *convTuner {
	return &convTuner{chosen: make(map[string]convAlgo)}
}

// Conv2D is a 2-D convolution over NCHW input with square kernels.
type Conv2D struct {
	InC, OutC   int
	K           int
	Stride, Pad int
	Weight      []float32 // OutC x InC x K x K
	Bias        []float32
	Act         Activation
}

// NewConv2D returns a randomly initialized convolution.
func NewConv2D(rng *rand.Rand, inC, outC, k, stride, pad int) *Conv2D {
	c := &Conv2D{
		InC: inC, OutC: outC, K: k, Stride: stride, Pad: pad,
		Weight: make([]float32, outC*inC*k*k),
		Bias:   make([]float32, outC),
	}
	uniformInit(rng, c.Weight, inC*k*k)
	uniformInit(rng, c.Bias, inC*k*k)
	return c
}

type convGeom struct {
	n, h, w, oh, ow int
}

func (l *Conv2D) geometry(x *tensor.Tensor) (convGeom, error) {
	if len(x.Shape) != 4 || x.Shape[1] != l.InC {
		return convGeom{}, fmt.Errorf("%w: conv2d expects [N %d H W], got %v", tensor.ErrShape, l.InC, x.Shape)
	}
	g := convGeom{n: x.Shape[0], h: x.Shape[2], w: x.Shape[3]}
	// Integer division truncates toward zero, so the window check comes first.
	if g.h+2*l.Pad < l.K || g.w+2*l.Pad < l.K {
		return convGeom{}, fmt.Errorf("%w: conv2d input %v too small for kernel %d", tensor.ErrShape, x.Shape, l.K)
	}
	g.oh = (g.h+2*l.Pad-l.K)/l.Stride + 1
	g.ow = (g.w+2*l.Pad-l.K)/l.Stride + 1
	return g, nil
}

func (l *Conv2D) Apply(c *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := l.geometry(x)
	if err != nil {
		return nil, err
	}
	c.save(x)
	p := c.Precision()
	xs := tensor.Rounded(x.Data, p)
	ws := tensor.Rounded(l.Weight, p)

	algo := convDirect
	if c.flags.AutoTune {
		algo = l.tune(c, g, xs, ws)
	}
	out := tensor.MustNew(g.n, l.OutC, g.oh, g.ow)
	l.run(c, algo, g, xs, ws, out.Data)
	return out, nil
}

func (l *Conv2D) tune(c *Context, g convGeom, xs, ws []float32) convAlgo {
	key := fmt.Sprintf("%p/%d/%d/%d", l, g.n, g.h, g.w)
	c.tuner.mu.Lock()
	algo, ok := c.tuner.chosen[key]
	c.tuner.mu.Unlock()
	if ok {
		return algo
	}
	scratch := make([]float32, g.n*l.OutC*g.oh*g.ow)
	best, bestTime := convDirect, time.Duration(-1)
	for _, a := range []convAlgo{convDirect, convIm2col} {
		start := time.Now()
		l.run(c, a, g, xs, ws, scratch)
		if d := time.Since(start); bestTime < 0 || d < bestTime {
			best, bestTime = a, d
		}
	}
	c.tuner.mu.Lock()
	c.tuner.chosen[key] = best
	c.tuner.mu.Unlock()
	return best
}

func (l *Conv2D) run(c *Context, algo convAlgo, g convGeom, xs, ws, dst []float32) {
	c.parallelFor(g.n*l.OutC, func(lo, hi int) {
		var cols []float32
		lastB := -1
		for job := lo; job < hi; job++ {
			b, oc := job/l.OutC, job%l.OutC
			img := xs[b*l.InC*g.h*g.w : (b+1)*l.InC*g.h*g.w]
			plane := dst[job*g.oh*g.ow : (job+1)*g.oh*g.ow]
			switch algo {
			case convIm2col:
				if b != lastB {
					cols, lastB = l.im2col(img, g, cols), b
				}
				l.gemmPlane(cols, ws, oc, g, plane)
			default:
				l.directPlane(img, ws, oc, g, plane)
			}
			if l.Act == ActReLU {
				for i, v := range plane {
					if v < 0 {
						plane[i] = 0
					}
				}
			}
		}
	})
}

func (l *Conv2D) directPlane(img, ws []float32, oc int, g convGeom, plane []float32) {
	kk := l.K * l.K
	for oy := 0; oy < g.oh; oy++ {
		for ox := 0; ox < g.ow; ox++ {
			sum := l.Bias[oc]
			for ic := 0; ic < l.InC; ic++ {
				src := img[ic*g.h*g.w:]
				wk := ws[(oc*l.InC+ic)*kk:]
				for ky := 0; ky < l.K; ky++ {
					iy := oy*l.Stride - l.Pad + ky
					if iy < 0 || iy >= g.h {
						continue
					}
					for kx := 0; kx < l.K; kx++ {
						ix := ox*l.Stride - l.Pad + kx
						if ix < 0 || ix >= g.w {
							continue
						}
						sum += src[iy*g.w+ix] * wk[ky*l.K+kx]
					}
				}
			}
			plane[oy*g.ow+ox] = sum
		}
	}
}

// im2col lays out one image as (InC*K*K) x (OH*OW) columns.
func (l *Conv2D) im2col(img []float32, g convGeom, buf []float32) []float32 {
	rows, cols := l.InC*l.K*l.K, g.oh*g.ow
	if cap(buf) < rows*cols {
		buf = make([]float32, rows*cols)
	}
	buf = buf[:rows*cols]
	for ic := 0; ic < l.InC; ic++ {
		for ky := 0; ky < l.K; ky++ {
			for kx := 0; kx < l.K; kx++ {
				row := buf[((ic*l.K+ky)*l.K+kx)*cols:]
				for oy := 0; oy < g.oh; oy++ {
					iy := oy*l.Stride - l.Pad + ky
					for ox := 0; ox < g.ow; ox++ {
						ix := ox*l.Stride - l.Pad + kx
						v := float32(0)
						if iy >= 0 && iy < g.h && ix >= 0 && ix < g.w {
							v = img[(ic*g.h+iy)*g.w+ix]
						}
						row[oy*g.ow+ox] = v
					}
				}
			}
		}
	}
	return buf
}

func (l *Conv2D) gemmPlane(cols, ws []float32, oc int, g convGeom, plane []float32) {
	n := g.oh * g.ow
	for i := range plane {
		plane[i] = l.Bias[oc]
	}
	wrow := ws[oc*l.InC*l.K*l.K : (oc+1)*l.InC*l.K*l.K]
	for r, w := range wrow {
		col := cols[r*n : (r+1)*n]
		for i, v := range col {
			plane[i] += w * v
		}
	}
}
