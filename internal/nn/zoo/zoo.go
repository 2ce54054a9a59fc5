/*
PURPOSE:
  Ready-made network architectures addressable by name.

REQUIREMENTS:
  User-specified:
  - Configurations reference a network factory, not an instance, so each
    run builds a fresh network and drops it afterwards.

  Implementation-discovered:
  - Factories take a seed so repeated runs build identical weights.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/cli (list-models)

ERROR HANDLING:
  - Lookup reports unknown names with ok=false.

IMPLEMENTATION RULES:
  - Architectures are scaled for pure-Go kernels; input shapes in the
    default config match them.

RELATED FILES:
  - internal/config/config.go (default model table)
*/

package zoo

import (
	"math/rand/v2"
	"sort"

	"github.com/daryltucker/infer-bench/internal/nn"
)

// Factory builds a new network from a seed.
type Factory func(seed uint64) (nn.Network, error)

// Entry describes a registered architecture.
type Entry struct {
	Name        string
	Description string
	// Inputs documents the expected input layout.
	Inputs  string
	Factory Factory
}

var registry = map[string]Entry{
	"mlp": {
		Name: "mlp", Description: "3-layer perceptron with dropout",
		Inputs: "[N 512]", Factory: MLP,
	},
	"vgg": {
		Name: "vgg", Description: "VGG-style conv/pool stack with classifier head",
		Inputs: "[N 3 H W], H,W divisible by 8", Factory: VGG,
	},
	"resnet": {
		Name: "resnet", Description: "ResNet-style residual network with batch norm",
		Inputs: "[N 3 H W]", Factory: ResNet,
	},
	"transformer": {
		Name: "transformer", Description: "encoder-decoder transformer, d_model 64",
		Inputs: "src [N S 64], tgt [N T 64]", Factory: Transformer,
	},
}

// Lookup returns the entry registered under name.
func Lookup(name string) (Entry, bool) {
	e, ok := registry[name]
	return e, ok
}

// Names lists registered architectures in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// MLP is a 512-256-256-10 perceptron.
func MLP(seed uint64) (nn.Network, error) {
	rng := newRNG(seed)
	return nn.NewSequential(
		nn.NewLinear(rng, 512, 256), nn.ReLU{}, nn.NewDropout(rng, 0.1),
		nn.NewLinear(rng, 256, 256), nn.ReLU{}, nn.NewDropout(rng, 0.1),
		nn.NewLinear(rng, 256, 10),
	), nil
}

// VGG is three conv/pool stages followed by a global-pool classifier.
func VGG(seed uint64) (nn.Network, error) {
	rng := newRNG(seed)
	var layers []nn.Layer
	in := 3
	for _, out := range []int{16, 32, 64} {
		layers = append(layers,
			nn.NewConv2D(rng, in, out, 3, 1, 1), nn.ReLU{},
			nn.NewConv2D(rng, out, out, 3, 1, 1), nn.ReLU{},
			nn.MaxPool2D{K: 2, Stride: 2},
		)
		in = out
	}
	layers = append(layers,
		nn.GlobalAvgPool{},
		nn.NewLinear(rng, in, 128), nn.ReLU{}, nn.NewDropout(rng, 0.5),
		nn.NewLinear(rng, 128, 10),
	)
	return nn.NewSequential(layers...), nil
}

func basicBlock(rng *rand.Rand, in, out, stride int) *nn.Residual {
	body := nn.NewSequential(
		nn.NewConv2D(rng, in, out, 3, stride, 1), nn.NewBatchNorm2D(out), nn.ReLU{},
		nn.NewConv2D(rng, out, out, 3, 1, 1), nn.NewBatchNorm2D(out),
	)
	var shortcut nn.Layer
	if stride != 1 || in != out {
		shortcut = nn.NewSequential(nn.NewConv2D(rng, in, out, 1, stride, 0), nn.NewBatchNorm2D(out))
	}
	return &nn.Residual{Body: body, Shortcut: shortcut}
}

// ResNet is a stem plus three stages of two basic blocks each.
func ResNet(seed uint64) (nn.Network, error) {
	rng := newRNG(seed)
	layers := []nn.Layer{nn.NewConv2D(rng, 3, 16, 3, 1, 1), nn.NewBatchNorm2D(16), nn.ReLU{}}
	in := 16
	for i, out := range []int{16, 32, 64} {
		stride := 2
		if i == 0 {
			stride = 1
		}
		layers = append(layers, basicBlock(rng, in, out, stride), basicBlock(rng, out, out, 1))
		in = out
	}
	layers = append(layers, nn.GlobalAvgPool{}, nn.NewLinear(rng, in, 10))
	return nn.NewSequential(layers...), nil
}

// Transformer is a 2+2 layer encoder-decoder with d_model 64 and 4 heads.
func Transformer(seed uint64) (nn.Network, error) {
	return nn.NewTransformer(newRNG(seed), nn.TransformerOptions{
		D: 64, Heads: 4, FF: 256, EncoderLayers: 2, DecoderLayers: 2, Dropout: 0.1,
	})
}
