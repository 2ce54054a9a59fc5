package tensor

import (
	"errors"
	"math/rand/v2"
	"testing"
)

func TestRandUniformRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x, err := Rand(rng, 2, 3, 8, 8)
	if err != nil {
		t.Fatalf("rand: %v", err)
	}
	if x.Len() != 2*3*8*8 {
		t.Fatalf("unexpected len %d", x.Len())
	}
	var distinct = map[float32]bool{}
	for _, v := range x.Data {
		if v < 0 || v >= 1 {
			t.Fatalf("value out of [0,1): %f", v)
		}
		distinct[v] = true
	}
	if len(distinct) < x.Len()/2 {
		t.Fatalf("expected mostly distinct samples, got %d", len(distinct))
	}
}

func TestNewRejectsBadShapes(t *testing.T) {
	for _, shape := range [][]int{{}, {0}, {3, -1}} {
		if _, err := New(shape...); !errors.Is(err, ErrShape) {
			t.Fatalf("shape %v: expected ErrShape, got %v", shape, err)
		}
	}
}

func TestReshapeSharesData(t *testing.T) {
	x := MustNew(2, 6)
	y, err := x.Reshape(3, 4)
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	y.Data[0] = 5
	if x.Data[0] != 5 {
		t.Fatalf("expected reshape to share storage")
	}
	if _, err := x.Reshape(5, 5); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestRoundHalf(t *testing.T) {
	if got := RoundHalf(1.0); got != 1.0 {
		t.Fatalf("1.0 -> %v", got)
	}
	// 1 + 2^-12 is below fp16 resolution at 1.0
	if got := RoundHalf(1 + 1.0/4096); got != 1.0 {
		t.Fatalf("expected rounding to 1.0, got %v", got)
	}
}

func TestRoundTF32(t *testing.T) {
	if got := RoundTF32(1 + 1.0/(1<<12)); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
	if got := RoundTF32(1 + 1.0/(1<<10)); got != 1+1.0/(1<<10) {
		t.Fatalf("representable value changed: %v", got)
	}
}

func TestAddShapeMismatch(t *testing.T) {
	if _, err := Add(MustNew(2), MustNew(3)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}
