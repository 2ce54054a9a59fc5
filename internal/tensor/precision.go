package tensor

import (
	"math"

	"github.com/x448/float16"
)

// Precision selects how matmul and convolution operands are rounded.
type Precision int

const (
	Float32 Precision = iota
	// TF32 keeps the float32 exponent with a 10-bit mantissa.
	TF32
	// Float16 rounds through IEEE 754 half precision.
	Float16
)

func (p Precision) String() string {
	switch p {
	case Float32:
		return "fp32"
	case TF32:
		return "tf32"
	case Float16:
		return "fp16"
	default:
		return "unknown"
	}
}

// RoundHalf rounds v to the nearest float16 value.
func RoundHalf(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// RoundTF32 truncates v to a 10-bit mantissa with round-to-nearest-even.
func RoundTF32(v float32) float32 {
	bits := math.Float32bits(v)
	if bits&0x7f800000 == 0x7f800000 {
		return v
	}
	const drop = 13
	lsb := (bits >> drop) & 1
	bits += 0xfff + lsb
	bits &^= 1<<drop - 1
	return math.Float32frombits(bits)
}

// Rounded returns a copy of data rounded to p, or data itself for Float32.
func Rounded(data []float32, p Precision) []float32 {
	switch p {
	case Float16:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = RoundHalf(v)
		}
		return out
	case TF32:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = RoundTF32(v)
		}
		return out
	default:
		return data
	}
}
