package bench

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompatibleModes is returned when reduced precision and graph
// compilation are requested together.
var ErrIncompatibleModes = errors.New("reduced precision is incompatible with graph compilation")

// ErrUnknownMode is returned by ParseMode for names it does not recognise.
var ErrUnknownMode = errors.New("unknown execution mode")

// Mode is the execution mode of a run. Exactly one applies.
type Mode int

const (
	Standard Mode = iota
	// ReducedPrecision runs matmul-class kernels on fp16 operands.
	ReducedPrecision
	// CompiledGraph fuses the layer graph ahead of time.
	CompiledGraph
)

func (m Mode) String() string {
	switch m {
	case Standard:
		return "standard"
	case ReducedPrecision:
		return "reduced-precision"
	case CompiledGraph:
		return "compiled-graph"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Flags is the inverse of ModeFromFlags.
func (m Mode) Flags() (reducedPrecision, compileGraph bool) {
	return m == ReducedPrecision, m == CompiledGraph
}

// ModeFromFlags converts the two legacy booleans into a Mode.
func ModeFromFlags(reducedPrecision, compileGraph bool) (Mode, error) {
	switch {
	case reducedPrecision && compileGraph:
		return Standard, ErrIncompatibleModes
	case reducedPrecision:
		return ReducedPrecision, nil
	case compileGraph:
		return CompiledGraph, nil
	default:
		return Standard, nil
	}
}

// ParseMode accepts the String forms plus the short aliases "amp" and "compile".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, nil
	case "reduced-precision", "amp", "fp16":
		return ReducedPrecision, nil
	case "compiled-graph", "compile", "compiled":
		return CompiledGraph, nil
	default:
		return Standard, fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
}
