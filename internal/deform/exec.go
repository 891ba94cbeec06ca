package deform

import (
	"fmt"

	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Accumulation selects how the image-gradient scatter combines overlapping writes.
type Accumulation int

const (
	// AccumulateAtomic runs one unit per (channel, tap, output location) and combines
	// writes with a compare-and-swap add. The sum is order independent up to
	// floating-point rounding.
	AccumulateAtomic Accumulation = iota

	// AccumulateDeterministic runs one unit per channel. Each unit owns its channel's
	// gradient plane and adds in a fixed order, so results are bitwise reproducible.
	AccumulateDeterministic
)

// String returns the accumulation mode name.
func (a Accumulation) String() string {
	switch a {
	case AccumulateAtomic:
		return "atomic"
	case AccumulateDeterministic:
		return "deterministic"
	default:
		return fmt.Sprintf("Accumulation(%d)", int(a))
	}
}

// ExecContext is the explicit execution context passed to every kernel.
// It replaces process-wide device state: callers can run kernels for different devices or
// streams side by side.
type ExecContext struct {
	Device       tensor.Device
	Stream       int
	Parallel     parallel.Config
	Accumulation Accumulation
}

// DefaultExecContext returns a CPU context on stream 0 using every core.
func DefaultExecContext() ExecContext {
	return ExecContext{
		Device:       tensor.CPU,
		Parallel:     parallel.DefaultConfig(),
		Accumulation: AccumulateAtomic,
	}
}
