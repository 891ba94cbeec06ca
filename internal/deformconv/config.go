package deformconv

import (
	"fmt"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/parallel"
)

// Config describes a deformable convolution layer.
type Config struct {
	InChannels  int              // Channels of the input image.
	OutChannels int              // Number of filters.
	Footprint   deform.Footprint // Kernel, padding, stride, dilation, groups, modulation.
	Bias        bool             // Whether the layer adds a per-filter bias.

	// Parallel bounds how many batch items run at once.
	Parallel parallel.Config
}

// DefaultConfig returns a modulated k×k layer with "same" padding, one deformable group and a
// bias, fanning batch items out over every core.
func DefaultConfig(in, out, k int) Config {
	fp := deform.NewFootprint(k, k)
	fp.PadH, fp.PadW = k/2, k/2
	fp.Modulated = true
	return Config{
		InChannels:  in,
		OutChannels: out,
		Footprint:   fp,
		Bias:        true,
		Parallel:    parallel.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InChannels <= 0 || c.OutChannels <= 0 {
		return fmt.Errorf("deformconv: invalid channels in=%d, out=%d", c.InChannels, c.OutChannels)
	}
	if err := c.Footprint.Validate(); err != nil {
		return fmt.Errorf("deformconv: %w", err)
	}
	if c.InChannels%c.Footprint.DeformableGroups != 0 {
		return fmt.Errorf("deformconv: %w: %d channels not divisible by %d deformable groups",
			deform.ErrInvalidFootprint, c.InChannels, c.Footprint.DeformableGroups)
	}
	return nil
}
