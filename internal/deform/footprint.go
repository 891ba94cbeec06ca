package deform

import (
	"fmt"

	"github.com/born-ml/deform/internal/tensor"
)

// Footprint describes the spatial transform of a deformable convolution.
// It is an immutable value; every kernel receives it through a Geometry.
type Footprint struct {
	KernelH, KernelW     int
	PadH, PadW           int
	StrideH, StrideW     int
	DilationH, DilationW int

	// DeformableGroups partitions the channels; each block reads its own slice of the
	// offset and mask fields.
	DeformableGroups int

	// Modulated enables the per-tap mask.
	Modulated bool
}

// NewFootprint returns a kh×kw footprint with unit stride and dilation, no padding,
// one deformable group and no modulation.
func NewFootprint(kh, kw int) Footprint {
	return Footprint{
		KernelH: kh, KernelW: kw,
		StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1,
		DeformableGroups: 1,
	}
}

// Taps returns the number of kernel taps (KernelH·KernelW).
func (f Footprint) Taps() int {
	return f.KernelH * f.KernelW
}

// Validate checks the footprint parameters in isolation.
func (f Footprint) Validate() error {
	switch {
	case f.KernelH <= 0 || f.KernelW <= 0:
		return fmt.Errorf("%w: kernel %dx%d", ErrInvalidFootprint, f.KernelH, f.KernelW)
	case f.StrideH <= 0 || f.StrideW <= 0:
		return fmt.Errorf("%w: stride %dx%d", ErrInvalidFootprint, f.StrideH, f.StrideW)
	case f.DilationH <= 0 || f.DilationW <= 0:
		return fmt.Errorf("%w: dilation %dx%d", ErrInvalidFootprint, f.DilationH, f.DilationW)
	case f.PadH < 0 || f.PadW < 0:
		return fmt.Errorf("%w: padding %dx%d", ErrInvalidFootprint, f.PadH, f.PadW)
	case f.DeformableGroups <= 0:
		return fmt.Errorf("%w: %d deformable groups", ErrInvalidFootprint, f.DeformableGroups)
	}
	return nil
}

// OutputSize applies the convolution output-size formula
// (in + 2·pad − dilation·(kernel−1) − 1)/stride + 1 on both axes.
func (f Footprint) OutputSize(height, width int) (int, int) {
	ho := (height+2*f.PadH-(f.DilationH*(f.KernelH-1)+1))/f.StrideH + 1
	wo := (width+2*f.PadW-(f.DilationW*(f.KernelW-1)+1))/f.StrideW + 1
	return ho, wo
}

// Geometry binds the footprint to an input of the given size and derives every dimension
// the kernels need. It is the single place where the caller contract is checked.
func (f Footprint) Geometry(channels, height, width int) (Geometry, error) {
	if err := f.Validate(); err != nil {
		return Geometry{}, err
	}
	if channels <= 0 || height <= 0 || width <= 0 {
		return Geometry{}, fmt.Errorf("%w: input (%d, %d, %d)", ErrShapeMismatch, channels, height, width)
	}
	if channels%f.DeformableGroups != 0 {
		return Geometry{}, fmt.Errorf("%w: %d channels not divisible by %d deformable groups",
			ErrShapeMismatch, channels, f.DeformableGroups)
	}

	ho, wo := f.OutputSize(height, width)
	if ho <= 0 || wo <= 0 {
		return Geometry{}, fmt.Errorf("%w: empty output %dx%d for input %dx%d",
			ErrShapeMismatch, ho, wo, height, width)
	}
	// Offsets and masks live on the input grid and are read at (ho·stride, wo·stride).
	if (ho-1)*f.StrideH >= height || (wo-1)*f.StrideW >= width {
		return Geometry{}, fmt.Errorf("%w: output %dx%d at stride %dx%d reads past the %dx%d offset grid",
			ErrShapeMismatch, ho, wo, f.StrideH, f.StrideW, height, width)
	}

	return Geometry{
		Footprint: f,
		Channels:  channels,
		Height:    height,
		Width:     width,
		HeightOut: ho,
		WidthOut:  wo,
	}, nil
}

// Geometry is a Footprint bound to concrete input dimensions.
type Geometry struct {
	Footprint

	Channels, Height, Width int
	HeightOut, WidthOut     int
}

// ChannelsPerGroup returns the number of image channels in each deformable group.
func (g Geometry) ChannelsPerGroup() int {
	return g.Channels / g.DeformableGroups
}

// ImageShape is (C, H, W).
func (g Geometry) ImageShape() tensor.Shape {
	return tensor.Shape{g.Channels, g.Height, g.Width}
}

// OffsetShape is (2·KH·KW·DG, H, W).
func (g Geometry) OffsetShape() tensor.Shape {
	return tensor.Shape{2 * g.Taps() * g.DeformableGroups, g.Height, g.Width}
}

// MaskShape is (KH·KW·DG, H, W).
func (g Geometry) MaskShape() tensor.Shape {
	return tensor.Shape{g.Taps() * g.DeformableGroups, g.Height, g.Width}
}

// ColumnShape is (C·KH·KW, HO, WO).
func (g Geometry) ColumnShape() tensor.Shape {
	return tensor.Shape{g.Channels * g.Taps(), g.HeightOut, g.WidthOut}
}

// CheckBuffers verifies buffer lengths against the geometry. A zero length for mask is
// accepted iff the footprint is not modulated.
func (g Geometry) CheckBuffers(image, offset, mask, column int) error {
	if err := checkLen("image", image, g.ImageShape()); err != nil {
		return err
	}
	if err := checkLen("offset", offset, g.OffsetShape()); err != nil {
		return err
	}
	if g.Modulated {
		if err := checkLen("mask", mask, g.MaskShape()); err != nil {
			return err
		}
	} else if mask != 0 {
		return fmt.Errorf("%w: mask of %d elements given without modulation", ErrShapeMismatch, mask)
	}
	return checkLen("column", column, g.ColumnShape())
}

func checkLen(name string, n int, shape tensor.Shape) error {
	if n != shape.NumElements() {
		return fmt.Errorf("%w: %s buffer has %d elements, want %v = %d",
			ErrShapeMismatch, name, n, shape, shape.NumElements())
	}
	return nil
}
