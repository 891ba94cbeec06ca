//go:build windows

package webgpu

import (
	"fmt"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/tensor"
)

// DeformableIm2Col expands one [C, H, W] image into its [C·KH·KW, HO, WO] column tensor.
func (b *Backend) DeformableIm2Col(g deform.Geometry, image, offset, mask *tensor.RawTensor) *tensor.RawTensor {
	const op = "deformable_im2col"
	checkTensor(op, "image", image, g.ImageShape())
	checkTensor(op, "offset", offset, g.OffsetShape())
	checkMask(op, g, mask)

	column := b.newResult(op, g.ColumnShape())
	units := im2colUnits(g)
	log.Logger().Debug("webgpu: im2col", "units", units, "modulated", g.Modulated)

	err := b.run(kernelRun{
		name:    "deformable_im2col",
		code:    im2colShader,
		units:   units,
		params:  encodeParams(g, units),
		inputs:  [][]byte{image.Data(), offset.Data(), maskBytes(mask)},
		outputs: [][]byte{column.Data()},
	})
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return column
}

// DeformableCol2Im returns the [C, H, W] image gradient for one column gradient.
func (b *Backend) DeformableCol2Im(g deform.Geometry, colGrad, offset, mask *tensor.RawTensor) *tensor.RawTensor {
	const op = "deformable_col2im"
	checkTensor(op, "column gradient", colGrad, g.ColumnShape())
	checkTensor(op, "offset", offset, g.OffsetShape())
	checkMask(op, g, mask)

	imageGrad := b.newResult(op, g.ImageShape())
	units := col2imUnits(g)
	log.Logger().Debug("webgpu: col2im", "units", units, "modulated", g.Modulated)

	err := b.run(kernelRun{
		name:    "deformable_col2im",
		code:    col2imShader,
		units:   units,
		params:  encodeParams(g, units),
		inputs:  [][]byte{colGrad.Data(), offset.Data(), maskBytes(mask)},
		outputs: [][]byte{imageGrad.Data()},
	})
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return imageGrad
}

// DeformableCol2ImCoord returns the offset gradient and, when g.Modulated, the mask gradient.
func (b *Backend) DeformableCol2ImCoord(
	g deform.Geometry, colGrad, image, offset, mask *tensor.RawTensor,
) (offsetGrad, maskGrad *tensor.RawTensor) {
	const op = "deformable_col2im_coord"
	checkTensor(op, "column gradient", colGrad, g.ColumnShape())
	checkTensor(op, "image", image, g.ImageShape())
	checkTensor(op, "offset", offset, g.OffsetShape())
	checkMask(op, g, mask)

	offsetGrad = b.newResult(op, g.OffsetShape())
	maskOut := make([]byte, placeholderSize)
	if g.Modulated {
		maskGrad = b.newResult(op, g.MaskShape())
		maskOut = maskGrad.Data()
	}
	units := coordUnits(g)
	log.Logger().Debug("webgpu: col2im coord", "units", units, "modulated", g.Modulated)

	err := b.run(kernelRun{
		name:    "deformable_col2im_coord",
		code:    col2imCoordShader,
		units:   units,
		params:  encodeParams(g, units),
		inputs:  [][]byte{colGrad.Data(), image.Data(), offset.Data(), maskBytes(mask)},
		outputs: [][]byte{offsetGrad.Data(), maskOut},
	})
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	return offsetGrad, maskGrad
}

func (b *Backend) newResult(op string, shape tensor.Shape) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, tensor.Float32, tensor.WebGPU)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return t
}

// maskBytes returns the mask contents, or a zeroed placeholder for unmodulated passes.
func maskBytes(mask *tensor.RawTensor) []byte {
	if mask == nil {
		return make([]byte, placeholderSize)
	}
	return mask.Data()
}
