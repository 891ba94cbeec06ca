package cpu

import (
	"fmt"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// DeformableIm2Col expands one image into its column buffer.
//
// Shapes:
//   - image:  [C, H, W]
//   - offset: [2·KH·KW·DG, H, W]
//   - mask:   [KH·KW·DG, H, W], nil unless g.Modulated
//   - result: [C·KH·KW, HO, WO]
func (cpu *CPUBackend) DeformableIm2Col(g deform.Geometry, image, offset, mask *tensor.RawTensor) *tensor.RawTensor {
	dtype := checkInputs("deformable_im2col", g, image, offset, mask)

	column, err := tensor.NewRaw(g.ColumnShape(), dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("deformable_im2col: failed to create column tensor: %v", err))
	}

	switch dtype {
	case tensor.Float32:
		deform.Im2Col(cpu.exec, g, image.AsFloat32(), offset.AsFloat32(), maskData[float32](mask), column.AsFloat32())
	case tensor.Float64:
		deform.Im2Col(cpu.exec, g, image.AsFloat64(), offset.AsFloat64(), maskData[float64](mask), column.AsFloat64())
	default:
		panic(fmt.Sprintf("deformable_im2col: unsupported dtype %s", dtype))
	}

	return column
}

// DeformableCol2Im scatters a column gradient back onto the image grid.
// The result is a fresh [C, H, W] tensor.
func (cpu *CPUBackend) DeformableCol2Im(g deform.Geometry, colGrad, offset, mask *tensor.RawTensor) *tensor.RawTensor {
	checkShape("deformable_col2im", "column gradient", colGrad, g.ColumnShape())
	dtype := checkOffsets("deformable_col2im", g, colGrad.DType(), offset, mask)

	imageGrad, err := tensor.NewRaw(g.ImageShape(), dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("deformable_col2im: failed to create gradient tensor: %v", err))
	}

	switch dtype {
	case tensor.Float32:
		deform.Col2Im(cpu.exec, g, colGrad.AsFloat32(), offset.AsFloat32(), maskData[float32](mask), imageGrad.AsFloat32())
	case tensor.Float64:
		deform.Col2Im(cpu.exec, g, colGrad.AsFloat64(), offset.AsFloat64(), maskData[float64](mask), imageGrad.AsFloat64())
	default:
		panic(fmt.Sprintf("deformable_col2im: unsupported dtype %s", dtype))
	}

	return imageGrad
}

// DeformableCol2ImCoord computes the offset gradient and, when modulated, the mask gradient.
// maskGrad is nil for unmodulated geometries.
func (cpu *CPUBackend) DeformableCol2ImCoord(
	g deform.Geometry, colGrad, image, offset, mask *tensor.RawTensor,
) (offsetGrad, maskGrad *tensor.RawTensor) {
	checkShape("deformable_col2im_coord", "column gradient", colGrad, g.ColumnShape())
	dtype := checkInputs("deformable_col2im_coord", g, image, offset, mask)
	if colGrad.DType() != dtype {
		panic(fmt.Sprintf("deformable_col2im_coord: column gradient dtype %s != image dtype %s", colGrad.DType(), dtype))
	}

	var err error
	offsetGrad, err = tensor.NewRaw(g.OffsetShape(), dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("deformable_col2im_coord: failed to create offset gradient: %v", err))
	}
	if g.Modulated {
		maskGrad, err = tensor.NewRaw(g.MaskShape(), dtype, cpu.device)
		if err != nil {
			panic(fmt.Sprintf("deformable_col2im_coord: failed to create mask gradient: %v", err))
		}
	}

	switch dtype {
	case tensor.Float32:
		deform.Col2ImCoord(cpu.exec, g, colGrad.AsFloat32(), image.AsFloat32(), offset.AsFloat32(),
			maskData[float32](mask), offsetGrad.AsFloat32(), maskData[float32](maskGrad))
	case tensor.Float64:
		deform.Col2ImCoord(cpu.exec, g, colGrad.AsFloat64(), image.AsFloat64(), offset.AsFloat64(),
			maskData[float64](mask), offsetGrad.AsFloat64(), maskData[float64](maskGrad))
	default:
		panic(fmt.Sprintf("deformable_col2im_coord: unsupported dtype %s", dtype))
	}

	return offsetGrad, maskGrad
}

// checkInputs validates image, offset and mask against g and returns their common dtype.
func checkInputs(op string, g deform.Geometry, image, offset, mask *tensor.RawTensor) tensor.DataType {
	checkShape(op, "image", image, g.ImageShape())
	return checkOffsets(op, g, image.DType(), offset, mask)
}

func checkOffsets(op string, g deform.Geometry, dtype tensor.DataType, offset, mask *tensor.RawTensor) tensor.DataType {
	checkShape(op, "offset", offset, g.OffsetShape())
	if offset.DType() != dtype {
		panic(fmt.Sprintf("%s: offset dtype %s != %s", op, offset.DType(), dtype))
	}

	switch {
	case g.Modulated && mask == nil:
		panic(fmt.Sprintf("%s: modulated geometry requires a mask", op))
	case !g.Modulated && mask != nil:
		panic(fmt.Sprintf("%s: mask given for an unmodulated geometry", op))
	case mask != nil:
		checkShape(op, "mask", mask, g.MaskShape())
		if mask.DType() != dtype {
			panic(fmt.Sprintf("%s: mask dtype %s != %s", op, mask.DType(), dtype))
		}
	}
	return dtype
}

func checkShape(op, name string, t *tensor.RawTensor, want tensor.Shape) {
	if t == nil {
		panic(fmt.Sprintf("%s: %s is nil", op, name))
	}
	if !t.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: %s shape %v, want %v", op, name, t.Shape(), want))
	}
}

// maskData returns the typed view of an optional tensor.
func maskData[T tensor.Float](t *tensor.RawTensor) []T {
	if t == nil {
		return nil
	}
	return tensor.AsSlice[T](t)
}
