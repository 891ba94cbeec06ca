package deformconv

import (
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// Resampler is the set of deformable kernels a backend provides to the layer.
//
// Implementations panic on contract violations (shape, dtype, missing mask) in the same
// way the backend tensor operations do; the layer validates its inputs before calling them
// and converts any remaining panic into an error.
type Resampler interface {
	// Name returns the backend name.
	Name() string

	// Device returns the device the results live on.
	Device() tensor.Device

	// DeformableIm2Col expands one [C, H, W] image into a [C·KH·KW, HO, WO] column tensor.
	DeformableIm2Col(g deform.Geometry, image, offset, mask *tensor.RawTensor) *tensor.RawTensor

	// DeformableCol2Im returns the [C, H, W] image gradient for one column gradient.
	DeformableCol2Im(g deform.Geometry, colGrad, offset, mask *tensor.RawTensor) *tensor.RawTensor

	// DeformableCol2ImCoord returns the offset gradient and, when g.Modulated, the mask gradient.
	DeformableCol2ImCoord(g deform.Geometry, colGrad, image, offset, mask *tensor.RawTensor) (offsetGrad, maskGrad *tensor.RawTensor)
}
