//go:build !windows

package webgpu

import (
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// Backend is unavailable on this platform; New always fails.
type Backend struct{}

// New returns ErrUnavailable.
func New() (*Backend, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports false.
func IsAvailable() bool {
	return false
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "WebGPU"
}

// Device returns the compute device.
func (b *Backend) Device() tensor.Device {
	return tensor.WebGPU
}

// Release is a no-op.
func (b *Backend) Release() {}

// DeformableIm2Col panics: there is no device to run on.
func (b *Backend) DeformableIm2Col(deform.Geometry, *tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor {
	panic("deformable_im2col: " + ErrUnavailable.Error())
}

// DeformableCol2Im panics: there is no device to run on.
func (b *Backend) DeformableCol2Im(deform.Geometry, *tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor {
	panic("deformable_col2im: " + ErrUnavailable.Error())
}

// DeformableCol2ImCoord panics: there is no device to run on.
func (b *Backend) DeformableCol2ImCoord(
	deform.Geometry, *tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor,
) (*tensor.RawTensor, *tensor.RawTensor) {
	panic("deformable_col2im_coord: " + ErrUnavailable.Error())
}
