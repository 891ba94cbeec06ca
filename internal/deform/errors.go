package deform

import "errors"

// Configuration errors reported by the caller-side contract helpers.
// The kernels themselves never validate: see Footprint.Geometry and Geometry.CheckBuffers.
var (
	// ErrInvalidFootprint reports a footprint that cannot describe a convolution
	// (non-positive kernel, stride, dilation or group count, negative padding).
	ErrInvalidFootprint = errors.New("deform: invalid footprint")

	// ErrShapeMismatch reports buffers or input dimensions inconsistent with the footprint.
	ErrShapeMismatch = errors.New("deform: shape mismatch")
)
