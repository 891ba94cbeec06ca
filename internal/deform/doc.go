// Package deform implements the deformable spatial resampling kernels: the forward
// im2col that bilinearly samples an image at offset-perturbed kernel taps, and the two backward
// passes that carry a column gradient back to the image and to the offset and mask fields.
//
// The kernels are stateless, generic over float32 and float64, and operate on dense row-major
// slices described by a Geometry. They do not validate their inputs: callers build the
// Geometry with Footprint.Geometry and check buffer sizes with Geometry.CheckBuffers.
//
// Sampling outside the image is not an error. A coordinate outside (-1, H) × (-1, W) samples
// zero and contributes zero to every gradient.
//
// Example:
//
//	fp := deform.NewFootprint(3, 3)
//	fp.PadH, fp.PadW = 1, 1
//	g, err := fp.Geometry(channels, height, width)
//	if err != nil {
//	    return err
//	}
//	column := make([]float32, g.ColumnShape().NumElements())
//	deform.Im2Col(deform.DefaultExecContext(), g, image, offset, nil, column)
package deform
