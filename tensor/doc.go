// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense buffers the deformable resampling engine works on.
//
// # Overview
//
// A RawTensor is a row-major byte buffer with a shape, a data type and a device tag.
// Float32 and Float64 are supported. Index returns zero-copy views along the leading axis,
// which is how batched inputs are handed to the per-image kernels.
//
// # Basic Usage
//
//	import "github.com/born-ml/deform/tensor"
//
//	func main() {
//	    image, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 2, 2})
//	    data := image.AsFloat32() // zero-copy
//	    _ = data
//	}
package tensor
