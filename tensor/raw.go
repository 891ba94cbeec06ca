// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/deform/internal/tensor"
)

// RawTensor is the low-level tensor representation.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Device()
//   - Zero-copy typed access via AsFloat32() and AsFloat64()
//   - Views along the leading axis via Index()
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()  // Type-safe access
//	clone := raw.Clone()     // Deep copy
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType represents runtime type information for tensors.
type DataType = tensor.DataType

// Device represents the compute device for tensor operations.
type Device = tensor.Device

// Float is the element constraint of the resampling engine.
type Float = tensor.Float

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
)

// Supported devices.
const (
	CPU    = tensor.CPU
	WebGPU = tensor.WebGPU
)

// NewRaw creates a zero-initialized tensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros creates a zero-filled CPU tensor of element type T.
func Zeros[T Float](shape Shape) (*RawTensor, error) {
	return tensor.Zeros[T](shape)
}

// FromSlice creates a CPU tensor holding a copy of data.
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// AsSlice interprets the tensor data as []T.
// Panics if T does not match the tensor's dtype.
func AsSlice[T Float](r *RawTensor) []T {
	return tensor.AsSlice[T](r)
}
