package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation: a dense row-major byte buffer plus
// runtime type information. Views created with Index share the buffer.
type RawTensor struct {
	data   []byte   // Backing buffer, shared by views
	shape  Shape    // Tensor dimensions
	stride []int    // Memory strides (row-major)
	dtype  DataType // Runtime type information
	device Device   // Compute device
	offset int      // Byte offset for views
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// Zeros creates a zero-filled CPU tensor of element type T.
func Zeros[T Float](shape Shape) (*RawTensor, error) {
	return NewRaw(shape, DataTypeOf[T](), CPU)
}

// FromSlice creates a CPU tensor holding a copy of data.
func FromSlice[T Float](data []T, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("from slice: %d elements do not fill shape %v", len(data), shape)
	}
	raw, err := Zeros[T](shape)
	if err != nil {
		return nil, err
	}
	copy(AsSlice[T](raw), data)
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice of this tensor (view-aware).
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data[r.offset : r.offset+r.ByteSize()]
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.Data()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	data := r.Data()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsSlice interprets the tensor data as []T.
// Panics if T does not match the tensor's dtype.
func AsSlice[T Float](r *RawTensor) []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(r.AsFloat32()).([]T)
	default:
		return any(r.AsFloat64()).([]T)
	}
}

// Index returns a view of the i-th sub-tensor along the leading axis.
// The view shares memory with r.
func (r *RawTensor) Index(i int) *RawTensor {
	if len(r.shape) < 2 {
		panic(fmt.Sprintf("index: tensor of shape %v has no sub-tensors", r.shape))
	}
	if i < 0 || i >= r.shape[0] {
		panic(fmt.Sprintf("index: %d out of range [0, %d)", i, r.shape[0]))
	}
	sub := r.shape[1:].Clone()
	return &RawTensor{
		data:   r.data,
		shape:  sub,
		stride: sub.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset + i*r.stride[0]*r.dtype.Size(),
	}
}

// Zero resets every element of the tensor to zero.
func (r *RawTensor) Zero() {
	clear(r.Data())
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	out := &RawTensor{
		data:   make([]byte, r.ByteSize()),
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
	}
	copy(out.data, r.Data())
	return out
}
