package tensor

import "fmt"

// Volume is a bounds-checked (channel, row, column) view over a dense row-major buffer.
type Volume[T Float] struct {
	Data     []T
	Channels int
	Height   int
	Width    int
}

// NewVolume wraps data as a channels×height×width volume.
// Panics if data is too short to hold the volume.
func NewVolume[T Float](data []T, channels, height, width int) Volume[T] {
	if n := channels * height * width; len(data) < n {
		panic(fmt.Sprintf("volume: buffer of %d elements cannot hold (%d, %d, %d)", len(data), channels, height, width))
	}
	return Volume[T]{Data: data, Channels: channels, Height: height, Width: width}
}

// Index returns the flat index of (c, h, w).
func (v Volume[T]) Index(c, h, w int) int {
	return (c*v.Height+h)*v.Width + w
}

// At returns the element at (c, h, w).
func (v Volume[T]) At(c, h, w int) T {
	return v.Data[v.Index(c, h, w)]
}

// Set stores x at (c, h, w).
func (v Volume[T]) Set(c, h, w int, x T) {
	v.Data[v.Index(c, h, w)] = x
}

// Plane returns channel c as a height×width plane.
func (v Volume[T]) Plane(c int) Plane[T] {
	size := v.Height * v.Width
	return Plane[T]{Data: v.Data[c*size : (c+1)*size], Height: v.Height, Width: v.Width}
}

// Plane is a single height×width channel of a Volume.
type Plane[T Float] struct {
	Data   []T
	Height int
	Width  int
}

// Contains reports whether (h, w) lies on the plane.
func (p Plane[T]) Contains(h, w int) bool {
	return h >= 0 && h < p.Height && w >= 0 && w < p.Width
}

// At returns the element at (h, w).
func (p Plane[T]) At(h, w int) T {
	return p.Data[h*p.Width+w]
}
