package webgpu

import "errors"

// ErrUnavailable reports that no WebGPU device can be used on this system.
var ErrUnavailable = errors.New("webgpu: not available")
