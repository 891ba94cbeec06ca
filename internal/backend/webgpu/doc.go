// Package webgpu implements the deformable resampling kernels as WGSL compute shaders.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The GPU path is built on Windows only, where wgpu-native is loaded at runtime. Other
// platforms get a stub whose New returns ErrUnavailable. Only float32 tensors are supported.
package webgpu
