// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU backend for GPU-accelerated deformable resampling.
//
// The GPU path is available on Windows, where wgpu-native is loaded at runtime. Elsewhere
// New returns ErrUnavailable. Only float32 tensors are supported.
//
// Example:
//
//	var backend deform.Resampler = cpu.New()
//	if webgpu.IsAvailable() {
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer gpu.Release()
//	    backend = gpu
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/deform/internal/backend/webgpu"
	"github.com/born-ml/deform/internal/deformconv"
)

// Backend represents the WebGPU backend implementation.
type Backend = internalwebgpu.Backend

// Compile-time check that Backend implements the resampler interface.
var _ deformconv.Resampler = (*Backend)(nil)

// ErrUnavailable reports that no WebGPU device can be used on this system.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// New creates a new WebGPU backend.
// Call Release() when done to free GPU resources.
func New() (*Backend, error) {
	return internalwebgpu.New()
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
