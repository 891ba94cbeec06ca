// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for deformable resampling.
//
// # Overview
//
// This package implements a CPU backend with:
//   - Pure Go implementation (no CGO)
//   - Float32 and Float64 support
//   - Data-parallel kernels over every core
//   - Atomic or deterministic accumulation for the image-gradient scatter
//   - gonum BLAS for the dense products around the resampler
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/deform/backend/cpu"
//	    "github.com/born-ml/deform/deform"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    rng := rand.New(rand.NewPCG(1, 2))
//	    layer, _ := deform.NewXavierLayer(deform.DefaultLayerConfig(3, 8, 3), tensor.Float32, rng, backend)
//	    _ = layer
//	}
//
// # Reproducibility
//
// NewWithExec accepts an ExecContext. With AccumulateDeterministic the image gradient is
// bitwise reproducible across runs and worker counts.
package cpu
