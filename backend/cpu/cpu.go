// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/deform/internal/backend/cpu"
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/deformconv"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements the resampler interface.
var _ deformconv.Resampler = (*Backend)(nil)

// New creates a new CPU backend using every core and atomic accumulation.
//
// Example:
//
//	backend := cpu.New()
//	col := backend.DeformableIm2Col(g, image, offset, nil)
func New() *Backend {
	return internalcpu.New()
}

// NewWithExec creates a CPU backend that runs every kernel with ec.
//
// Example:
//
//	ec := deform.DefaultExecContext()
//	ec.Accumulation = deform.AccumulateDeterministic
//	backend := cpu.NewWithExec(ec)
func NewWithExec(ec deform.ExecContext) *Backend {
	return internalcpu.NewWithExec(ec)
}
