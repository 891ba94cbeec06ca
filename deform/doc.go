// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package deform is the public entry point of the deformable resampling engine.
//
// # Overview
//
// A deformable convolution samples its input at learned fractional positions instead of
// the fixed lattice of a plain convolution. This package exposes:
//   - Footprint and Geometry describing kernel size, padding, stride, dilation, groups and modulation
//   - Im2Col, Col2Im and Col2ImCoord, the three resampling kernels on plain slices
//   - Layer, a deformable 2D convolution built on a pluggable Resampler backend
//   - SetLogger to route engine diagnostics into an slog.Logger
//
// # Basic Usage
//
//	fp := deform.NewFootprint(3, 3)
//	fp.PadH, fp.PadW = 1, 1
//	g, err := fp.Geometry(channels, height, width)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	column := make([]float32, g.ColumnShape().NumElements())
//	deform.Im2Col(deform.DefaultExecContext(), g, image, offset, nil, column)
//
// # Layout
//
// Offsets and masks are sampled on the input grid: the field for output location (ho, wo)
// is read at (ho·StrideH, wo·StrideW). Offset channels interleave (Δh, Δw) per tap, so the
// offset tensor has 2·KH·KW·DeformableGroups channels.
package deform
