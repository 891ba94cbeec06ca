// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package deform

import (
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/deformconv"
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/tensor"
)

// Footprint describes the spatial transform of a deformable convolution.
type Footprint = deform.Footprint

// Geometry is a Footprint bound to concrete input dimensions.
type Geometry = deform.Geometry

// ExecContext carries the device, stream, parallelism and accumulation mode of a kernel call.
type ExecContext = deform.ExecContext

// Accumulation selects how the image-gradient scatter combines overlapping writes.
type Accumulation = deform.Accumulation

// Accumulation modes.
const (
	AccumulateAtomic        = deform.AccumulateAtomic
	AccumulateDeterministic = deform.AccumulateDeterministic
)

// Configuration errors.
var (
	ErrInvalidFootprint = deform.ErrInvalidFootprint
	ErrShapeMismatch    = deform.ErrShapeMismatch
)

// NewFootprint returns a kh×kw footprint with unit stride and dilation, no padding,
// one deformable group and no modulation.
func NewFootprint(kh, kw int) Footprint {
	return deform.NewFootprint(kh, kw)
}

// DefaultExecContext returns a CPU context on stream 0 using every core.
func DefaultExecContext() ExecContext {
	return deform.DefaultExecContext()
}

// Im2Col expands one image into its deformable column buffer.
//
// Buffers must have the sizes reported by Geometry; use Geometry.CheckBuffers when they
// come from untrusted callers. mask is ignored unless the footprint is modulated.
func Im2Col[T tensor.Float](ec ExecContext, g Geometry, image, offset, mask, column []T) {
	deform.Im2Col(ec, g, image, offset, mask, column)
}

// Col2Im adds the image gradient of colGrad into imageGrad.
func Col2Im[T tensor.Float](ec ExecContext, g Geometry, colGrad, offset, mask, imageGrad []T) {
	deform.Col2Im(ec, g, colGrad, offset, mask, imageGrad)
}

// Col2ImCoord adds the offset gradient into offsetGrad and, for modulated footprints, the
// mask gradient into maskGrad.
func Col2ImCoord[T tensor.Float](ec ExecContext, g Geometry, colGrad, image, offset, mask, offsetGrad, maskGrad []T) {
	deform.Col2ImCoord(ec, g, colGrad, image, offset, mask, offsetGrad, maskGrad)
}

// Resampler is the set of deformable kernels a backend provides to a Layer.
// Both cpu.Backend and webgpu.Backend implement it.
type Resampler = deformconv.Resampler

// LayerConfig configures a deformable convolution layer.
type LayerConfig = deformconv.Config

// Layer is a deformable 2D convolution.
type Layer = deformconv.Layer

// Inputs bundles the batched input, offset and mask tensors of a forward pass.
type Inputs = deformconv.Inputs

// Op is a recorded forward pass; call Backward on it to obtain gradients.
type Op = deformconv.Op

// Gradients holds every gradient produced by Op.Backward.
type Gradients = deformconv.Gradients

// DefaultLayerConfig returns a modulated k×k layer with same padding and a bias.
func DefaultLayerConfig(in, out, k int) LayerConfig {
	return deformconv.DefaultConfig(in, out, k)
}

// NewLayer creates a layer from explicit weight and bias tensors.
// bias must be nil when cfg.Bias is false.
func NewLayer(cfg LayerConfig, weight, bias *tensor.RawTensor, backend Resampler) (*Layer, error) {
	return deformconv.New(cfg, weight, bias, backend)
}

// NewXavierLayer creates a layer with Xavier-uniform weights and a zero bias.
//
// Example:
//
//	rng := rand.New(rand.NewPCG(1, 2))
//	layer, err := deform.NewXavierLayer(deform.DefaultLayerConfig(3, 16, 3), tensor.Float32, rng, cpu.New())
func NewXavierLayer(cfg LayerConfig, dtype tensor.DataType, rng *rand.Rand, backend Resampler) (*Layer, error) {
	return deformconv.NewXavier(cfg, dtype, rng, backend)
}

// LoadLayer reads a layer written by Layer.Save.
func LoadLayer(r io.Reader, backend Resampler) (*Layer, error) {
	return deformconv.Load(r, backend)
}

// SetLogger installs the logger used for kernel dispatch and backend diagnostics.
// A nil logger restores the silent default.
func SetLogger(l *slog.Logger) {
	log.SetLogger(l)
}
