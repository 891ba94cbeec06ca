// Package deformconv implements the deformable convolution layer on top of the resampling
// engine: Im2Col and a GEMM on the way forward, the two scatter kernels and the transposed
// GEMMs on the way back.
package deformconv

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/deform/internal/backend/cpu"
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Layer is a deformable 2D convolution.
//
// Input shape:  [batch, in_channels, height, width]
// Offset shape: [batch, 2·KH·KW·DG, height, width]
// Mask shape:   [batch, KH·KW·DG, height, width] (modulated layers only)
// Weight shape: [out_channels, in_channels·KH·KW]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
type Layer struct {
	cfg     Config
	weight  *tensor.RawTensor
	bias    *tensor.RawTensor
	backend Resampler
}

// New creates a layer from existing parameters. bias must be nil unless cfg.Bias is set.
func New(cfg Config, weight, bias *tensor.RawTensor, backend Resampler) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("deformconv: nil backend")
	}

	wantWeight := tensor.Shape{cfg.OutChannels, cfg.InChannels * cfg.Footprint.Taps()}
	if weight == nil || !weight.Shape().Equal(wantWeight) {
		return nil, fmt.Errorf("%w: weight shape %v, want %v", deform.ErrShapeMismatch, shapeOf(weight), wantWeight)
	}

	switch {
	case cfg.Bias && bias == nil:
		return nil, fmt.Errorf("%w: layer configured with bias but none given", deform.ErrShapeMismatch)
	case !cfg.Bias && bias != nil:
		return nil, fmt.Errorf("%w: bias given for a layer without bias", deform.ErrShapeMismatch)
	case bias != nil && !bias.Shape().Equal(tensor.Shape{cfg.OutChannels}):
		return nil, fmt.Errorf("%w: bias shape %v, want (%d)", deform.ErrShapeMismatch, bias.Shape(), cfg.OutChannels)
	case bias != nil && bias.DType() != weight.DType():
		return nil, fmt.Errorf("%w: bias dtype %s != weight dtype %s", deform.ErrShapeMismatch, bias.DType(), weight.DType())
	}

	return &Layer{cfg: cfg, weight: weight, bias: bias, backend: backend}, nil
}

// NewXavier creates a layer with Xavier/Glorot uniform weights drawn from rng and a zero bias.
//
//	U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// with fan_in = in_channels·KH·KW and fan_out = out_channels·KH·KW.
func NewXavier(cfg Config, dtype tensor.DataType, rng *rand.Rand, backend Resampler) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	taps := cfg.Footprint.Taps()
	fanIn := cfg.InChannels * taps
	fanOut := cfg.OutChannels * taps
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	weight, err := tensor.NewRaw(tensor.Shape{cfg.OutChannels, fanIn}, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("deformconv: %w", err)
	}
	switch dtype {
	case tensor.Float32:
		fillUniform(weight.AsFloat32(), rng, bound)
	case tensor.Float64:
		fillUniform(weight.AsFloat64(), rng, bound)
	default:
		return nil, fmt.Errorf("deformconv: unsupported dtype %s", dtype)
	}

	var bias *tensor.RawTensor
	if cfg.Bias {
		if bias, err = tensor.NewRaw(tensor.Shape{cfg.OutChannels}, dtype, tensor.CPU); err != nil {
			return nil, fmt.Errorf("deformconv: %w", err)
		}
	}
	return New(cfg, weight, bias, backend)
}

func fillUniform[T tensor.Float](data []T, rng *rand.Rand, bound float64) {
	for i := range data {
		data[i] = T((rng.Float64()*2.0 - 1.0) * bound)
	}
}

// Config returns the layer configuration.
func (l *Layer) Config() Config {
	return l.cfg
}

// Weight returns the [out_channels, in_channels·KH·KW] weight tensor.
func (l *Layer) Weight() *tensor.RawTensor {
	return l.weight
}

// Bias returns the bias tensor, or nil.
func (l *Layer) Bias() *tensor.RawTensor {
	return l.bias
}

// Backend returns the resampling backend.
func (l *Layer) Backend() Resampler {
	return l.backend
}

// String returns a string representation of the layer.
func (l *Layer) String() string {
	fp := l.cfg.Footprint
	return fmt.Sprintf("DeformConv2D(in_channels=%d, out_channels=%d, kernel_size=(%d, %d), stride=(%d, %d), "+
		"padding=(%d, %d), dilation=(%d, %d), deformable_groups=%d, modulated=%v, bias=%v)",
		l.cfg.InChannels, l.cfg.OutChannels,
		fp.KernelH, fp.KernelW, fp.StrideH, fp.StrideW, fp.PadH, fp.PadW,
		fp.DilationH, fp.DilationW, fp.DeformableGroups, fp.Modulated, l.cfg.Bias)
}

// Inputs groups the tensors a forward pass reads.
type Inputs struct {
	Input  *tensor.RawTensor // [N, C, H, W]
	Offset *tensor.RawTensor // [N, 2·KH·KW·DG, H, W]
	Mask   *tensor.RawTensor // [N, KH·KW·DG, H, W], nil unless modulated
}

// Op is a completed forward pass. It keeps what Backward needs.
type Op struct {
	layer    *Layer
	inputs   Inputs
	geometry deform.Geometry
	columns  []*tensor.RawTensor

	// Output is the [N, out_channels, out_h, out_w] result.
	Output *tensor.RawTensor
}

// Geometry returns the per-image geometry of the pass.
func (op *Op) Geometry() deform.Geometry {
	return op.geometry
}

// Gradients holds the results of Op.Backward. Mask is nil for unmodulated layers and Bias is
// nil for layers without bias.
type Gradients struct {
	Input  *tensor.RawTensor
	Offset *tensor.RawTensor
	Mask   *tensor.RawTensor
	Weight *tensor.RawTensor
	Bias   *tensor.RawTensor
}

// Forward runs the layer over a batch. Batch items are independent and fan out according to
// Config.Parallel; ctx is checked between items.
func (l *Layer) Forward(ctx context.Context, in Inputs) (*Op, error) {
	g, err := l.geometry(in)
	if err != nil {
		return nil, err
	}

	batch := in.Input.Shape()[0]
	output, err := tensor.NewRaw(tensor.Shape{batch, l.cfg.OutChannels, g.HeightOut, g.WidthOut},
		l.weight.DType(), l.backend.Device())
	if err != nil {
		return nil, fmt.Errorf("deformconv: %w", err)
	}

	op := &Op{
		layer:    l,
		inputs:   in,
		geometry: g,
		columns:  make([]*tensor.RawTensor, batch),
		Output:   output,
	}

	log.Logger().Debug("deformconv: forward",
		"backend", l.backend.Name(), "batch", batch, "out", output.Shape().String())

	err = parallel.Group(ctx, batch, func(_ context.Context, n int) error {
		return l.safeCall("forward", func() {
			col := l.backend.DeformableIm2Col(g, in.Input.Index(n), in.Offset.Index(n), maskAt(in.Mask, n))
			out := output.Index(n)
			gemm(false, false, l.cfg.OutChannels, g.HeightOut*g.WidthOut, g.Channels*g.Taps(), l.weight, col, out)
			if l.bias != nil {
				addBias(out, l.bias)
			}
			op.columns[n] = col
		})
	}, l.cfg.Parallel)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// Backward computes the gradients of Σ Output·outputGrad with respect to the input, offset,
// mask, weight and bias. Weight and bias gradients are reduced in batch order, so they do not
// depend on scheduling.
func (op *Op) Backward(ctx context.Context, outputGrad *tensor.RawTensor) (*Gradients, error) {
	l := op.layer
	g := op.geometry

	if outputGrad == nil || !outputGrad.Shape().Equal(op.Output.Shape()) {
		return nil, fmt.Errorf("%w: output gradient shape %v, want %v",
			deform.ErrShapeMismatch, shapeOf(outputGrad), op.Output.Shape())
	}
	if outputGrad.DType() != op.Output.DType() {
		return nil, fmt.Errorf("%w: output gradient dtype %s, want %s",
			deform.ErrShapeMismatch, outputGrad.DType(), op.Output.DType())
	}

	dtype := op.Output.DType()
	batch := len(op.columns)
	grads, err := op.allocGradients(dtype)
	if err != nil {
		return nil, err
	}

	rows := g.Channels * g.Taps()
	cols := g.HeightOut * g.WidthOut
	weightParts := make([]*tensor.RawTensor, batch)
	biasParts := make([]*tensor.RawTensor, batch)

	log.Logger().Debug("deformconv: backward", "backend", l.backend.Name(), "batch", batch)

	err = parallel.Group(ctx, batch, func(_ context.Context, n int) error {
		return l.safeCall("backward", func() {
			gradOut := outputGrad.Index(n)
			offset := op.inputs.Offset.Index(n)
			mask := maskAt(op.inputs.Mask, n)

			colGrad := mustRaw(g.ColumnShape(), dtype)
			gemm(true, false, rows, cols, l.cfg.OutChannels, l.weight, gradOut, colGrad)

			copyInto(grads.Input.Index(n), l.backend.DeformableCol2Im(g, colGrad, offset, mask))
			offsetGrad, maskGrad := l.backend.DeformableCol2ImCoord(g, colGrad, op.inputs.Input.Index(n), offset, mask)
			copyInto(grads.Offset.Index(n), offsetGrad)
			if grads.Mask != nil {
				copyInto(grads.Mask.Index(n), maskGrad)
			}

			weightParts[n] = mustRaw(l.weight.Shape(), dtype)
			gemm(false, true, l.cfg.OutChannels, rows, cols, gradOut, op.columns[n], weightParts[n])
			if grads.Bias != nil {
				biasParts[n] = mustRaw(grads.Bias.Shape(), dtype)
				sumRows(biasParts[n], gradOut)
			}
		})
	}, l.cfg.Parallel)
	if err != nil {
		return nil, err
	}

	for n := range batch {
		accumulate(grads.Weight, weightParts[n])
		if grads.Bias != nil {
			accumulate(grads.Bias, biasParts[n])
		}
	}
	return grads, nil
}

func (op *Op) allocGradients(dtype tensor.DataType) (*Gradients, error) {
	l := op.layer
	grads := &Gradients{}
	var err error

	alloc := func(dst **tensor.RawTensor, shape tensor.Shape) {
		if err == nil {
			*dst, err = tensor.NewRaw(shape, dtype, l.backend.Device())
		}
	}
	alloc(&grads.Input, op.inputs.Input.Shape())
	alloc(&grads.Offset, op.inputs.Offset.Shape())
	if op.inputs.Mask != nil {
		alloc(&grads.Mask, op.inputs.Mask.Shape())
	}
	alloc(&grads.Weight, l.weight.Shape())
	if l.bias != nil {
		alloc(&grads.Bias, l.bias.Shape())
	}
	if err != nil {
		return nil, fmt.Errorf("deformconv: %w", err)
	}
	return grads, nil
}

// geometry validates a batch against the layer and returns the per-image geometry.
func (l *Layer) geometry(in Inputs) (deform.Geometry, error) {
	if in.Input == nil || in.Offset == nil {
		return deform.Geometry{}, fmt.Errorf("%w: input and offset are required", deform.ErrShapeMismatch)
	}

	shape := in.Input.Shape()
	if len(shape) != 4 {
		return deform.Geometry{}, fmt.Errorf("%w: expected 4D input [N,C,H,W], got %v", deform.ErrShapeMismatch, shape)
	}
	if shape[1] != l.cfg.InChannels {
		return deform.Geometry{}, fmt.Errorf("%w: input channels %d != expected %d",
			deform.ErrShapeMismatch, shape[1], l.cfg.InChannels)
	}

	g, err := l.cfg.Footprint.Geometry(shape[1], shape[2], shape[3])
	if err != nil {
		return deform.Geometry{}, fmt.Errorf("deformconv: %w", err)
	}

	batch := shape[0]
	dtype := l.weight.DType()
	if err := checkBatched("input", in.Input, batch, g.ImageShape(), dtype); err != nil {
		return deform.Geometry{}, err
	}
	if err := checkBatched("offset", in.Offset, batch, g.OffsetShape(), dtype); err != nil {
		return deform.Geometry{}, err
	}

	switch {
	case g.Modulated && in.Mask == nil:
		return deform.Geometry{}, fmt.Errorf("%w: modulated layer requires a mask", deform.ErrShapeMismatch)
	case !g.Modulated && in.Mask != nil:
		return deform.Geometry{}, fmt.Errorf("%w: mask given for an unmodulated layer", deform.ErrShapeMismatch)
	case in.Mask != nil:
		if err := checkBatched("mask", in.Mask, batch, g.MaskShape(), dtype); err != nil {
			return deform.Geometry{}, err
		}
	}
	return g, nil
}

func checkBatched(name string, t *tensor.RawTensor, batch int, item tensor.Shape, dtype tensor.DataType) error {
	want := append(tensor.Shape{batch}, item...)
	if !t.Shape().Equal(want) {
		return fmt.Errorf("%w: %s shape %v, want %v", deform.ErrShapeMismatch, name, t.Shape(), want)
	}
	if t.DType() != dtype {
		return fmt.Errorf("%w: %s dtype %s, want %s", deform.ErrShapeMismatch, name, t.DType(), dtype)
	}
	return nil
}

// safeCall runs fn and turns a backend panic into an error.
func (l *Layer) safeCall(stage string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deformconv: %s on %s: %v", stage, l.backend.Name(), r)
		}
	}()
	fn()
	return nil
}

func maskAt(mask *tensor.RawTensor, n int) *tensor.RawTensor {
	if mask == nil {
		return nil
	}
	return mask.Index(n)
}

func shapeOf(t *tensor.RawTensor) tensor.Shape {
	if t == nil {
		return nil
	}
	return t.Shape()
}

func mustRaw(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		panic(fmt.Sprintf("deformconv: failed to create tensor: %v", err))
	}
	return t
}

// gemm computes c = op(a)·op(b) on flat views; c is overwritten.
func gemm(transA, transB bool, m, n, k int, a, b, c *tensor.RawTensor) {
	switch c.DType() {
	case tensor.Float32:
		cpu.Gemm(transA, transB, m, n, k, a.AsFloat32(), b.AsFloat32(), 0, c.AsFloat32())
	case tensor.Float64:
		cpu.Gemm(transA, transB, m, n, k, a.AsFloat64(), b.AsFloat64(), 0, c.AsFloat64())
	default:
		panic(fmt.Sprintf("gemm: unsupported dtype %s", c.DType()))
	}
}

// addBias adds bias[o] to every element of plane o of out [O, HO, WO].
func addBias(out, bias *tensor.RawTensor) {
	switch out.DType() {
	case tensor.Float32:
		addBiasTyped(out.AsFloat32(), bias.AsFloat32())
	case tensor.Float64:
		addBiasTyped(out.AsFloat64(), bias.AsFloat64())
	}
}

func addBiasTyped[T tensor.Float](out, bias []T) {
	size := len(out) / len(bias)
	for o, b := range bias {
		plane := out[o*size : (o+1)*size]
		for i := range plane {
			plane[i] += b
		}
	}
}

// sumRows writes the per-plane sums of src [O, HO, WO] into dst [O].
func sumRows(dst, src *tensor.RawTensor) {
	switch dst.DType() {
	case tensor.Float32:
		sumRowsTyped(dst.AsFloat32(), src.AsFloat32())
	case tensor.Float64:
		sumRowsTyped(dst.AsFloat64(), src.AsFloat64())
	}
}

func sumRowsTyped[T tensor.Float](dst, src []T) {
	size := len(src) / len(dst)
	for o := range dst {
		var sum T
		for _, v := range src[o*size : (o+1)*size] {
			sum += v
		}
		dst[o] = sum
	}
}

// accumulate adds src into dst element-wise.
func accumulate(dst, src *tensor.RawTensor) {
	switch dst.DType() {
	case tensor.Float32:
		accumulateTyped(dst.AsFloat32(), src.AsFloat32())
	case tensor.Float64:
		accumulateTyped(dst.AsFloat64(), src.AsFloat64())
	}
}

func accumulateTyped[T tensor.Float](dst, src []T) {
	for i, v := range src {
		dst[i] += v
	}
}

func copyInto(dst, src *tensor.RawTensor) {
	if !dst.Shape().Equal(src.Shape()) || dst.DType() != src.DType() {
		panic(fmt.Sprintf("copy: %s%v into %s%v", src.DType(), src.Shape(), dst.DType(), dst.Shape()))
	}
	copy(dst.Data(), src.Data())
}
