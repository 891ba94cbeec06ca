package deformconv

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/deform/internal/backend/cpu"
	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is a layer plus one batch of inputs and an upstream gradient.
type fixture struct {
	layer  *Layer
	in     Inputs
	upGrad *tensor.RawTensor
}

func testConfig(modulated bool) Config {
	cfg := DefaultConfig(4, 3, 3)
	cfg.Footprint.DeformableGroups = 2
	cfg.Footprint.Modulated = modulated
	cfg.Parallel = parallel.Sequential()
	return cfg
}

func sequentialBackend() *cpu.CPUBackend {
	ec := deform.DefaultExecContext()
	ec.Parallel = parallel.Sequential()
	ec.Accumulation = deform.AccumulateDeterministic
	return cpu.NewWithExec(ec)
}

func randomFill(rng *rand.Rand, data []float64, lo, hi float64) {
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float64()
	}
}

// latticeSafeOffsets keeps every sample at least 0.2 away from lattice lines.
func latticeSafeOffsets(rng *rand.Rand, data []float64) {
	for i := range data {
		data[i] = float64(rng.IntN(3)-1) + 0.2 + 0.6*rng.Float64()
	}
}

func newFixture(t *testing.T, cfg Config, batch, h, w int, seed uint64) fixture {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))

	layer, err := NewXavier(cfg, tensor.Float64, rng, sequentialBackend())
	require.NoError(t, err)
	if layer.Bias() != nil {
		randomFill(rng, layer.Bias().AsFloat64(), -0.5, 0.5)
	}

	g, err := cfg.Footprint.Geometry(cfg.InChannels, h, w)
	require.NoError(t, err)

	input, _ := tensor.Zeros[float64](append(tensor.Shape{batch}, g.ImageShape()...))
	offset, _ := tensor.Zeros[float64](append(tensor.Shape{batch}, g.OffsetShape()...))
	randomFill(rng, input.AsFloat64(), -1, 1)
	latticeSafeOffsets(rng, offset.AsFloat64())

	in := Inputs{Input: input, Offset: offset}
	if g.Modulated {
		in.Mask, _ = tensor.Zeros[float64](append(tensor.Shape{batch}, g.MaskShape()...))
		randomFill(rng, in.Mask.AsFloat64(), 0, 1)
	}

	upGrad, _ := tensor.Zeros[float64](tensor.Shape{batch, cfg.OutChannels, g.HeightOut, g.WidthOut})
	randomFill(rng, upGrad.AsFloat64(), -1, 1)

	return fixture{layer: layer, in: in, upGrad: upGrad}
}

func (f fixture) loss(t *testing.T) float64 {
	t.Helper()
	op, err := f.layer.Forward(context.Background(), f.in)
	require.NoError(t, err)
	var sum float64
	for i, v := range op.Output.AsFloat64() {
		sum += v * f.upGrad.AsFloat64()[i]
	}
	return sum
}

func (f fixture) numericGrad(t *testing.T, x []float64, i int) float64 {
	const eps = 1e-6
	orig := x[i]
	x[i] = orig + eps
	plus := f.loss(t)
	x[i] = orig - eps
	minus := f.loss(t)
	x[i] = orig
	return (plus - minus) / (2 * eps)
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig(true)
	weight, _ := tensor.Zeros[float32](tensor.Shape{3, 4 * 9})
	bias, _ := tensor.Zeros[float32](tensor.Shape{3})
	bias64, _ := tensor.Zeros[float64](tensor.Shape{3})
	badWeight, _ := tensor.Zeros[float32](tensor.Shape{3, 4, 3, 3})
	badBias, _ := tensor.Zeros[float32](tensor.Shape{4})

	_, err := New(cfg, weight, bias, cpu.New())
	require.NoError(t, err)

	tests := []struct {
		name         string
		cfg          func() Config
		weight, bias *tensor.RawTensor
	}{
		{"4D weight", func() Config { return cfg }, badWeight, bias},
		{"nil weight", func() Config { return cfg }, nil, bias},
		{"missing bias", func() Config { return cfg }, weight, nil},
		{"bias shape", func() Config { return cfg }, weight, badBias},
		{"bias dtype", func() Config { return cfg }, weight, bias64},
		{"unexpected bias", func() Config {
			c := cfg
			c.Bias = false
			return c
		}, weight, bias},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg(), tt.weight, tt.bias, cpu.New())
			assert.ErrorIs(t, err, deform.ErrShapeMismatch)
		})
	}

	bad := cfg
	bad.InChannels = 3
	_, err = New(bad, weight, bias, cpu.New())
	assert.ErrorIs(t, err, deform.ErrInvalidFootprint)

	_, err = New(cfg, weight, bias, nil)
	assert.Error(t, err)
}

func TestLayerString(t *testing.T) {
	layer, err := NewXavier(testConfig(true), tensor.Float32, rand.New(rand.NewPCG(1, 2)), cpu.New())
	require.NoError(t, err)
	assert.Equal(t,
		"DeformConv2D(in_channels=4, out_channels=3, kernel_size=(3, 3), stride=(1, 1), padding=(1, 1), "+
			"dilation=(1, 1), deformable_groups=2, modulated=true, bias=true)",
		layer.String())
}

func TestXavierBounds(t *testing.T) {
	layer, err := NewXavier(testConfig(false), tensor.Float64, rand.New(rand.NewPCG(5, 6)), cpu.New())
	require.NoError(t, err)

	bound := math.Sqrt(6.0 / (36 + 27))
	for _, v := range layer.Weight().AsFloat64() {
		require.LessOrEqual(t, v, bound)
		require.GreaterOrEqual(t, v, -bound)
	}
	for _, v := range layer.Bias().AsFloat64() {
		require.Zero(t, v)
	}
}

func TestForwardZeroOffsetMatchesConv2D(t *testing.T) {
	cfg := testConfig(false)
	cfg.Footprint.StrideH, cfg.Footprint.StrideW = 2, 2
	f := newFixture(t, cfg, 3, 7, 6, 11)
	f.in.Offset.Zero()

	op, err := f.layer.Forward(context.Background(), f.in)
	require.NoError(t, err)

	kernel, _ := tensor.FromSlice(f.layer.Weight().AsFloat64(), tensor.Shape{3, 4, 3, 3})
	want := cpu.New().Conv2D(f.in.Input, kernel, cfg.Footprint)
	require.Equal(t, want.Shape(), op.Output.Shape())

	wantData := want.AsFloat64()
	got := op.Output.AsFloat64()
	bias := f.layer.Bias().AsFloat64()
	plane := op.Geometry().HeightOut * op.Geometry().WidthOut
	for i := range got {
		o := (i / plane) % cfg.OutChannels
		require.InDelta(t, wantData[i]+bias[o], got[i], 1e-12, "output %d", i)
	}
}

func TestForwardShapeErrors(t *testing.T) {
	f := newFixture(t, testConfig(true), 2, 5, 5, 3)

	wrongOffset, _ := tensor.Zeros[float64](tensor.Shape{2, 18, 5, 5})
	wrongBatch, _ := tensor.Zeros[float64](tensor.Shape{1, 36, 5, 5})
	input32, _ := tensor.Zeros[float32](tensor.Shape{2, 4, 5, 5})
	input3D, _ := tensor.Zeros[float64](tensor.Shape{4, 5, 5})
	wrongChannels, _ := tensor.Zeros[float64](tensor.Shape{2, 2, 5, 5})

	tests := []struct {
		name string
		in   Inputs
	}{
		{"missing offset", Inputs{Input: f.in.Input, Mask: f.in.Mask}},
		{"missing mask", Inputs{Input: f.in.Input, Offset: f.in.Offset}},
		{"offset channels", Inputs{Input: f.in.Input, Offset: wrongOffset, Mask: f.in.Mask}},
		{"offset batch", Inputs{Input: f.in.Input, Offset: wrongBatch, Mask: f.in.Mask}},
		{"input dtype", Inputs{Input: input32, Offset: f.in.Offset, Mask: f.in.Mask}},
		{"input rank", Inputs{Input: input3D, Offset: f.in.Offset, Mask: f.in.Mask}},
		{"input channels", Inputs{Input: wrongChannels, Offset: f.in.Offset, Mask: f.in.Mask}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.layer.Forward(context.Background(), tt.in)
			assert.ErrorIs(t, err, deform.ErrShapeMismatch)
		})
	}

	unmodulated := newFixture(t, testConfig(false), 2, 5, 5, 3)
	_, err := unmodulated.layer.Forward(context.Background(),
		Inputs{Input: unmodulated.in.Input, Offset: unmodulated.in.Offset, Mask: f.in.Mask})
	assert.ErrorIs(t, err, deform.ErrShapeMismatch)
}

func TestForwardCanceled(t *testing.T) {
	f := newFixture(t, testConfig(true), 4, 5, 5, 9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.layer.Forward(ctx, f.in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackwardShapeErrors(t *testing.T) {
	f := newFixture(t, testConfig(true), 2, 5, 5, 4)
	op, err := f.layer.Forward(context.Background(), f.in)
	require.NoError(t, err)

	wrong, _ := tensor.Zeros[float64](tensor.Shape{2, 3, 4, 5})
	_, err = op.Backward(context.Background(), wrong)
	assert.ErrorIs(t, err, deform.ErrShapeMismatch)

	_, err = op.Backward(context.Background(), nil)
	assert.ErrorIs(t, err, deform.ErrShapeMismatch)

	wrongType, _ := tensor.Zeros[float32](op.Output.Shape())
	_, err = op.Backward(context.Background(), wrongType)
	assert.ErrorIs(t, err, deform.ErrShapeMismatch)
}

func TestBackwardGradCheck(t *testing.T) {
	for _, modulated := range []bool{false, true} {
		name := "plain"
		if modulated {
			name = "modulated"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, testConfig(modulated), 2, 5, 4, 17)
			op, err := f.layer.Forward(context.Background(), f.in)
			require.NoError(t, err)
			grads, err := op.Backward(context.Background(), f.upGrad)
			require.NoError(t, err)

			check := func(label string, x, analytic []float64) {
				for i := range x {
					want := f.numericGrad(t, x, i)
					require.InDelta(t, want, analytic[i], 1e-5, "%s[%d]", label, i)
				}
			}

			check("weight", f.layer.Weight().AsFloat64(), grads.Weight.AsFloat64())
			check("bias", f.layer.Bias().AsFloat64(), grads.Bias.AsFloat64())
			check("input", f.in.Input.AsFloat64(), grads.Input.AsFloat64())
			check("offset", f.in.Offset.AsFloat64(), grads.Offset.AsFloat64())
			if modulated {
				check("mask", f.in.Mask.AsFloat64(), grads.Mask.AsFloat64())
			} else {
				assert.Nil(t, grads.Mask)
			}
		})
	}
}

func TestBackwardParallelMatchesSequential(t *testing.T) {
	cfg := testConfig(true)
	f := newFixture(t, cfg, 6, 6, 6, 23)

	op, err := f.layer.Forward(context.Background(), f.in)
	require.NoError(t, err)
	want, err := op.Backward(context.Background(), f.upGrad)
	require.NoError(t, err)

	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	layer, err := New(cfg, f.layer.Weight(), f.layer.Bias(), sequentialBackend())
	require.NoError(t, err)

	op, err = layer.Forward(context.Background(), f.in)
	require.NoError(t, err)
	got, err := op.Backward(context.Background(), f.upGrad)
	require.NoError(t, err)

	assert.Equal(t, want.Weight.AsFloat64(), got.Weight.AsFloat64())
	assert.Equal(t, want.Bias.AsFloat64(), got.Bias.AsFloat64())
	assert.Equal(t, want.Input.AsFloat64(), got.Input.AsFloat64())
	assert.Equal(t, want.Offset.AsFloat64(), got.Offset.AsFloat64())
	assert.Equal(t, want.Mask.AsFloat64(), got.Mask.AsFloat64())
}

// panicking fails every kernel call the way a backend reports a broken contract.
type panicking struct {
	*cpu.CPUBackend
}

func (panicking) DeformableIm2Col(deform.Geometry, *tensor.RawTensor, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor {
	panic("deformable_im2col: device lost")
}

func TestBackendPanicBecomesError(t *testing.T) {
	f := newFixture(t, testConfig(true), 2, 5, 5, 31)
	layer, err := New(f.layer.Config(), f.layer.Weight(), f.layer.Bias(), panicking{cpu.New()})
	require.NoError(t, err)

	_, err = layer.Forward(context.Background(), f.in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deformconv: forward on CPU: deformable_im2col: device lost")
	assert.False(t, errors.Is(err, context.Canceled))
}
