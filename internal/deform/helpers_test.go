package deform

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/stretchr/testify/require"
)

// tolerance is the accepted drift for a named check.
type tolerance struct {
	Abs float64
	Rel float64
}

var tolerances = map[string]tolerance{
	"image_grad":  {Abs: 1e-6, Rel: 1e-5},
	"offset_grad": {Abs: 1e-5, Rel: 1e-4},
	"mask_grad":   {Abs: 1e-6, Rel: 1e-5},
	"atomic_f32":  {Abs: 1e-4, Rel: 1e-4},
}

func within(tol tolerance, got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	scale := want
	if scale < 0 {
		scale = -scale
	}
	return diff <= tol.Abs+tol.Rel*scale
}

// problem is one fully populated set of engine inputs.
type problem[T tensor.Float] struct {
	g      Geometry
	image  []T
	offset []T
	mask   []T
	upGrad []T
}

func mustGeometry(t *testing.T, fp Footprint, c, h, w int) Geometry {
	t.Helper()
	g, err := fp.Geometry(c, h, w)
	require.NoError(t, err)
	return g
}

func randomSlice[T tensor.Float](rng *rand.Rand, n int, lo, hi float64) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(lo + (hi-lo)*rng.Float64())
	}
	return out
}

// randomOffsets returns offsets k + u with k in {-1, 0, 1} and u in [0.2, 0.8], so every
// sampling coordinate sits well away from lattice lines and finite differences never cross a
// kink of the bilinear surface.
func randomOffsets[T tensor.Float](rng *rand.Rand, n int) []T {
	out := make([]T, n)
	for i := range out {
		k := float64(rng.IntN(3) - 1)
		out[i] = T(k + 0.2 + 0.6*rng.Float64())
	}
	return out
}

func newProblem[T tensor.Float](t *testing.T, seed uint64, fp Footprint, c, h, w int) problem[T] {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	g := mustGeometry(t, fp, c, h, w)

	p := problem[T]{
		g:      g,
		image:  randomSlice[T](rng, g.ImageShape().NumElements(), -1, 1),
		offset: randomOffsets[T](rng, g.OffsetShape().NumElements()),
		upGrad: randomSlice[T](rng, g.ColumnShape().NumElements(), -1, 1),
	}
	if fp.Modulated {
		p.mask = randomSlice[T](rng, g.MaskShape().NumElements(), 0, 1)
	}
	return p
}

func seqExec() ExecContext {
	ec := DefaultExecContext()
	ec.Parallel = parallel.Sequential()
	return ec
}

func (p problem[T]) forward(ec ExecContext) []T {
	col := make([]T, p.g.ColumnShape().NumElements())
	Im2Col(ec, p.g, p.image, p.offset, p.mask, col)
	return col
}

// loss is Σ column·upGrad, the scalar whose gradients the backward passes compute.
func (p problem[T]) loss() float64 {
	col := p.forward(seqExec())
	var sum float64
	for i, v := range col {
		sum += float64(v) * float64(p.upGrad[i])
	}
	return sum
}

func (p problem[T]) backward(ec ExecContext) (imageGrad, offsetGrad, maskGrad []T) {
	imageGrad = make([]T, len(p.image))
	offsetGrad = make([]T, len(p.offset))
	if p.g.Modulated {
		maskGrad = make([]T, len(p.mask))
	}
	Col2Im(ec, p.g, p.upGrad, p.offset, p.mask, imageGrad)
	Col2ImCoord(ec, p.g, p.upGrad, p.image, p.offset, p.mask, offsetGrad, maskGrad)
	return imageGrad, offsetGrad, maskGrad
}

// unfold is the plain (non-deformable) im2col reference.
func unfold[T tensor.Float](g Geometry, image []T) []T {
	col := make([]T, g.ColumnShape().NumElements())
	for c := range g.Channels {
		for i := range g.KernelH {
			for j := range g.KernelW {
				row := c*g.Taps() + i*g.KernelW + j
				for ho := range g.HeightOut {
					for wo := range g.WidthOut {
						h := ho*g.StrideH + i*g.DilationH - g.PadH
						w := wo*g.StrideW + j*g.DilationW - g.PadW
						if h >= 0 && h < g.Height && w >= 0 && w < g.Width {
							col[(row*g.HeightOut+ho)*g.WidthOut+wo] = image[(c*g.Height+h)*g.Width+w]
						}
					}
				}
			}
		}
	}
	return col
}
