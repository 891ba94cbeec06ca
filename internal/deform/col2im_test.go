package deform

import (
	"testing"

	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accumulationModes() []Accumulation {
	return []Accumulation{AccumulateAtomic, AccumulateDeterministic}
}

func TestCol2ImOverlapAccumulates(t *testing.T) {
	// Output (0, 0) is pushed one column right onto pixel (0, 1), which output (0, 1) also reads.
	g := mustGeometry(t, NewFootprint(1, 1), 1, 1, 2)
	offset := make([]float64, g.OffsetShape().NumElements())
	offset[g.offsetIndex(0, tap{}, DirWidth, 0, 0)] = 1
	colGrad := []float64{2, 3}

	for _, mode := range accumulationModes() {
		t.Run(mode.String(), func(t *testing.T) {
			ec := seqExec()
			ec.Accumulation = mode

			imageGrad := make([]float64, 2)
			Col2Im(ec, g, colGrad, offset, nil, imageGrad)
			assert.Equal(t, []float64{0, 5}, imageGrad)
		})
	}
}

func TestCol2ImAddsIntoExistingGradient(t *testing.T) {
	p := newProblem[float64](t, 5, footprintCases()["same 3x3"], 2, 6, 6)

	fresh, _, _ := p.backward(seqExec())

	for _, mode := range accumulationModes() {
		t.Run(mode.String(), func(t *testing.T) {
			ec := seqExec()
			ec.Accumulation = mode

			imageGrad := make([]float64, len(p.image))
			for i := range imageGrad {
				imageGrad[i] = 1
			}
			Col2Im(ec, p.g, p.upGrad, p.offset, p.mask, imageGrad)
			for i := range imageGrad {
				require.InDelta(t, 1+fresh[i], imageGrad[i], 1e-12, "pixel %d", i)
			}
		})
	}
}

func TestCol2ImModulatedScalesByMask(t *testing.T) {
	fp := NewFootprint(1, 1)
	fp.Modulated = true
	g := mustGeometry(t, fp, 1, 1, 2)
	offset := make([]float64, g.OffsetShape().NumElements())
	mask := []float64{0.5, 0.25}
	colGrad := []float64{2, 4}

	imageGrad := make([]float64, 2)
	Col2Im(seqExec(), g, colGrad, offset, mask, imageGrad)
	assert.Equal(t, []float64{1, 1}, imageGrad)
}

func TestCol2ImAtomicMatchesDeterministic(t *testing.T) {
	fp := footprintCases()["dilated"]
	fp.Modulated = true
	p := newProblem[float32](t, 21, fp, 8, 11, 11)

	det := seqExec()
	det.Accumulation = AccumulateDeterministic
	want, _, _ := p.backward(det)

	ec := DefaultExecContext()
	ec.Parallel = parallel.Config{Enabled: true, NumWorkers: 16, MinChunkSize: 1}
	ec.Accumulation = AccumulateAtomic
	got, _, _ := p.backward(ec)

	tol := tolerances["atomic_f32"]
	for i := range want {
		require.True(t, within(tol, float64(got[i]), float64(want[i])),
			"pixel %d: got %v want %v", i, got[i], want[i])
	}
}

func TestCol2ImDeterministicIsReproducible(t *testing.T) {
	p := newProblem[float32](t, 77, footprintCases()["rect"], 4, 9, 9)

	ec := DefaultExecContext()
	ec.Parallel = parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1}
	ec.Accumulation = AccumulateDeterministic

	first, _, _ := p.backward(ec)
	for range 5 {
		again, _, _ := p.backward(ec)
		require.Equal(t, first, again)
	}
}

// scanCol2Im scatters with a 5×5 candidate window around each sample, keeping the lattice
// points strictly within one unit. It visits units in the same order as the deterministic path.
func scanCol2Im[T tensor.Float](g Geometry, colGrad, offset, mask, imageGrad []T) {
	for c := range g.Channels {
		group := g.group(c)
		for t := range g.Taps() {
			tp := g.tapAt(t)
			for ho := range g.HeightOut {
				for wo := range g.WidthOut {
					top := colGrad[g.columnIndex(c, tp, ho, wo)] * maskAt(g, group, tp, ho, wo, mask)
					h, w := samplePoint(g, group, tp, ho, wo, offset)
					hc, wc := int(h), int(w)
					for dy := -2; dy <= 2; dy++ {
						for dx := -2; dx <= 2; dx++ {
							ph, pw := hc+dy, wc+dx
							if ph < 0 || ph >= g.Height || pw < 0 || pw >= g.Width {
								continue
							}
							if abs(h-T(ph)) >= 1 || abs(w-T(pw)) >= 1 {
								continue
							}
							weight := gradientWeight(h, w, ph, pw, g.Height, g.Width)
							imageGrad[(c*g.Height+ph)*g.Width+pw] += weight * top
						}
					}
				}
			}
		}
	}
}

func TestCol2ImMatchesWindowScan(t *testing.T) {
	for name, fp := range footprintCases() {
		t.Run(name, func(t *testing.T) {
			fp.Modulated = true
			p := newProblem[float64](t, 13, fp, 4, 7, 7)

			want := make([]float64, len(p.image))
			scanCol2Im(p.g, p.upGrad, p.offset, p.mask, want)

			ec := seqExec()
			ec.Accumulation = AccumulateDeterministic
			got := make([]float64, len(p.image))
			Col2Im(ec, p.g, p.upGrad, p.offset, p.mask, got)

			assert.Equal(t, want, got)
		})
	}
}

func TestForEachCornerSkipsLatticeLines(t *testing.T) {
	var visited [][2]int
	forEachCorner(1.0, 2.0, 4, 4, func(ph, pw int, weight float64) {
		visited = append(visited, [2]int{ph, pw})
		assert.Equal(t, 1.0, weight)
	})
	assert.Equal(t, [][2]int{{1, 2}}, visited)

	visited = nil
	forEachCorner(-0.5, 3.5, 4, 4, func(ph, pw int, _ float64) {
		visited = append(visited, [2]int{ph, pw})
	})
	assert.Equal(t, [][2]int{{0, 3}}, visited)

	forEachCorner(4.0, 0.0, 4, 4, func(int, int, float64) {
		t.Fatal("sample outside the range must not scatter")
	})
}

func TestAtomicAdd(t *testing.T) {
	var f32 float32
	var f64 float64
	parallel.For(1000, func(int) {
		atomicAdd(&f32, 0.5)
		atomicAdd(&f64, 0.25)
	}, parallel.Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1})

	assert.Equal(t, float32(500), f32)
	assert.Equal(t, 250.0, f64)
}
