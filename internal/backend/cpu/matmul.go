package cpu

import (
	"fmt"

	"github.com/born-ml/deform/internal/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// Gemm computes C = op(A)·op(B) + beta·C with row-major operands, where op(A) is M×K and
// op(B) is K×N. With transA set, A is stored K×M; with transB set, B is stored N×K.
func Gemm[T tensor.Float](transA, transB bool, m, n, k int, a, b []T, beta T, c []T) {
	if len(a) < m*k || len(b) < k*n || len(c) < m*n {
		panic(fmt.Sprintf("gemm: buffers too short for %dx%dx%d: a=%d b=%d c=%d", m, n, k, len(a), len(b), len(c)))
	}
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for i := range c[:m*n] {
			c[i] *= beta
		}
		return
	}

	aRows, aCols := m, k
	if transA {
		aRows, aCols = k, m
	}
	bRows, bCols := k, n
	if transB {
		bRows, bCols = n, k
	}

	switch cs := any(c).(type) {
	case []float32:
		blas32.Gemm(transpose(transA), transpose(transB), 1,
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: any(a).([]float32)},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: n, Data: cs})
	case []float64:
		blas64.Gemm(transpose(transA), transpose(transB), 1,
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: any(a).([]float64)},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			float64(beta),
			blas64.General{Rows: m, Cols: n, Stride: n, Data: cs})
	}
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}
