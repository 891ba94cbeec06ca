package cpu

import (
	"fmt"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// Conv2D performs a rigid 2D convolution using the im2col algorithm.
// Offsets and modulation in fp are ignored; it is the zero-offset special case of the
// deformable operator.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Algorithm: Im2col
//  1. Transform each input image into a [C_in·K_h·K_w, H_out·W_out] column matrix
//  2. View the kernel as a [C_out, C_in·K_h·K_w] matrix
//  3. Multiply with BLAS GEMM into the [C_out, H_out·W_out] output plane
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, fp deform.Footprint) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if err := fp.Validate(); err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}

	N, CIn, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	COut, CInK, KH, KW := kernelShape[0], kernelShape[1], kernelShape[2], kernelShape[3]

	if CIn != CInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", CIn, CInK))
	}
	if KH != fp.KernelH || KW != fp.KernelW {
		panic(fmt.Sprintf("conv2d: kernel %dx%d does not match footprint %dx%d", KH, KW, fp.KernelH, fp.KernelW))
	}
	if input.DType() != kernel.DType() {
		panic(fmt.Sprintf("conv2d: dtype mismatch %s vs %s", input.DType(), kernel.DType()))
	}

	HOut, WOut := fp.OutputSize(H, W)
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut))
	}

	output, err := tensor.NewRaw(tensor.Shape{N, COut, HOut, WOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	switch input.DType() {
	case tensor.Float32:
		conv2d(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), fp, N, CIn, H, W, COut, HOut, WOut)
	case tensor.Float64:
		conv2d(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), fp, N, CIn, H, W, COut, HOut, WOut)
	default:
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	return output
}

func conv2d[T tensor.Float](out, in, kernel []T, fp deform.Footprint, N, C, H, W, COut, HOut, WOut int) {
	rows := C * fp.Taps()
	cols := HOut * WOut
	colBuf := make([]T, rows*cols)

	for n := 0; n < N; n++ {
		im2col(colBuf, in[n*C*H*W:(n+1)*C*H*W], fp, C, H, W, HOut, WOut)
		Gemm(false, false, COut, cols, rows, kernel, colBuf, 0, out[n*COut*cols:(n+1)*COut*cols])
	}
}

// im2col fills colBuf [C·K_h·K_w, H_out·W_out] from one [C, H, W] image.
// Positions that fall into the padding read zero.
func im2col[T tensor.Float](colBuf, in []T, fp deform.Footprint, C, H, W, HOut, WOut int) {
	idx := 0
	for c := 0; c < C; c++ {
		for kh := 0; kh < fp.KernelH; kh++ {
			for kw := 0; kw < fp.KernelW; kw++ {
				for outH := 0; outH < HOut; outH++ {
					h := outH*fp.StrideH + kh*fp.DilationH - fp.PadH
					for outW := 0; outW < WOut; outW++ {
						w := outW*fp.StrideW + kw*fp.DilationW - fp.PadW
						if h >= 0 && h < H && w >= 0 && w < W {
							colBuf[idx] = in[(c*H+h)*W+w]
						} else {
							colBuf[idx] = 0
						}
						idx++
					}
				}
			}
		}
	}
}
