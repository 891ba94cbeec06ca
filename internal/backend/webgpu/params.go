package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/born-ml/deform/internal/deform"
	"github.com/born-ml/deform/internal/tensor"
)

// paramsSize is the byte size of the Params uniform: sixteen u32 fields.
const paramsSize = 64

// maxWorkgroupsPerDim is the WebGPU limit on workgroups along one dispatch axis.
const maxWorkgroupsPerDim = 65535

// encodeParams packs g and the unit count into the Params uniform layout.
func encodeParams(g deform.Geometry, units int) []byte {
	modulated := 0
	if g.Modulated {
		modulated = 1
	}
	fields := [16]int{
		g.Channels, g.Height, g.Width,
		g.KernelH, g.KernelW,
		g.PadH, g.PadW,
		g.StrideH, g.StrideW,
		g.DilationH, g.DilationW,
		g.DeformableGroups,
		g.HeightOut, g.WidthOut,
		modulated, units,
	}

	buf := make([]byte, paramsSize)
	for i, v := range fields {
		//nolint:gosec // G115: geometry fields are validated non-negative
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// dispatchSize returns the workgroup grid covering units invocations. Grids wider than the
// per-axis limit wrap into the y axis; shaders rebuild the flat index from num_workgroups.
func dispatchSize(units int) (x, y uint32) {
	groups := (units + workgroupSize - 1) / workgroupSize
	if groups <= maxWorkgroupsPerDim {
		//nolint:gosec // G115: bounded by maxWorkgroupsPerDim
		return uint32(max(groups, 1)), 1
	}
	rows := (groups + maxWorkgroupsPerDim - 1) / maxWorkgroupsPerDim
	//nolint:gosec // G115: bounded by maxWorkgroupsPerDim
	return maxWorkgroupsPerDim, uint32(rows)
}

// Unit counts of the three kernels.
func im2colUnits(g deform.Geometry) int { return g.Channels * g.HeightOut * g.WidthOut }
func col2imUnits(g deform.Geometry) int { return g.Channels * g.Taps() * g.HeightOut * g.WidthOut }
func coordUnits(g deform.Geometry) int {
	return 2 * g.Taps() * g.DeformableGroups * g.HeightOut * g.WidthOut
}

// checkTensor validates one kernel operand. The GPU kernels are float32 only.
func checkTensor(op, name string, t *tensor.RawTensor, want tensor.Shape) {
	if t == nil {
		panic(fmt.Sprintf("%s: %s is nil", op, name))
	}
	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 is supported, %s is %s", op, name, t.DType()))
	}
	if !t.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: %s shape %v, want %v", op, name, t.Shape(), want))
	}
}

// checkMask validates the optional mask against the geometry.
func checkMask(op string, g deform.Geometry, mask *tensor.RawTensor) {
	switch {
	case g.Modulated && mask == nil:
		panic(fmt.Sprintf("%s: modulated geometry requires a mask", op))
	case !g.Modulated && mask != nil:
		panic(fmt.Sprintf("%s: mask given for an unmodulated geometry", op))
	case mask != nil:
		checkTensor(op, "mask", mask, g.MaskShape())
	}
}
