package deform

import (
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Col2Im scatters the upstream column gradient back onto the image through the bilinear
// sampling weights, adding into imageGrad.
//
// Buffers (row-major):
//   - colGrad:   (C·KH·KW, HO, WO)
//   - offset:    (2·KH·KW·DG, H, W)
//   - mask:      (KH·KW·DG, H, W), nil unless g.Modulated
//   - imageGrad: (C, H, W), zeroed by the caller; only ever added to
func Col2Im[T tensor.Float](ec ExecContext, g Geometry, colGrad, offset, mask, imageGrad []T) {
	grad := tensor.NewVolume(imageGrad, g.Channels, g.Height, g.Width)

	switch ec.Accumulation {
	case AccumulateDeterministic:
		log.Logger().Debug("deform: col2im",
			"device", ec.Device, "stream", ec.Stream, "units", g.Channels, "accumulation", ec.Accumulation)

		cfg := ec.Parallel
		cfg.MinChunkSize = 1
		parallel.For(g.Channels, func(c int) {
			group := g.group(c)
			for t := range g.Taps() {
				tp := g.tapAt(t)
				for ho := range g.HeightOut {
					for wo := range g.WidthOut {
						top := colGrad[g.columnIndex(c, tp, ho, wo)] * maskAt(g, group, tp, ho, wo, mask)
						h, w := samplePoint(g, group, tp, ho, wo, offset)
						forEachCorner(h, w, g.Height, g.Width, func(ph, pw int, weight T) {
							grad.Data[grad.Index(c, ph, pw)] += weight * top
						})
					}
				}
			}
		}, cfg)

	default:
		units := g.scatterUnits()
		log.Logger().Debug("deform: col2im",
			"device", ec.Device, "stream", ec.Stream, "units", units, "accumulation", ec.Accumulation)

		parallel.For(units, func(idx int) {
			c, tp, ho, wo := g.scatterUnit(idx)
			group := g.group(c)
			top := colGrad[idx] * maskAt(g, group, tp, ho, wo, mask)
			h, w := samplePoint(g, group, tp, ho, wo, offset)
			forEachCorner(h, w, g.Height, g.Width, func(ph, pw int, weight T) {
				atomicAdd(&grad.Data[grad.Index(c, ph, pw)], weight*top)
			})
		}, ec.Parallel)
	}
}

// forEachCorner calls fn for every lattice point the bilinear sample at (h, w) reads:
// in bounds and strictly within one lattice unit on both axes.
func forEachCorner[T tensor.Float](h, w T, height, width int, fn func(ph, pw int, weight T)) {
	if !inRange(h, w, height, width) {
		return
	}
	hLow, wLow := floor(h), floor(w)
	for ph := hLow; ph <= hLow+1; ph++ {
		if ph < 0 || ph >= height || abs(h-T(ph)) >= 1 {
			continue
		}
		for pw := wLow; pw <= wLow+1; pw++ {
			if pw < 0 || pw >= width || abs(w-T(pw)) >= 1 {
				continue
			}
			fn(ph, pw, gradientWeight(h, w, ph, pw, height, width))
		}
	}
}

func abs[T tensor.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}
