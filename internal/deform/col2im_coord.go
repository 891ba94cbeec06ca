package deform

import (
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// outside is the sentinel coordinate for samples that fall off the image; every
// gradient-weight primitive returns zero for it.
const outside = -2

// Col2ImCoord computes the gradient of the sampled values with respect to the sampling
// coordinates, and with respect to the mask when modulated, adding into offsetGrad and
// maskGrad.
//
// Buffers (row-major):
//   - colGrad:    (C·KH·KW, HO, WO)
//   - image:      (C, H, W)
//   - offset:     (2·KH·KW·DG, H, W)
//   - mask:       (KH·KW·DG, H, W), nil unless g.Modulated
//   - offsetGrad: (2·KH·KW·DG, H, W), zeroed by the caller
//   - maskGrad:   (KH·KW·DG, H, W), zeroed by the caller, nil unless g.Modulated
//
// One unit per (offset channel, ho, wo). Each unit owns the offset gradient cell it writes, and
// the height unit of every pair owns the matching mask gradient cell, so no atomics are needed.
func Col2ImCoord[T tensor.Float](ec ExecContext, g Geometry, colGrad, image, offset, mask, offsetGrad, maskGrad []T) {
	im := tensor.NewVolume(image, g.Channels, g.Height, g.Width)
	units := g.coordUnits()
	perGroup := g.ChannelsPerGroup()

	log.Logger().Debug("deform: col2im coord",
		"device", ec.Device, "stream", ec.Stream, "units", units, "modulated", g.Modulated)

	parallel.For(units, func(idx int) {
		group, tp, dir, ho, wo := g.coordUnit(idx)
		m := maskAt(g, group, tp, ho, wo, mask)

		h, w := samplePoint(g, group, tp, ho, wo, offset)
		valid := inRange(h, w, g.Height, g.Width)
		if !valid {
			h, w = outside, outside
		}

		var offsetSum, maskSum T
		for cnt := range perGroup {
			c := group*perGroup + cnt
			plane := im.Plane(c)
			top := colGrad[g.columnIndex(c, tp, ho, wo)]
			offsetSum += coordinateWeight(plane, h, w, dir) * m * top

			if g.Modulated && dir == DirHeight && valid {
				maskSum += top * bilinear(plane, h, w)
			}
		}

		offsetGrad[g.offsetIndex(group, tp, dir, ho, wo)] += offsetSum
		if g.Modulated && dir == DirHeight {
			maskGrad[g.maskIndex(group, tp, ho, wo)] += maskSum
		}
	}, ec.Parallel)
}
