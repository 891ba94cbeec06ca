package deform

import (
	"github.com/born-ml/deform/internal/log"
	"github.com/born-ml/deform/internal/parallel"
	"github.com/born-ml/deform/internal/tensor"
)

// Im2Col expands image into the column buffer by bilinearly sampling every kernel tap at its
// offset-perturbed location.
//
// Buffers (row-major):
//   - image:  (C, H, W)
//   - offset: (2·KH·KW·DG, H, W)
//   - mask:   (KH·KW·DG, H, W), nil unless g.Modulated
//   - column: (C·KH·KW, HO, WO), fully overwritten
//
// One unit per (channel, ho, wo); every column cell has exactly one writer.
func Im2Col[T tensor.Float](ec ExecContext, g Geometry, image, offset, mask, column []T) {
	im := tensor.NewVolume(image, g.Channels, g.Height, g.Width)
	units := g.forwardUnits()

	log.Logger().Debug("deform: im2col",
		"device", ec.Device, "stream", ec.Stream, "units", units, "modulated", g.Modulated)

	parallel.For(units, func(idx int) {
		c, ho, wo := g.forwardUnit(idx)
		group := g.group(c)
		plane := im.Plane(c)

		for t := range g.Taps() {
			tp := g.tapAt(t)
			h, w := samplePoint(g, group, tp, ho, wo, offset)

			var val T
			if inRange(h, w, g.Height, g.Width) {
				val = bilinear(plane, h, w)
			}
			column[g.columnIndex(c, tp, ho, wo)] = val * maskAt(g, group, tp, ho, wo, mask)
		}
	}, ec.Parallel)
}
