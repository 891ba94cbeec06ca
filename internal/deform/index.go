package deform

import "github.com/born-ml/deform/internal/tensor"

// Direction selects the coordinate axis of an offset channel.
type Direction int

// Offset channels come in (Δh, Δw) pairs: even channels are height, odd are width.
const (
	DirHeight Direction = iota
	DirWidth
)

// tap is one kernel position.
type tap struct {
	i, j int
}

func (g Geometry) tapAt(t int) tap {
	return tap{i: t / g.KernelW, j: t % g.KernelW}
}

func (t tap) index(kw int) int {
	return t.i*kw + t.j
}

// forwardUnit decomposes a forward work index in [0, C·HO·WO) into (channel, ho, wo).
func (g Geometry) forwardUnit(idx int) (c, ho, wo int) {
	wo = idx % g.WidthOut
	ho = (idx / g.WidthOut) % g.HeightOut
	c = idx / g.WidthOut / g.HeightOut
	return c, ho, wo
}

// scatterUnit decomposes an image-gradient work index in [0, C·KH·KW·HO·WO) into
// (channel, tap, ho, wo). The index is also the flat column-buffer index.
func (g Geometry) scatterUnit(idx int) (c int, t tap, ho, wo int) {
	wo = idx % g.WidthOut
	ho = (idx / g.WidthOut) % g.HeightOut
	t.j = (idx / g.WidthOut / g.HeightOut) % g.KernelW
	t.i = (idx / g.WidthOut / g.HeightOut / g.KernelW) % g.KernelH
	c = idx / g.WidthOut / g.HeightOut / g.KernelW / g.KernelH
	return c, t, ho, wo
}

// coordUnit decomposes an offset/mask-gradient work index in [0, 2·KH·KW·DG·HO·WO) into
// (group, tap, direction, ho, wo).
func (g Geometry) coordUnit(idx int) (group int, t tap, dir Direction, ho, wo int) {
	wo = idx % g.WidthOut
	ho = (idx / g.WidthOut) % g.HeightOut
	c := idx / g.WidthOut / g.HeightOut
	per := 2 * g.Taps()
	group = c / per
	oc := c % per
	return group, g.tapAt(oc / 2), Direction(oc % 2), ho, wo
}

// forwardUnits, scatterUnits and coordUnits size the flat index spaces.
func (g Geometry) forwardUnits() int { return g.Channels * g.HeightOut * g.WidthOut }
func (g Geometry) scatterUnits() int { return g.Channels * g.Taps() * g.HeightOut * g.WidthOut }
func (g Geometry) coordUnits() int {
	return 2 * g.Taps() * g.DeformableGroups * g.HeightOut * g.WidthOut
}

// group returns the deformable group of image channel c.
func (g Geometry) group(c int) int {
	return c / g.ChannelsPerGroup()
}

// gridPos maps an output location onto the input grid the offsets and masks are laid out on.
func (g Geometry) gridPos(ho, wo int) (int, int) {
	return ho * g.StrideH, wo * g.StrideW
}

// columnRow returns the column-buffer row for channel c and tap t.
func (g Geometry) columnRow(c int, t tap) int {
	return c*g.Taps() + t.index(g.KernelW)
}

// columnIndex returns the flat column-buffer index of (c, t, ho, wo).
func (g Geometry) columnIndex(c int, t tap, ho, wo int) int {
	return (g.columnRow(c, t)*g.HeightOut+ho)*g.WidthOut + wo
}

// offsetIndex returns the flat offset-field index of the Δh (DirHeight) or Δw (DirWidth)
// entry for group, tap and output location.
func (g Geometry) offsetIndex(group int, t tap, dir Direction, ho, wo int) int {
	h, w := g.gridPos(ho, wo)
	ch := group*2*g.Taps() + 2*t.index(g.KernelW) + int(dir)
	return (ch*g.Height+h)*g.Width + w
}

// maskIndex returns the flat mask index for group, tap and output location.
func (g Geometry) maskIndex(group int, t tap, ho, wo int) int {
	h, w := g.gridPos(ho, wo)
	ch := group*g.Taps() + t.index(g.KernelW)
	return (ch*g.Height+h)*g.Width + w
}

// samplePoint returns the continuous input coordinate tap t of the given group reads for
// output (ho, wo): base + tap·dilation − padding + learned offset.
func samplePoint[T tensor.Float](g Geometry, group int, t tap, ho, wo int, offset []T) (h, w T) {
	hIn, wIn := g.gridPos(ho, wo)
	dh := offset[g.offsetIndex(group, t, DirHeight, ho, wo)]
	dw := offset[g.offsetIndex(group, t, DirWidth, ho, wo)]
	h = T(hIn+t.i*g.DilationH-g.PadH) + dh
	w = T(wIn+t.j*g.DilationW-g.PadW) + dw
	return h, w
}

// maskAt returns the modulation weight for group, tap and output location, or 1 when the
// footprint is not modulated.
func maskAt[T tensor.Float](g Geometry, group int, t tap, ho, wo int, mask []T) T {
	if !g.Modulated {
		return 1
	}
	return mask[g.maskIndex(group, t, ho, wo)]
}
