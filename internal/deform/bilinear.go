package deform

import (
	"math"

	"github.com/born-ml/deform/internal/tensor"
)

// inRange reports whether (h, w) lies in the open sampling range (-1, H) × (-1, W),
// the only region where a bilinear sample can touch a lattice point.
func inRange[T tensor.Float](h, w T, height, width int) bool {
	return h > -1 && w > -1 && h < T(height) && w < T(width)
}

func floor[T tensor.Float](x T) int {
	return int(math.Floor(float64(x)))
}

// bilinear samples p at (h, w). Corners outside the plane contribute zero.
func bilinear[T tensor.Float](p tensor.Plane[T], h, w T) T {
	hLow, wLow := floor(h), floor(w)

	lh := h - T(hLow)
	lw := w - T(wLow)
	hh, hw := 1-lh, 1-lw

	v1, v2, v3, v4 := corners(p, hLow, wLow)

	return hh*hw*v1 + hh*lw*v2 + lh*hw*v3 + lh*lw*v4
}

// corners returns the four lattice values around (hLow, wLow), with zero for any corner
// off the plane.
func corners[T tensor.Float](p tensor.Plane[T], hLow, wLow int) (v1, v2, v3, v4 T) {
	at := func(h, w int) T {
		if !p.Contains(h, w) {
			return 0
		}
		return p.At(h, w)
	}
	return at(hLow, wLow), at(hLow, wLow+1), at(hLow+1, wLow), at(hLow+1, wLow+1)
}

// gradientWeight returns the weight lattice point (ph, pw) carries in the bilinear sample
// at (h, w): d sample / d pixel(ph, pw).
func gradientWeight[T tensor.Float](h, w T, ph, pw, height, width int) T {
	if !inRange(h, w, height, width) {
		return 0
	}

	hLow, wLow := floor(h), floor(w)
	hHigh, wHigh := hLow+1, wLow+1
	fh, fw := T(ph), T(pw)

	switch {
	case ph == hLow && pw == wLow:
		return (fh + 1 - h) * (fw + 1 - w)
	case ph == hLow && pw == wHigh:
		return (fh + 1 - h) * (w + 1 - fw)
	case ph == hHigh && pw == wLow:
		return (h + 1 - fh) * (fw + 1 - w)
	case ph == hHigh && pw == wHigh:
		return (h + 1 - fh) * (w + 1 - fw)
	}
	return 0
}

// coordinateWeight returns d sample / dh (DirHeight) or d sample / dw (DirWidth) of the
// bilinear sample of p at (h, w).
func coordinateWeight[T tensor.Float](p tensor.Plane[T], h, w T, dir Direction) T {
	if !inRange(h, w, p.Height, p.Width) {
		return 0
	}

	hLow, wLow := floor(h), floor(w)
	v1, v2, v3, v4 := corners(p, hLow, wLow)

	if dir == DirHeight {
		a := T(wLow) + 1 - w
		b := w - T(wLow)
		return -a*v1 - b*v2 + a*v3 + b*v4
	}
	a := T(hLow) + 1 - h
	b := h - T(hLow)
	return -a*v1 + a*v2 - b*v3 + b*v4
}
