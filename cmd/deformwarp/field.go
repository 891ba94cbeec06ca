package main

import (
	"fmt"
	"math"
)

// fieldMode selects the analytic offset field.
type fieldMode int

const (
	modeSwirl fieldMode = iota
	modeWave
)

func parseMode(s string) (fieldMode, error) {
	switch s {
	case "swirl":
		return modeSwirl, nil
	case "wave":
		return modeWave, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want swirl or wave)", s)
	}
}

// offsetField returns a [2, height, width] field of (Δh, Δw) planes for a 1×1 footprint.
func offsetField(mode fieldMode, height, width int, strength float64) []float32 {
	field := make([]float32, 2*height*width)
	dh, dw := field[:height*width], field[height*width:]
	switch mode {
	case modeSwirl:
		swirl(dh, dw, height, width, strength)
	case modeWave:
		wave(dh, dw, height, width, strength)
	}
	return field
}

// swirl rotates every pixel around the image center by an angle that falls off
// quadratically to zero at the inscribed radius.
func swirl(dh, dw []float32, height, width int, strength float64) {
	cy, cx := float64(height-1)/2, float64(width-1)/2
	radius := math.Min(cy, cx)
	if radius <= 0 {
		return
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ry, rx := float64(y)-cy, float64(x)-cx
			d := math.Hypot(ry, rx)
			if d >= radius {
				continue
			}
			falloff := 1 - d/radius
			sin, cos := math.Sincos(strength * falloff * falloff)
			i := y*width + x
			dh[i] = float32(rx*sin + ry*cos - ry)
			dw[i] = float32(rx*cos - ry*sin - rx)
		}
	}
}

// wave displaces rows along a sine of the column and columns along a sine of the row, four
// periods across the image.
func wave(dh, dw []float32, height, width int, strength float64) {
	kx := 8 * math.Pi / float64(width)
	ky := 8 * math.Pi / float64(height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			dh[i] = float32(strength * math.Sin(kx*float64(x)))
			dw[i] = float32(strength * math.Sin(ky*float64(y)))
		}
	}
}
