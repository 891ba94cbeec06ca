package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/deform/backend/cpu"
	"github.com/born-ml/deform/deform"
	"github.com/born-ml/deform/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := parseMode("swirl")
	require.NoError(t, err)
	assert.Equal(t, modeSwirl, m)

	m, err = parseMode("wave")
	require.NoError(t, err)
	assert.Equal(t, modeWave, m)

	_, err = parseMode("ripple")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestParseFlagsRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", nil, "-in is required"},
		{"bad scale", []string{"-in", "a.png", "-scale", "0"}, "-scale"},
		{"bad workers", []string{"-in", "a.png", "-workers", "-1"}, "-workers"},
		{"bad mode", []string{"-in", "a.png", "-mode", "ripple"}, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, &bytes.Buffer{})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSwirlFixesCenterAndOutside(t *testing.T) {
	const h, w = 9, 9
	field := offsetField(modeSwirl, h, w, 2)
	dh, dw := field[:h*w], field[h*w:]

	center := 4*w + 4
	assert.Zero(t, dh[center])
	assert.Zero(t, dw[center])
	assert.Zero(t, dh[0])
	assert.Zero(t, dw[0])
}

func TestSwirlPreservesRadius(t *testing.T) {
	const h, w = 21, 21
	field := offsetField(modeSwirl, h, w, 1.5)
	dh, dw := field[:h*w], field[h*w:]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			ry, rx := float64(y)-10, float64(x)-10
			sy, sx := ry+float64(dh[i]), rx+float64(dw[i])
			assert.InDelta(t, math.Hypot(ry, rx), math.Hypot(sy, sx), 1e-4, "pixel (%d, %d)", y, x)
		}
	}
}

func TestWaveField(t *testing.T) {
	const h, w = 8, 16
	field := offsetField(modeWave, h, w, 3)
	dh, dw := field[:h*w], field[h*w:]

	// Quarter period along x is w/16 = 1 pixel.
	assert.InDelta(t, 3, dh[1], 1e-6)
	assert.InDelta(t, 0, dh[0], 1e-6)
	// Quarter period along y is h/16 = 0.5 pixel, so row 1 sits half a period in.
	assert.InDelta(t, 0, dw[1*w], 1e-5)
	assert.InDelta(t, 0, dw[0], 1e-6)
}

func TestPlanesRoundTrip(t *testing.T) {
	img := testImage(5, 4)
	planes, h, w := toPlanes(img)
	require.Equal(t, 4, h)
	require.Equal(t, 5, w)
	assert.Equal(t, img.Pix, fromPlanes(planes, h, w).Pix)
}

func TestToByteClamps(t *testing.T) {
	assert.Equal(t, uint8(0), toByte(-0.5))
	assert.Equal(t, uint8(255), toByte(1.5))
	assert.Equal(t, uint8(128), toByte(0.5))
}

func TestRunZeroStrengthReproducesInput(t *testing.T) {
	for _, args := range [][]string{
		{"-mode", "wave", "-strength", "0", "-workers", "2"},
		{"-mode", "swirl", "-strength", "0", "-deterministic"},
		{"-mode", "wave", "-strength", "0", "-gpu"},
	} {
		dir := t.TempDir()
		in, out := filepath.Join(dir, "in.png"), filepath.Join(dir, "out.png")
		img := testImage(7, 6)
		writePNG(t, in, img)

		var stderr bytes.Buffer
		err := run(context.Background(), append([]string{"-in", in, "-out", out}, args...), &stderr)
		require.NoError(t, err, stderr.String())

		got := readPNG(t, out)
		assert.Equal(t, img.Bounds(), got.Bounds())
		for y := 0; y < 6; y++ {
			for x := 0; x < 7; x++ {
				assert.Equal(t, img.NRGBAAt(x, y), color.NRGBAModel.Convert(got.At(x, y)), "args %v pixel (%d, %d)", args, x, y)
			}
		}
	}
}

func TestRunScales(t *testing.T) {
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in.png"), filepath.Join(dir, "out.png")
	writePNG(t, in, testImage(8, 6))

	err := run(context.Background(), []string{"-in", in, "-out", out, "-scale", "0.5", "-mode", "swirl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), readPNG(t, out).Bounds())
}

func TestRunDensityIdentity(t *testing.T) {
	dir := t.TempDir()
	in, density := filepath.Join(dir, "in.png"), filepath.Join(dir, "density.png")
	writePNG(t, in, testImage(5, 4))

	args := []string{"-in", in, "-out", filepath.Join(dir, "out.png"), "-density", density, "-strength", "0"}
	require.NoError(t, run(context.Background(), args, &bytes.Buffer{}))

	got := readPNG(t, density)
	assert.Equal(t, image.Rect(0, 0, 5, 4), got.Bounds())
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, color.Gray{Y: 255}, color.GrayModel.Convert(got.At(x, y)), "pixel (%d, %d)", x, y)
		}
	}
}

func TestRunDeterministicDensityIsReproducible(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writePNG(t, in, testImage(16, 12))

	var maps [][]byte
	for i, workers := range []string{"1", "4"} {
		density := filepath.Join(dir, fmt.Sprintf("density%d.png", i))
		args := []string{"-in", in, "-out", filepath.Join(dir, "out.png"), "-density", density,
			"-mode", "swirl", "-strength", "3", "-deterministic", "-workers", workers}
		require.NoError(t, run(context.Background(), args, &bytes.Buffer{}))

		data, err := os.ReadFile(density)
		require.NoError(t, err)
		maps = append(maps, data)
	}
	assert.Equal(t, maps[0], maps[1])
}

func TestDensityMapTracksShift(t *testing.T) {
	// Every output reads one column to the right, so nothing reads the first column.
	const h, w = 3, 4
	layer, err := identityLayer(cpu.New())
	require.NoError(t, err)

	input, err := tensor.Zeros[float32](tensor.Shape{1, 3, h, w})
	require.NoError(t, err)
	offset, err := tensor.Zeros[float32](tensor.Shape{1, 2, h, w})
	require.NoError(t, err)
	dw := offset.AsFloat32()[h*w:]
	for i := range dw {
		dw[i] = 1
	}

	op, err := layer.Forward(context.Background(), deform.Inputs{Input: input, Offset: offset})
	require.NoError(t, err)
	density, err := densityMap(context.Background(), op)
	require.NoError(t, err)

	for y := 0; y < h; y++ {
		assert.Equal(t, uint8(0), density.GrayAt(0, y).Y, "row %d", y)
		for x := 1; x < w; x++ {
			assert.Equal(t, uint8(255), density.GrayAt(x, y).Y, "pixel (%d, %d)", x, y)
		}
	}
}

func TestRunMissingFile(t *testing.T) {
	err := run(context.Background(), []string{"-in", filepath.Join(t.TempDir(), "none.png")}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunVersion(t *testing.T) {
	var stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stderr))
	assert.Contains(t, stderr.String(), version)
}

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 40), B: uint8((x + y) * 10), A: 0xff})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}
