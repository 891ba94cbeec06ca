package main

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// loadImage decodes path and rescales it by scale with a Catmull-Rom filter.
func loadImage(path string, scale float64) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if scale == 1 {
		return img, nil
	}

	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

// toPlanes converts img to [3, height, width] RGB planes in [0, 1].
func toPlanes(img image.Image) (planes []float32, height, width int) {
	b := img.Bounds()
	height, width = b.Dy(), b.Dx()
	planes = make([]float32, 3*height*width)
	n := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := y*width + x
			planes[i] = float32(c.R) / 0xffff
			planes[n+i] = float32(c.G) / 0xffff
			planes[2*n+i] = float32(c.B) / 0xffff
		}
	}
	return planes, height, width
}

// fromPlanes converts [3, height, width] planes back to an opaque image, clamping to [0, 1].
func fromPlanes(planes []float32, height, width int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	n := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: toByte(planes[i]),
				G: toByte(planes[n+i]),
				B: toByte(planes[2*n+i]),
				A: 0xff,
			})
		}
	}
	return img
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 0xff))
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
