package main

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/born-ml/deform/deform"
	"github.com/born-ml/deform/tensor"
)

// warp resamples the RGB planes of img at the offsets of the given field. A 1×1 footprint with
// an identity weight turns the deformable layer into a pure bilinear warp. The returned Op can
// be differentiated by densityMap.
func warp(ctx context.Context, backend deform.Resampler, img image.Image, mode fieldMode, strength float64) (*image.NRGBA, *deform.Op, error) {
	planes, height, width := toPlanes(img)

	input, err := tensor.FromSlice(planes, tensor.Shape{1, 3, height, width})
	if err != nil {
		return nil, nil, err
	}
	offset, err := tensor.FromSlice(offsetField(mode, height, width, strength), tensor.Shape{1, 2, height, width})
	if err != nil {
		return nil, nil, err
	}

	layer, err := identityLayer(backend)
	if err != nil {
		return nil, nil, err
	}
	op, err := layer.Forward(ctx, deform.Inputs{Input: input, Offset: offset})
	if err != nil {
		return nil, nil, fmt.Errorf("warp: %w", err)
	}
	return fromPlanes(op.Output.AsFloat32(), height, width), op, nil
}

func identityLayer(backend deform.Resampler) (*deform.Layer, error) {
	cfg := deform.DefaultLayerConfig(3, 3, 1)
	cfg.Footprint.Modulated = false
	cfg.Bias = false

	weight, err := tensor.FromSlice([]float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}, tensor.Shape{3, 3})
	if err != nil {
		return nil, err
	}
	return deform.NewLayer(cfg, weight, nil, backend)
}

// densityMap differentiates the sum of the warped output with respect to the input. Each input
// pixel's gradient is the total bilinear weight it contributes, so stretched regions come out
// dark and compressed regions bright. The map is normalized to its maximum.
func densityMap(ctx context.Context, op *deform.Op) (*image.Gray, error) {
	ones, err := tensor.NewRaw(op.Output.Shape(), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	data := ones.AsFloat32()
	for i := range data {
		data[i] = 1
	}

	grads, err := op.Backward(ctx, ones)
	if err != nil {
		return nil, fmt.Errorf("density: %w", err)
	}

	shape := grads.Input.Shape()
	height, width := shape[2], shape[3]
	plane := grads.Input.AsFloat32()[:height*width] // every channel carries the same weights

	var peak float32
	for _, v := range plane {
		peak = max(peak, v)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	if peak == 0 {
		return img, nil
	}
	for i, v := range plane {
		img.SetGray(i%width, i/width, color.Gray{Y: toByte(v / peak)})
	}
	return img, nil
}
