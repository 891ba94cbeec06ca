// Package main provides deformwarp, a CLI that warps an image through the deformable
// resampler using an analytic offset field.
//
// Usage:
//
//	deformwarp -in photo.jpg -out swirl.png -mode swirl -strength 3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/born-ml/deform/backend/cpu"
	"github.com/born-ml/deform/backend/webgpu"
	"github.com/born-ml/deform/deform"
)

const version = "v0.1.0"

// options holds the parsed command line.
type options struct {
	in, out       string
	density       string
	mode          string
	strength      float64
	scale         float64
	workers       int
	deterministic bool
	gpu           bool
	verbose       bool
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "deformwarp: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("deformwarp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.in, "in", "", "input image (png, jpeg, gif, bmp, tiff, webp)")
	fs.StringVar(&opts.out, "out", "warped.png", "output PNG")
	fs.StringVar(&opts.density, "density", "", "optional PNG of how much each input pixel feeds the output")
	fs.StringVar(&opts.mode, "mode", "swirl", "offset field: swirl or wave")
	fs.Float64Var(&opts.strength, "strength", 2, "field strength (radians for swirl, pixels for wave)")
	fs.Float64Var(&opts.scale, "scale", 1, "rescale the input before warping")
	fs.IntVar(&opts.workers, "workers", 0, "CPU workers (0 = all cores)")
	fs.BoolVar(&opts.deterministic, "deterministic", false, "accumulate the density map in a fixed order (bitwise reproducible)")
	fs.BoolVar(&opts.gpu, "gpu", false, "use the WebGPU backend when available")
	fs.BoolVar(&opts.verbose, "v", false, "verbose logging")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *showVersion {
		fmt.Fprintf(stderr, "deformwarp %s\n", version)
		return opts, errVersion
	}
	if opts.in == "" {
		return opts, errors.New("-in is required")
	}
	if opts.scale <= 0 {
		return opts, fmt.Errorf("-scale must be positive, got %g", opts.scale)
	}
	if opts.workers < 0 {
		return opts, fmt.Errorf("-workers must not be negative, got %d", opts.workers)
	}
	if _, err := parseMode(opts.mode); err != nil {
		return opts, err
	}
	return opts, nil
}

var errVersion = errors.New("version requested")

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, errVersion) || errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger := newLogger(stderr, opts.verbose)
	deform.SetLogger(logger)
	defer deform.SetLogger(nil)

	img, err := loadImage(opts.in, opts.scale)
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	logger.Info("loaded image", "path", opts.in, "width", bounds.Dx(), "height", bounds.Dy())

	backend, release := selectBackend(opts, logger)
	defer release()

	mode, _ := parseMode(opts.mode)
	warped, op, err := warp(ctx, backend, img, mode, opts.strength)
	if err != nil {
		return err
	}
	if err := savePNG(opts.out, warped); err != nil {
		return err
	}
	logger.Info("wrote image", "path", opts.out, "backend", backend.Name())

	if opts.density == "" {
		return nil
	}
	density, err := densityMap(ctx, op)
	if err != nil {
		return err
	}
	if err := savePNG(opts.density, density); err != nil {
		return err
	}
	logger.Info("wrote density map", "path", opts.density, "deterministic", opts.deterministic)
	return nil
}

// selectBackend returns the WebGPU backend when requested and usable, the CPU backend otherwise.
func selectBackend(opts options, logger *slog.Logger) (deform.Resampler, func()) {
	if opts.gpu {
		gpu, err := webgpu.New()
		if err == nil {
			return gpu, gpu.Release
		}
		logger.Warn("falling back to CPU", "error", err)
	}

	ec := deform.DefaultExecContext()
	if opts.workers > 0 {
		ec.Parallel.NumWorkers = opts.workers
		ec.Parallel.Enabled = opts.workers > 1
	}
	if opts.deterministic {
		ec.Accumulation = deform.AccumulateDeterministic
	}
	return cpu.NewWithExec(ec), func() {}
}
