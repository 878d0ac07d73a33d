package landmask

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// An OverviewBuilder (re)generates the overview levels of a raster file.
// Existing overviews are discarded first, so building twice with the same
// factors yields the same file.
type OverviewBuilder interface {
	BuildOverviews(ctx context.Context, path string, factors []int) error
}

// NativeOverviewBuilder downsamples with nearest neighbour sampling, which
// keeps mask values binary, and rewrites the file as a cloud optimized geotiff.
type NativeOverviewBuilder struct {
	workers   int
	stripOpts []StripperOption
	cogOpts   []COGOption
}

type OverviewOption func(*NativeOverviewBuilder)

func OverviewWorkers(n int) OverviewOption {
	return func(b *NativeOverviewBuilder) { b.workers = n }
}

func OverviewStripping(opts ...StripperOption) OverviewOption {
	return func(b *NativeOverviewBuilder) { b.stripOpts = append(b.stripOpts, opts...) }
}

func OverviewCOGOptions(opts ...COGOption) OverviewOption {
	return func(b *NativeOverviewBuilder) { b.cogOpts = append(b.cogOpts, opts...) }
}

func NewNativeOverviewBuilder(opts ...OverviewOption) *NativeOverviewBuilder {
	b := &NativeOverviewBuilder{workers: runtime.NumCPU()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *NativeOverviewBuilder) BuildOverviews(ctx context.Context, path string, factors []int) error {
	if err := ValidateOverviewFactors(factors); err != nil {
		return OverviewError{Path: path, Err: err}
	}
	base, err := ReadCOGFile(path)
	if err != nil {
		return OverviewError{Path: path, Err: err}
	}
	levels, err := b.Downsample(ctx, base, factors)
	if err != nil {
		return OverviewError{Path: path, Err: err}
	}
	if err := WriteCOGFile(ctx, path, append([]*Raster{base}, levels...), b.cogOpts...); err != nil {
		return OverviewError{Path: path, Err: err}
	}
	return nil
}

// Downsample computes one overview of base per factor. Overview pixel (x,y)
// takes the value of base pixel (x*f+f/2, y*f+f/2), clamped to the image.
func (b *NativeOverviewBuilder) Downsample(ctx context.Context, base *Raster, factors []int) ([]*Raster, error) {
	if len(factors) == 0 {
		return nil, nil
	}
	opts := append(append([]StripperOption(nil), b.stripOpts...), OverviewFactors(factors...))
	stripper, err := NewStripper(base.Width, base.Height, opts...)
	if err != nil {
		return nil, err
	}
	var levels []*Raster
	for _, img := range stripper.Pyramid()[1:] {
		ovr := NewRaster(base.Grid.Overview(img.Factor), base.EPSG, base.NoData, 0)
		ovr.HasNoData = base.HasNoData
		f := img.Factor
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(b.workers, 1))
		for _, strip := range img.Strips {
			strip := strip
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				for y := strip.TopLeftY; y < strip.TopLeftY+strip.Height; y++ {
					sy := min(y*f+f/2, base.Height-1)
					src := base.Pix[sy*base.Width : (sy+1)*base.Width]
					dst := ovr.Pix[y*ovr.Width : (y+1)*ovr.Width]
					for x := range dst {
						dst[x] = src[min(x*f+f/2, base.Width-1)]
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("overview %d: %w", f, err)
		}
		levels = append(levels, ovr)
	}
	return levels, nil
}
