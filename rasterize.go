package landmask

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
)

// RasterizeRequest describes one tile to burn.
type RasterizeRequest struct {
	AOI      AOI
	ClipPath string
	Grid     Grid
	Dst      string
}

// A Rasterizer burns a clip artifact onto the request grid and persists the
// result at Dst. It returns the pixel class counts of the written raster.
type Rasterizer interface {
	Rasterize(ctx context.Context, req RasterizeRequest) (Stats, error)
}

// NativeRasterizer burns polygons in process and writes a tiled, deflate
// compressed geotiff without overviews.
type NativeRasterizer struct {
	semantic   NodataSemantic
	allTouched bool
	workers    int
	stripOpts  []StripperOption
	cogOpts    []COGOption
}

type RasterizerOption func(*NativeRasterizer)

// BurnSemantic selects the nodata semantic, NodataWater by default.
func BurnSemantic(s NodataSemantic) RasterizerOption {
	return func(r *NativeRasterizer) { r.semantic = s }
}

// AllTouched additionally burns every pixel crossed by a polygon edge.
func AllTouched(v bool) RasterizerOption {
	return func(r *NativeRasterizer) { r.allTouched = v }
}

// BurnWorkers bounds the number of strips burned concurrently.
func BurnWorkers(n int) RasterizerOption {
	return func(r *NativeRasterizer) { r.workers = n }
}

// BurnStripping forwards options to the stripper used to parallelize burning.
func BurnStripping(opts ...StripperOption) RasterizerOption {
	return func(r *NativeRasterizer) { r.stripOpts = append(r.stripOpts, opts...) }
}

// BurnCOGOptions forwards options to the geotiff writer.
func BurnCOGOptions(opts ...COGOption) RasterizerOption {
	return func(r *NativeRasterizer) { r.cogOpts = append(r.cogOpts, opts...) }
}

func NewNativeRasterizer(opts ...RasterizerOption) *NativeRasterizer {
	r := &NativeRasterizer{semantic: NodataWater, workers: runtime.NumCPU()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Burn computes the land mask of aoi on g from the given land polygons,
// without persisting it.
func (r *NativeRasterizer) Burn(ctx context.Context, aoi AOI, land Shape, g Grid) (*Raster, error) {
	if land.EPSG != 0 && land.EPSG != aoi.Tile.EPSG {
		return nil, fmt.Errorf("land polygons are in EPSG:%d, AOI is in EPSG:%d", land.EPSG, aoi.Tile.EPSG)
	}
	if !r.semantic.Valid() {
		return nil, fmt.Errorf("unknown nodata semantic %q", r.semantic)
	}
	stripper, err := NewStripper(g.Width, g.Height, r.stripOpts...)
	if err != nil {
		return nil, err
	}
	ras := NewRaster(g, aoi.Tile.EPSG, r.semantic.NoData(), 0)
	err = burnMask(ctx, ras, land.Polygons, aoi.Geometry, burnOptions{
		semantic:   r.semantic,
		allTouched: r.allTouched,
		workers:    r.workers,
		stripper:   stripper,
	})
	if err != nil {
		return nil, err
	}
	ras.Metadata = map[string]string{
		"LANDMASK_TILE":       aoi.Tile.ID,
		"LANDMASK_NODATA":     string(r.semantic),
		"LANDMASK_ALLTOUCHED": strconv.FormatBool(r.allTouched),
	}
	return ras, nil
}

// Rasterize reads the clip artifact, burns it and writes the raster. Every
// failure is reported as a RasterizeError.
func (r *NativeRasterizer) Rasterize(ctx context.Context, req RasterizeRequest) (Stats, error) {
	id := req.AOI.Tile.ID
	land, err := ReadClip(req.ClipPath)
	if err != nil {
		return Stats{}, RasterizeError{Tile: id, Err: fmt.Errorf("read clip: %w", err)}
	}
	ras, err := r.Burn(ctx, req.AOI, land, req.Grid)
	if err != nil {
		return Stats{}, RasterizeError{Tile: id, Err: err}
	}
	if err := WriteCOGFile(ctx, req.Dst, []*Raster{ras}, r.cogOpts...); err != nil {
		return Stats{}, RasterizeError{Tile: id, Err: fmt.Errorf("write %s: %w", req.Dst, err)}
	}
	return ras.Stats(), nil
}
