package gdal

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landmask"
)

var creationOptions = []string{
	"TILED=YES",
	"BLOCKXSIZE=256",
	"BLOCKYSIZE=256",
	"COMPRESS=DEFLATE",
	"BIGTIFF=IF_SAFER",
	"SPARSE_OK=TRUE",
}

// Rasterizer burns with gdal_rasterize. Under the water semantic the AOI
// polygon is burnt first, with 0 inside and 255 elsewhere, and the land
// polygons are then burnt into that raster.
type Rasterizer struct {
	semantic   landmask.NodataSemantic
	allTouched bool
	switches   []string
}

// NewRasterizer parses switches with ParseSwitches. They are appended to the
// land burning pass.
func NewRasterizer(semantic landmask.NodataSemantic, allTouched bool, switches string) (*Rasterizer, error) {
	if !semantic.Valid() {
		return nil, landmask.ConfigError{Option: "nodata", Msg: fmt.Sprintf("unknown semantic %q", semantic)}
	}
	sw, err := ParseSwitches(switches)
	if err != nil {
		return nil, landmask.ConfigError{Option: "gdal-switches", Msg: err.Error()}
	}
	Register()
	return &Rasterizer{semantic: semantic, allTouched: allTouched, switches: sw}, nil
}

// gridSwitches place the output exactly on the tile grid. The grid extent is
// already a multiple of the resolution, which is what -tap would compute.
func gridSwitches(grid landmask.Grid, epsg int) []string {
	e := grid.Extent()
	return []string{
		"-of", "GTiff",
		"-ot", "Byte",
		"-a_srs", epsgSRS(epsg),
		"-te", g(e.MinX), g(e.MinY), g(e.MaxX), g(e.MaxY),
		"-ts", strconv.Itoa(grid.Width), strconv.Itoa(grid.Height),
	}
}

// aoiSwitches burn the AOI footprint with the pixel-centre rule whatever the
// all-touched setting.
func (r *Rasterizer) aoiSwitches(grid []string) []string {
	nodata := strconv.Itoa(int(r.semantic.NoData()))
	return append(append(append([]string{}, grid...), "-init", nodata, "-a_nodata", nodata), "-burn", "0")
}

func (r *Rasterizer) landSwitches() []string {
	sw := []string{"-burn", "1"}
	if r.allTouched {
		sw = append(sw, "-at")
	}
	return append(sw, r.switches...)
}

func (r *Rasterizer) Rasterize(ctx context.Context, req landmask.RasterizeRequest) (landmask.Stats, error) {
	id := req.AOI.Tile.ID
	if req.AOI.Tile.EPSG == 0 {
		return landmask.Stats{}, landmask.RasterizeError{Tile: id, Err: fmt.Errorf("unknown tile crs")}
	}
	tmp, err := landmask.TempPath(req.Dst)
	if err != nil {
		return landmask.Stats{}, landmask.RasterizeError{Tile: id, Err: err}
	}
	defer os.Remove(tmp)

	if err := r.burn(ctx, req, tmp); err != nil {
		return landmask.Stats{}, landmask.RasterizeError{Tile: id, Err: err}
	}
	ras, err := landmask.ReadCOGFile(tmp)
	if err != nil {
		return landmask.Stats{}, landmask.RasterizeError{Tile: id, Err: fmt.Errorf("read back %s: %w", tmp, err)}
	}
	if err := os.Rename(tmp, req.Dst); err != nil {
		return landmask.Stats{}, landmask.RasterizeError{Tile: id, Err: err}
	}
	return ras.Stats(), nil
}

func (r *Rasterizer) burn(ctx context.Context, req landmask.RasterizeRequest, dst string) error {
	land, err := godal.Open(req.ClipPath, godal.VectorOnly())
	if err != nil {
		return fmt.Errorf("open clip %s: %w", req.ClipPath, err)
	}
	defer land.Close()
	grid := gridSwitches(req.Grid, req.AOI.Tile.EPSG)
	nodata := strconv.Itoa(int(r.semantic.NoData()))

	if r.semantic == landmask.NodataBackground {
		sw := append(append(grid, "-init", "0", "-a_nodata", nodata), r.landSwitches()...)
		logCommand(ctx, "gdal_rasterize", append(append([]string{}, sw...), req.ClipPath, dst)...)
		out, err := land.Rasterize(dst, sw, godal.CreationOption(creationOptions...), godal.ErrLogger(errorHandler(ctx)))
		if err != nil {
			return fmt.Errorf("rasterize land: %w", err)
		}
		return out.Close()
	}

	aoi, err := godal.Open(req.AOI.Tile.Path, godal.VectorOnly())
	if err != nil {
		return fmt.Errorf("open aoi %s: %w", req.AOI.Tile.Path, err)
	}
	defer aoi.Close()
	sw := r.aoiSwitches(grid)
	logCommand(ctx, "gdal_rasterize", append(append([]string{}, sw...), req.AOI.Tile.Path, dst)...)
	out, err := aoi.Rasterize(dst, sw, godal.CreationOption(creationOptions...), godal.ErrLogger(errorHandler(ctx)))
	if err != nil {
		return fmt.Errorf("rasterize aoi: %w", err)
	}
	landSw := r.landSwitches()
	logCommand(ctx, "gdal_rasterize", append(append([]string{}, landSw...), req.ClipPath, dst)...)
	if err := out.RasterizeInto(land, landSw, godal.ErrLogger(errorHandler(ctx))); err != nil {
		out.Close()
		return fmt.Errorf("rasterize land: %w", err)
	}
	return out.Close()
}
