package gdal

import (
	"context"
	"fmt"
	"os"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landmask"
)

// Clipper intersects the land layer with the exact AOI polygon, as
// ogr2ogr -clipsrc does.
type Clipper struct {
	LandPath string
}

func NewClipper(landPath string) *Clipper {
	Register()
	return &Clipper{LandPath: landPath}
}

// Clip writes the intersection to dst as GeoJSON and returns its feature
// count.
func (c *Clipper) Clip(ctx context.Context, aoi landmask.AOI, dst string) (int, error) {
	id := aoi.Tile.ID
	land, err := godal.Open(c.LandPath, godal.VectorOnly())
	if err != nil {
		return 0, landmask.ClipError{Tile: id, Err: fmt.Errorf("open %s: %w", c.LandPath, err)}
	}
	defer land.Close()

	tmp, err := landmask.TempPath(dst)
	if err != nil {
		return 0, landmask.ClipError{Tile: id, Err: err}
	}
	// the GeoJSON driver refuses to create over an existing file
	_ = os.Remove(tmp)
	defer os.Remove(tmp)

	switches := []string{
		"-f", "GeoJSON",
		"-clipsrc", aoi.Tile.Path,
		"-nlt", "PROMOTE_TO_MULTI",
		"-overwrite",
	}
	logCommand(ctx, "ogr2ogr", append(append([]string{}, switches...), tmp, c.LandPath)...)
	out, err := land.VectorTranslate(tmp, switches)
	if err != nil {
		return 0, landmask.ClipError{Tile: id, Err: fmt.Errorf("vector translate: %w", err)}
	}
	if err := out.Close(); err != nil {
		return 0, landmask.ClipError{Tile: id, Err: fmt.Errorf("close %s: %w", tmp, err)}
	}
	shape, err := landmask.ReadClip(tmp)
	if err != nil {
		return 0, landmask.ClipError{Tile: id, Err: err}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, landmask.ClipError{Tile: id, Err: err}
	}
	return len(shape.Polygons), nil
}
