package landmask

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
)

// Extent is an axis aligned bounding box in the AOI's projected CRS.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

func (e Extent) Width() float64  { return e.MaxX - e.MinX }
func (e Extent) Height() float64 { return e.MaxY - e.MinY }

func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// String formats the extent as "xmin ymin xmax ymax".
func (e Extent) String() string {
	return fmt.Sprintf("%g %g %g %g", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

func extentFromBound(b orb.Bound) Extent {
	return Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// ResolveExtent returns the bounding box of an areal geometry. Empty,
// non areal and zero width or height geometries are rejected.
func ResolveExtent(mp orb.MultiPolygon) (Extent, error) {
	if len(mp) == 0 {
		return Extent{}, errEmptyGeometry
	}
	e := extentFromBound(mp.Bound())
	if !finite(e.MinX) || !finite(e.MinY) || !finite(e.MaxX) || !finite(e.MaxY) {
		return Extent{}, errNonFinite
	}
	if e.Width() <= 0 || e.Height() <= 0 {
		return Extent{}, fmt.Errorf("degenerate extent %s", e)
	}
	return e, nil
}

// AOI is an area of interest loaded from a tile file.
type AOI struct {
	Tile     Tile
	Geometry orb.MultiPolygon
	Extent   Extent
}

// LoadAOI reads and validates a tile's AOI file. All failures are returned as
// ExtentParseError.
func LoadAOI(t Tile) (AOI, error) {
	shape, err := ReadShape(t.Path)
	if err != nil {
		return AOI{}, ExtentParseError{Tile: t.ID, Err: err}
	}
	if shape.EPSG != 0 && shape.EPSG != t.EPSG {
		return AOI{}, ExtentParseError{Tile: t.ID,
			Err: fmt.Errorf("file declares EPSG:%d, name declares EPSG:%d", shape.EPSG, t.EPSG)}
	}
	mp := shape.Union()
	ext, err := ResolveExtent(mp)
	if err != nil {
		return AOI{}, ExtentParseError{Tile: t.ID, Err: err}
	}
	return AOI{Tile: t, Geometry: mp, Extent: ext}, nil
}

// ReadShape decodes a GeoJSON or FlatGeobuf file, picked by extension.
func ReadShape(path string) (Shape, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fgb":
		return ReadFGB(path)
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return Shape{}, err
		}
		return ParseGeoJSON(data)
	}
	return Shape{}, errors.New("unsupported vector format " + filepath.Ext(path))
}

// ExtentOf is the standalone form of the extent resolver.
func ExtentOf(path string) (Extent, error) {
	shape, err := ReadShape(path)
	if err != nil {
		return Extent{}, ExtentParseError{Tile: filepath.Base(path), Err: err}
	}
	e, err := ResolveExtent(shape.Union())
	if err != nil {
		return Extent{}, ExtentParseError{Tile: filepath.Base(path), Err: err}
	}
	return e, nil
}
