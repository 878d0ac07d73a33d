package landmask

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// SplitFormat is the file format of exploded AOI parts.
type SplitFormat string

const (
	SplitGeoJSON SplitFormat = "geojson"
	SplitFGB     SplitFormat = "fgb"
)

// SplitPart is one polygon of an exploded AOI.
type SplitPart struct {
	Index      int
	Polygon    orb.Polygon
	Properties geojson.Properties
}

// ExplodeAOI breaks every feature of an AOI collection into single polygons,
// dropping empty and zero area parts. Parts are numbered in input order.
func ExplodeAOI(data []byte) ([]SplitPart, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	var parts []SplitPart
	for i, f := range fc.Features {
		mp, err := areal(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		for _, p := range mp {
			if planar.Area(p) == 0 {
				continue
			}
			props := f.Properties.Clone()
			if props == nil {
				props = geojson.Properties{}
			}
			props["id"] = len(parts)
			parts = append(parts, SplitPart{Index: len(parts), Polygon: p, Properties: props})
		}
	}
	return parts, nil
}

// SplitName is the tile file name of an exploded part. Indices are zero
// padded to two digits at least.
func SplitName(prefix string, index, epsg int, format SplitFormat) string {
	return fmt.Sprintf("%s_%02d_%d.%s", prefix, index, epsg, format)
}

// SplitAOI explodes the AOI collection at src and writes one tile file per
// part in dir, returning the written paths.
func SplitAOI(src, dir, prefix string, epsg int, format SplitFormat) ([]string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	parts, err := ExplodeAOI(data)
	if err != nil {
		return nil, fmt.Errorf("explode %s: %w", src, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range parts {
		path := filepath.Join(dir, SplitName(prefix, p.Index, epsg, format))
		var write func(w io.Writer) error
		switch format {
		case SplitFGB:
			write = func(w io.Writer) error {
				return WriteFGB(w, []orb.Polygon{p.Polygon}, epsg)
			}
		case SplitGeoJSON:
			fc := geojson.NewFeatureCollection()
			f := geojson.NewFeature(p.Polygon)
			f.Properties = p.Properties
			fc.Append(f)
			if epsg != 4326 {
				fc.ExtraMembers = geojson.Properties{"crs": crsMember(epsg)}
			}
			write = func(w io.Writer) error {
				return json.NewEncoder(w).Encode(fc)
			}
		default:
			return nil, fmt.Errorf("unsupported split format %q", format)
		}
		if err := WriteFileAtomic(path, write); err != nil {
			return nil, fmt.Errorf("write part %d: %w", p.Index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
