package landmask

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	errEmptyGeometry  = errors.New("empty geometry")
	errNotAreal       = errors.New("geometry is not a polygon or multipolygon")
	errNonFinite      = errors.New("geometry contains non finite coordinates")
	errDegenerateRing = errors.New("ring has fewer than 4 points")
)

// Shape is a set of polygons read from a vector file, together with the EPSG
// code the file declares (0 when it declares none).
type Shape struct {
	EPSG     int
	Polygons []orb.MultiPolygon
}

// Union returns all the shape's polygons as a single multipolygon. Overlaps are
// not dissolved.
func (s Shape) Union() orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, p := range s.Polygons {
		mp = append(mp, p...)
	}
	return mp
}

// Bound returns the bounding box of every polygon in the shape.
func (s Shape) Bound() orb.Bound {
	return s.Union().Bound()
}

type geojsonHeader struct {
	Type string `json:"type"`
	CRS  *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

var epsgRe = regexp.MustCompile(`EPSG:{1,2}(\d+)$`)

// ParseEPSG extracts the code from crs names such as "EPSG:3857" or
// "urn:ogc:def:crs:EPSG::3857". CRS84 maps to 4326.
func ParseEPSG(name string) int {
	if name == "urn:ogc:def:crs:OGC:1.3:CRS84" || name == "urn:ogc:def:crs:OGC::CRS84" {
		return 4326
	}
	m := epsgRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// ParseGeoJSON decodes a FeatureCollection, a Feature or a bare geometry. Each
// feature becomes one entry of Shape.Polygons; non areal features are an error.
func ParseGeoJSON(data []byte) (Shape, error) {
	var hdr geojsonHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return Shape{}, fmt.Errorf("decode geojson: %w", err)
	}
	shape := Shape{}
	if hdr.CRS != nil {
		shape.EPSG = ParseEPSG(hdr.CRS.Properties.Name)
	}
	var geoms []orb.Geometry
	switch hdr.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return Shape{}, fmt.Errorf("decode feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return Shape{}, fmt.Errorf("decode feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	case "":
		return Shape{}, errors.New("decode geojson: missing type member")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return Shape{}, fmt.Errorf("decode geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}
	for i, g := range geoms {
		mp, err := areal(g)
		if err != nil {
			return Shape{}, fmt.Errorf("feature %d: %w", i, err)
		}
		if len(mp) > 0 {
			shape.Polygons = append(shape.Polygons, mp)
		}
	}
	return shape, nil
}

// areal promotes g to a multipolygon, dropping empty parts.
func areal(g orb.Geometry) (orb.MultiPolygon, error) {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	case orb.Ring:
		mp = orb.MultiPolygon{orb.Polygon{v}}
	case orb.Bound:
		mp = orb.MultiPolygon{v.ToPolygon()}
	case orb.Collection:
		for _, c := range v {
			sub, err := areal(c)
			if err != nil {
				return nil, err
			}
			mp = append(mp, sub...)
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("%w: %s", errNotAreal, g.GeoJSONType())
	}
	out := mp[:0:0]
	for _, p := range mp {
		if len(p) == 0 || len(p[0]) == 0 {
			continue
		}
		for _, r := range p {
			if len(r) < 4 {
				return nil, errDegenerateRing
			}
			for _, pt := range r {
				if !finite(pt[0]) || !finite(pt[1]) {
					return nil, errNonFinite
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
