package landmask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// LandLayer answers bounding box queries against the land reference polygons.
type LandLayer interface {
	// Query returns the land polygons whose envelope intersects b.
	Query(ctx context.Context, b orb.Bound) ([]orb.MultiPolygon, error)
	// EPSG returns the layer's declared CRS, 0 when unknown.
	EPSG() int
}

type memoryLayer struct {
	epsg   int
	polys  []orb.MultiPolygon
	bounds []orb.Bound
}

func newMemoryLayer(s Shape) *memoryLayer {
	l := &memoryLayer{epsg: s.EPSG, polys: s.Polygons, bounds: make([]orb.Bound, len(s.Polygons))}
	for i, p := range s.Polygons {
		l.bounds[i] = p.Bound()
	}
	return l
}

func (l *memoryLayer) Query(ctx context.Context, b orb.Bound) ([]orb.MultiPolygon, error) {
	var ret []orb.MultiPolygon
	for i, pb := range l.bounds {
		if pb.Intersects(b) {
			ret = append(ret, l.polys[i])
		}
	}
	return ret, ctx.Err()
}

func (l *memoryLayer) EPSG() int { return l.epsg }

type fgbLayer struct {
	f  *fgbFile
	mu sync.Mutex
}

func (l *fgbLayer) Query(ctx context.Context, b orb.Bound) ([]orb.MultiPolygon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.search(b)
}

func (l *fgbLayer) EPSG() int { return l.f.epsg }

// OpenLandLayer loads a GeoJSON land layer in memory, or opens an indexed
// FlatGeobuf layer for spatial queries.
func OpenLandLayer(path string) (LandLayer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fgb":
		f, err := openFGB(path)
		if err != nil {
			return nil, err
		}
		if f.fgb.Header().FeaturesCount() > 0 && f.fgb.Header().IndexNodeSize() == 0 {
			return nil, fmt.Errorf("%s: %w", path, errNoIndex)
		}
		return &fgbLayer{f: f}, nil
	case ".geojson", ".json":
		s, err := ReadShape(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		return newMemoryLayer(s), nil
	}
	return nil, errors.New("unsupported land layer format " + filepath.Ext(path))
}

// LazyLandLayer opens the land layer on first use and shares it afterwards,
// so a whole batch reads it once. An opening error is returned by every query.
type LazyLandLayer struct {
	Path  string
	once  sync.Once
	layer LandLayer
	err   error
}

func (l *LazyLandLayer) open() {
	l.once.Do(func() {
		l.layer, l.err = OpenLandLayer(l.Path)
	})
}

func (l *LazyLandLayer) Query(ctx context.Context, b orb.Bound) ([]orb.MultiPolygon, error) {
	l.open()
	if l.err != nil {
		return nil, l.err
	}
	return l.layer.Query(ctx, b)
}

func (l *LazyLandLayer) EPSG() int {
	l.open()
	if l.err != nil {
		return 0
	}
	return l.layer.EPSG()
}

// A Clipper writes the land polygons relevant to an AOI to dst, as a GeoJSON
// FeatureCollection of MultiPolygons. An AOI without land yields an empty
// collection, not an error.
type Clipper interface {
	Clip(ctx context.Context, aoi AOI, dst string) (int, error)
}

// VectorClipper clips a LandLayer to the AOI envelope and drops the parts that
// do not touch the AOI polygon. Parts are not cut to the polygon itself:
// rasterization masks the pixels outside it.
type VectorClipper struct {
	Layer LandLayer
}

func NewVectorClipper(layer LandLayer) *VectorClipper {
	return &VectorClipper{Layer: layer}
}

// Clip returns the number of features written.
func (c *VectorClipper) Clip(ctx context.Context, aoi AOI, dst string) (int, error) {
	b := aoi.Extent.Bound()
	candidates, err := c.Layer.Query(ctx, b)
	if err != nil {
		return 0, ClipError{Tile: aoi.Tile.ID, Err: err}
	}
	fc := geojson.NewFeatureCollection()
	for _, mp := range candidates {
		clipped := clip.MultiPolygon(b, mp.Clone())
		var parts orb.MultiPolygon
		for _, p := range clipped {
			if len(p) > 0 && len(p[0]) >= 4 && touches(p, aoi.Geometry) {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		f := geojson.NewFeature(parts)
		f.Properties["aoi"] = aoi.Tile.ID
		fc.Append(f)
	}
	epsg := c.Layer.EPSG()
	if epsg == 0 {
		epsg = aoi.Tile.EPSG
	}
	if err := WriteClip(dst, fc, epsg); err != nil {
		return 0, ClipError{Tile: aoi.Tile.ID, Err: err}
	}
	return len(fc.Features), nil
}

// touches reports whether p and the AOI polygon share at least one point.
func touches(p orb.Polygon, aoi orb.MultiPolygon) bool {
	for _, pt := range p[0] {
		if planar.MultiPolygonContains(aoi, pt) {
			return true
		}
	}
	for _, ap := range aoi {
		if len(ap) == 0 {
			continue
		}
		for _, pt := range ap[0] {
			if planar.PolygonContains(p, pt) {
				return true
			}
		}
		for _, ar := range ap {
			for _, r := range p {
				if ringsCross(r, ar) {
					return true
				}
			}
		}
	}
	return false
}

func ringsCross(a, b orb.Ring) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if segmentsIntersect(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}

func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	o1, o2 := orientation(p1, p2, q1), orientation(p1, p2, q2)
	o3, o4 := orientation(q1, q2, p1), orientation(q1, q2, p2)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, p2, q1)) || (o2 == 0 && onSegment(p1, p2, q2)) ||
		(o3 == 0 && onSegment(q1, q2, p1)) || (o4 == 0 && onSegment(q1, q2, p2))
}

func crsMember(epsg int) map[string]interface{} {
	return map[string]interface{}{
		"type": "name",
		"properties": map[string]interface{}{
			"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg),
		},
	}
}

// WriteClip writes fc to path with a named crs member.
func WriteClip(path string, fc *geojson.FeatureCollection, epsg int) error {
	fc.ExtraMembers = geojson.Properties{"crs": crsMember(epsg)}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("encode clip: %w", err)
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadClip loads a clip artifact written by a Clipper.
func ReadClip(path string) (Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Shape{}, err
	}
	return ParseGeoJSON(data)
}
