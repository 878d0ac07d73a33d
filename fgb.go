package landmask

import (
	"errors"
	"fmt"
	"io"
	"math"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

var errNoIndex = errors.New("flatgeobuf file has no spatial index")

// fgbFile is a FlatGeobuf file opened for bounding box queries.
type fgbFile struct {
	fgb  *flatgeobuf.FlatGeoBuf
	epsg int
}

func openFGB(path string) (*fgbFile, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	h := fgb.Header()
	if h == nil {
		return nil, fmt.Errorf("open %s: missing header", path)
	}
	f := &fgbFile{fgb: fgb}
	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		f.epsg = int(crs.Code())
	}
	return f, nil
}

// search returns the polygons whose envelope intersects b.
func (f *fgbFile) search(b orb.Bound) ([]orb.MultiPolygon, error) {
	h := f.fgb.Header()
	if h.FeaturesCount() == 0 {
		return nil, nil
	}
	if h.IndexNodeSize() == 0 {
		return nil, errNoIndex
	}
	features, err := f.fgb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out []orb.MultiPolygon
	for i, ft := range features {
		var geom flattypes.Geometry
		g := ft.Geometry(&geom)
		if g == nil {
			continue
		}
		mp, err := areal(geometryFromFGB(g, h.GeometryType()))
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if len(mp) > 0 {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (f *fgbFile) all() ([]orb.MultiPolygon, error) {
	return f.search(orb.Bound{
		Min: orb.Point{-math.MaxFloat64, -math.MaxFloat64},
		Max: orb.Point{math.MaxFloat64, math.MaxFloat64},
	})
}

// ReadFGB reads every polygon of a spatially indexed FlatGeobuf file.
func ReadFGB(path string) (Shape, error) {
	f, err := openFGB(path)
	if err != nil {
		return Shape{}, err
	}
	polys, err := f.all()
	if err != nil {
		return Shape{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Shape{EPSG: f.epsg, Polygons: polys}, nil
}

// geometryFromFGB decodes areal geometries. Features of a typed layer carry
// GeometryTypeUnknown, in which case the header type applies.
func geometryFromFGB(g *flattypes.Geometry, layerType flattypes.GeometryType) orb.Geometry {
	t := g.Type()
	if t == flattypes.GeometryTypeUnknown {
		t = layerType
	}
	switch t {
	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)
	case flattypes.GeometryTypeMultiPolygon:
		n := g.PartsLength()
		if n == 0 {
			if p := polygonFromFGB(g); len(p) > 0 {
				return orb.MultiPolygon{p}
			}
			return orb.MultiPolygon{}
		}
		mp := make(orb.MultiPolygon, 0, n)
		for i := 0; i < n; i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if p := polygonFromFGB(&part); len(p) > 0 {
					mp = append(mp, p)
				}
			}
		}
		return mp
	case flattypes.GeometryTypeGeometryCollection:
		n := g.PartsLength()
		c := make(orb.Collection, 0, n)
		for i := 0; i < n; i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if sub := geometryFromFGB(&part, flattypes.GeometryTypeUnknown); sub != nil {
					c = append(c, sub)
				}
			}
		}
		return c
	case flattypes.GeometryTypePoint:
		return orb.Point{}
	case flattypes.GeometryTypeLineString, flattypes.GeometryTypeMultiLineString:
		return orb.LineString{}
	}
	return nil
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	n := g.XyLength()
	if n < 2 {
		return nil
	}
	ends := g.EndsLength()
	if ends == 0 {
		ring := make(orb.Ring, 0, n/2)
		for i := 0; i+1 < n; i += 2 {
			ring = append(ring, orb.Point{g.Xy(i), g.Xy(i + 1)})
		}
		return orb.Polygon{ring}
	}
	poly := make(orb.Polygon, 0, ends)
	start := uint32(0)
	for i := 0; i < ends; i++ {
		end := g.Ends(i)
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			idx := int(j) * 2
			if idx+1 < n {
				ring = append(ring, orb.Point{g.Xy(idx), g.Xy(idx + 1)})
			}
		}
		poly = append(poly, ring)
		start = end
	}
	return poly
}

// WriteFGB writes one polygon feature per entry of polys, with a spatial index
// and the given EPSG code in the header.
func WriteFGB(w io.Writer, polys []orb.Polygon, epsg int) error {
	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(flattypes.GeometryTypePolygon)
	if epsg > 0 {
		crs := writer.NewCrs(builder)
		crs.SetOrg("EPSG")
		crs.SetCode(int32(epsg))
		header.SetCrs(crs)
	}
	gen := &polygonGenerator{polys: polys}
	if _, err := writer.NewWriter(header, true, gen, nil).Write(w); err != nil {
		return fmt.Errorf("write flatgeobuf: %w", err)
	}
	return nil
}

type polygonGenerator struct {
	polys []orb.Polygon
	next  int
}

func (g *polygonGenerator) Generate() *writer.Feature {
	if g.next >= len(g.polys) {
		return nil
	}
	p := g.polys[g.next]
	g.next++

	builder := flatbuffers.NewBuilder(1024)
	geom := writer.NewGeometry(builder)
	geom.SetType(flattypes.GeometryTypePolygon)
	var xy []float64
	var ends []uint32
	for _, r := range p {
		for _, pt := range r {
			xy = append(xy, pt[0], pt[1])
		}
		ends = append(ends, uint32(len(xy)/2))
	}
	geom.SetXY(xy)
	geom.SetEnds(ends)
	f := writer.NewFeature(builder)
	f.SetGeometry(geom)
	return f
}
