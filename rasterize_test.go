package landmask

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareAOI(id string, epsg int, geom orb.Polygon) AOI {
	mp := orb.MultiPolygon{geom}
	return AOI{Tile: Tile{ID: id, EPSG: epsg}, Geometry: mp, Extent: extentFromBound(mp.Bound())}
}

func writeClip(t *testing.T, dir string, epsg int, polys ...orb.Polygon) string {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, p := range polys {
		fc.Append(geojson.NewFeature(p))
	}
	p := filepath.Join(dir, "clip.geojson")
	require.NoError(t, WriteClip(p, fc, epsg))
	return p
}

func burn(t *testing.T, aoi AOI, land []orb.Polygon, res float64, opts ...RasterizerOption) *Raster {
	t.Helper()
	g, err := NewGrid(aoi.Extent, res)
	require.NoError(t, err)
	shape := Shape{EPSG: aoi.Tile.EPSG}
	for _, p := range land {
		shape.Polygons = append(shape.Polygons, orb.MultiPolygon{p})
	}
	r, err := NewNativeRasterizer(opts...).Burn(context.Background(), aoi, shape, g)
	require.NoError(t, err)
	return r
}

func TestBurnHalfLand(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	r := burn(t, aoi, []orb.Polygon{square(-20, -20, 50, 120)}, 10)
	assert.Equal(t, 10, r.Width)
	assert.Equal(t, 10, r.Height)
	assert.Equal(t, Stats{Land: 50, Water: 50}, r.Stats())
	for y := 0; y < 10; y++ {
		assert.Equal(t, Land, r.At(4, y))
		assert.Equal(t, Water, r.At(5, y))
	}
	assert.Equal(t, "aoi_00", r.Metadata["LANDMASK_TILE"])
	assert.Equal(t, "water", r.Metadata["LANDMASK_NODATA"])
}

func TestBurnNoLand(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	r := burn(t, aoi, nil, 10)
	assert.Equal(t, Stats{Water: 100}, r.Stats())
}

func TestBurnOutsideAOI(t *testing.T) {
	tri := orb.Polygon{orb.Ring{{0, 0}, {100, 0}, {0, 100}, {0, 0}}}
	aoi := squareAOI("aoi_01", 3857, tri)
	r := burn(t, aoi, []orb.Polygon{square(0, 0, 100, 100)}, 10)
	assert.Equal(t, Stats{Land: 45, NoData: 55}, r.Stats())
	assert.Equal(t, Outside, r.At(9, 0))
	assert.Equal(t, Land, r.At(0, 9))

	bg := burn(t, aoi, []orb.Polygon{square(0, 0, 100, 100)}, 10, BurnSemantic(NodataBackground))
	assert.Equal(t, uint8(0), bg.NoData)
	assert.Equal(t, Water, bg.At(9, 0))
	assert.Equal(t, Stats{Land: 45, NoData: 55}, bg.Stats())
}

func TestBurnOverlappingLand(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	r := burn(t, aoi, []orb.Polygon{square(0, 0, 60, 100), square(40, 0, 100, 100)}, 10)
	assert.Equal(t, Stats{Land: 100}, r.Stats())
}

func TestBurnHole(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	island := square(0, 0, 100, 100)
	island = append(island, square(20, 20, 80, 80)[0].Clone())
	r := burn(t, aoi, []orb.Polygon{island}, 10)
	assert.Equal(t, Stats{Land: 64, Water: 36}, r.Stats())
}

func TestBurnAllTouched(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	land := []orb.Polygon{square(18, 18, 32, 32)}
	r := burn(t, aoi, land, 10)
	assert.Equal(t, int64(1), r.Stats().Land)
	at := burn(t, aoi, land, 10, AllTouched(true))
	assert.Equal(t, int64(9), at.Stats().Land)
	assert.Equal(t, "true", at.Metadata["LANDMASK_ALLTOUCHED"])
	for i, v := range r.Pix {
		if v == Land {
			assert.Equal(t, Land, at.Pix[i])
		}
	}
}

func TestBurnAllTouchedKeepsAOIEdge(t *testing.T) {
	aoi := squareAOI("aoi_00", 3857, orb.Polygon{{{0, 0}, {100, 0}, {100, 100}, {0, 0}}})
	land := []orb.Polygon{square(-10, -10, 110, 110)}
	r := burn(t, aoi, land, 10)
	at := burn(t, aoi, land, 10, AllTouched(true))
	assert.Greater(t, r.Stats().NoData, int64(0))
	assert.Equal(t, r.Stats(), at.Stats())
	assert.Equal(t, r.Pix, at.Pix)
}

func TestBurnStrips(t *testing.T) {
	aoi := squareAOI("aoi_00", 32631, square(0, 0, 1000, 700))
	land := []orb.Polygon{
		{orb.Ring{{-50, 100}, {620, -30}, {930, 650}, {300, 480}, {-50, 100}}},
		square(700, 10, 990, 200),
	}
	ref := burn(t, aoi, land, 5)
	striped := burn(t, aoi, land, 5, BurnWorkers(4),
		BurnStripping(InternalTileSize(16, 16), TargetPixelCount(200*16)))
	assert.Equal(t, ref.Pix, striped.Pix)
	assert.Greater(t, ref.Stats().Land, int64(0))
	assert.Greater(t, ref.Stats().Water, int64(0))
}

func TestRasterize(t *testing.T) {
	dir := t.TempDir()
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	clipPath := writeClip(t, dir, 3857, square(0, 0, 50, 100))
	g, err := NewGrid(aoi.Extent, 10)
	require.NoError(t, err)

	r := NewNativeRasterizer(BurnCOGOptions(COGTileSize(16)))
	dst := filepath.Join(dir, "a.tif")
	stats, err := r.Rasterize(context.Background(), RasterizeRequest{AOI: aoi, ClipPath: clipPath, Grid: g, Dst: dst})
	require.NoError(t, err)
	assert.Equal(t, Stats{Land: 50, Water: 50}, stats)

	got, err := ReadCOGFile(dst)
	require.NoError(t, err)
	assert.Equal(t, g, got.Grid)
	assert.Equal(t, 3857, got.EPSG)
	assert.Equal(t, stats, got.Stats())

	dst2 := filepath.Join(dir, "b.tif")
	_, err = r.Rasterize(context.Background(), RasterizeRequest{AOI: aoi, ClipPath: clipPath, Grid: g, Dst: dst2})
	require.NoError(t, err)
	a, err := os.ReadFile(dst)
	require.NoError(t, err)
	b, err := os.ReadFile(dst2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRasterizeErrors(t *testing.T) {
	dir := t.TempDir()
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	g, err := NewGrid(aoi.Extent, 10)
	require.NoError(t, err)
	r := NewNativeRasterizer()

	_, err = r.Rasterize(context.Background(), RasterizeRequest{AOI: aoi,
		ClipPath: filepath.Join(dir, "missing.geojson"), Grid: g, Dst: filepath.Join(dir, "x.tif")})
	var rerr RasterizeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "aoi_00", rerr.Tile)

	clipPath := writeClip(t, dir, 4326, square(0, 0, 1, 1))
	_, err = r.Rasterize(context.Background(), RasterizeRequest{AOI: aoi, ClipPath: clipPath, Grid: g, Dst: filepath.Join(dir, "x.tif")})
	assert.ErrorAs(t, err, &rerr)
	assert.NoFileExists(t, filepath.Join(dir, "x.tif"))

	_, err = NewNativeRasterizer(BurnSemantic("mud")).Burn(context.Background(), aoi, Shape{}, g)
	assert.Error(t, err)
}
