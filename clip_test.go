package landmask

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorClipper(t *testing.T) {
	dir := t.TempDir()
	landPath := writeFile(t, dir, "land.geojson", collectionJSON(3857,
		square(50, 0, 150, 100),
		square(500, 500, 600, 600),
		square(-30, 80, 10, 130),
	))
	layer, err := OpenLandLayer(landPath)
	require.NoError(t, err)
	assert.Equal(t, 3857, layer.EPSG())

	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	dst := filepath.Join(dir, "clip.geojson")
	n, err := NewVectorClipper(layer).Clip(context.Background(), aoi, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	shape, err := ReadClip(dst)
	require.NoError(t, err)
	assert.Equal(t, 3857, shape.EPSG)
	require.Len(t, shape.Polygons, 2)
	for _, p := range shape.Polygons {
		b := p.Bound()
		assert.True(t, aoi.Extent.Bound().Contains(b.Min))
		assert.True(t, aoi.Extent.Bound().Contains(b.Max))
	}
	assert.Equal(t, orb.Bound{Min: orb.Point{50, 0}, Max: orb.Point{100, 100}}, shape.Polygons[0].Bound())

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"aoi":"aoi_00"`)
	assert.Contains(t, string(data), "urn:ogc:def:crs:EPSG::3857")
}

func TestVectorClipperNoLand(t *testing.T) {
	dir := t.TempDir()
	layer := newMemoryLayer(Shape{EPSG: 3857, Polygons: []orb.MultiPolygon{{square(500, 500, 600, 600)}}})
	aoi := squareAOI("aoi_03", 3857, square(0, 0, 100, 100))
	dst := filepath.Join(dir, "clip.geojson")
	n, err := NewVectorClipper(layer).Clip(context.Background(), aoi, dst)
	require.NoError(t, err)
	assert.Zero(t, n)
	shape, err := ReadClip(dst)
	require.NoError(t, err)
	assert.Empty(t, shape.Polygons)
	assert.Equal(t, 3857, shape.EPSG)
}

func TestVectorClipperDropsPartsOutsideAOI(t *testing.T) {
	dir := t.TempDir()
	triangle := orb.Polygon{{{0, 0}, {100, 0}, {100, 100}, {0, 0}}}
	aoi := squareAOI("aoi_04", 3857, triangle)

	layer := newMemoryLayer(Shape{EPSG: 3857, Polygons: []orb.MultiPolygon{{square(0, 80, 10, 100)}}})
	dst := filepath.Join(dir, "outside.geojson")
	n, err := NewVectorClipper(layer).Clip(context.Background(), aoi, dst)
	require.NoError(t, err)
	assert.Zero(t, n)

	layer = newMemoryLayer(Shape{EPSG: 3857, Polygons: []orb.MultiPolygon{
		{square(0, 80, 10, 100)},
		{square(80, 10, 90, 20)},
		{square(-10, 40, 60, 50)},
		{square(0, 80, 10, 100), square(95, 0, 110, 5)},
	}})
	dst = filepath.Join(dir, "mixed.geojson")
	n, err = NewVectorClipper(layer).Clip(context.Background(), aoi, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	shape, err := ReadClip(dst)
	require.NoError(t, err)
	require.Len(t, shape.Polygons, 3)
	assert.Equal(t, orb.Bound{Min: orb.Point{80, 10}, Max: orb.Point{90, 20}}, shape.Polygons[0].Bound())
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 40}, Max: orb.Point{60, 50}}, shape.Polygons[1].Bound())
	require.Len(t, shape.Polygons[2], 1)
	assert.Equal(t, orb.Bound{Min: orb.Point{95, 0}, Max: orb.Point{100, 5}}, shape.Polygons[2].Bound())
}

func TestSegmentsIntersect(t *testing.T) {
	assert.True(t, segmentsIntersect(orb.Point{0, 0}, orb.Point{10, 10}, orb.Point{0, 10}, orb.Point{10, 0}))
	assert.True(t, segmentsIntersect(orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{5, 0}, orb.Point{5, 5}))
	assert.True(t, segmentsIntersect(orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{10, 0}, orb.Point{20, 0}))
	assert.False(t, segmentsIntersect(orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{0, 1}, orb.Point{10, 1}))
	assert.False(t, segmentsIntersect(orb.Point{0, 0}, orb.Point{10, 10}, orb.Point{0, 80}, orb.Point{10, 80}))
}

func TestVectorClipperErrors(t *testing.T) {
	dir := t.TempDir()
	aoi := squareAOI("aoi_00", 3857, square(0, 0, 100, 100))
	layer := &LazyLandLayer{Path: filepath.Join(dir, "missing.geojson")}
	c := NewVectorClipper(layer)
	for i := 0; i < 2; i++ {
		_, err := c.Clip(context.Background(), aoi, filepath.Join(dir, "clip.geojson"))
		var cerr ClipError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "aoi_00", cerr.Tile)
	}
	assert.Zero(t, layer.EPSG())
	assert.NoFileExists(t, filepath.Join(dir, "clip.geojson"))

	_, err := OpenLandLayer(filepath.Join(dir, "land.shp"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mem := newMemoryLayer(Shape{Polygons: []orb.MultiPolygon{{square(0, 0, 1, 1)}}})
	_, err = NewVectorClipper(mem).Clip(ctx, aoi, filepath.Join(dir, "clip.geojson"))
	assert.ErrorAs(t, err, &ClipError{})
}

func TestLazyLandLayer(t *testing.T) {
	dir := t.TempDir()
	landPath := writeFile(t, dir, "land.geojson", collectionJSON(32631, square(0, 0, 10, 10)))
	layer := &LazyLandLayer{Path: landPath}
	got, err := layer.Query(context.Background(), orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{20, 20}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, os.Remove(landPath))
	got, err = layer.Query(context.Background(), orb.Bound{Min: orb.Point{50, 50}, Max: orb.Point{60, 60}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 32631, layer.EPSG())
}
