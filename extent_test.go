package landmask

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExtent(t *testing.T) {
	e, err := ResolveExtent(orb.MultiPolygon{square(-100, -50, 100, 50)})
	require.NoError(t, err)
	assert.Equal(t, Extent{MinX: -100, MinY: -50, MaxX: 100, MaxY: 50}, e)
	assert.Equal(t, "-100 -50 100 50", e.String())

	e, err = ResolveExtent(orb.MultiPolygon{square(-10, -10, -5, -2), square(3, 1, 4, 8)})
	require.NoError(t, err)
	assert.Equal(t, Extent{MinX: -10, MinY: -10, MaxX: 4, MaxY: 8}, e)

	again, err := ResolveExtent(orb.MultiPolygon{square(-10, -10, -5, -2), square(3, 1, 4, 8)})
	require.NoError(t, err)
	assert.Equal(t, e, again)
}

func TestResolveExtentErrors(t *testing.T) {
	_, err := ResolveExtent(nil)
	assert.ErrorIs(t, err, errEmptyGeometry)

	flat := orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {5, 0}, {0, 0}}}
	_, err = ResolveExtent(orb.MultiPolygon{flat})
	assert.Error(t, err)
}

func TestParseGeoJSON(t *testing.T) {
	s, err := ParseGeoJSON([]byte(collectionJSON(3857, square(0, 0, 1, 1), square(2, 2, 3, 3))))
	require.NoError(t, err)
	assert.Equal(t, 3857, s.EPSG)
	assert.Len(t, s.Polygons, 2)

	s, err = ParseGeoJSON([]byte(`{"type":"Feature","properties":null,"geometry":` + polygonJSON(square(0, 0, 1, 1)) + `}`))
	require.NoError(t, err)
	assert.Len(t, s.Polygons, 1)
	assert.Equal(t, 0, s.EPSG)

	s, err = ParseGeoJSON([]byte(`{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]],[[[5,5],[6,5],[6,6],[5,5]]]]}`))
	require.NoError(t, err)
	require.Len(t, s.Polygons, 1)
	assert.Len(t, s.Polygons[0], 2)

	s, err = ParseGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.Empty(t, s.Polygons)
}

func TestParseGeoJSONErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"malformed":  `{"type":"FeatureCollection","features":[`,
		"notype":     `{"features":[]}`,
		"point":      `{"type":"Point","coordinates":[1,2]}`,
		"linestring": `{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{}}`,
		"shortring":  `{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`,
	} {
		_, err := ParseGeoJSON([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseEPSG(t *testing.T) {
	assert.Equal(t, 3857, ParseEPSG("urn:ogc:def:crs:EPSG::3857"))
	assert.Equal(t, 2154, ParseEPSG("EPSG:2154"))
	assert.Equal(t, 4326, ParseEPSG("urn:ogc:def:crs:OGC:1.3:CRS84"))
	assert.Equal(t, 0, ParseEPSG("something else"))
}

func TestLoadAOI(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "aoi_00_3857.geojson", collectionJSON(3857, square(-100, -50, 100, 50)))
	tile, ok := ParseTileName("aoi", "aoi_00_3857.geojson")
	require.True(t, ok)
	tile.Path = p
	aoi, err := LoadAOI(tile)
	require.NoError(t, err)
	assert.Equal(t, Extent{-100, -50, 100, 50}, aoi.Extent)

	bad := writeFile(t, dir, "aoi_01_3857.geojson", collectionJSON(2154, square(0, 0, 1, 1)))
	tile.Path, tile.ID = bad, "aoi_01"
	_, err = LoadAOI(tile)
	var perr ExtentParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "aoi_01", perr.Tile)

	empty := writeFile(t, dir, "aoi_02_3857.geojson", `{"type":"FeatureCollection","features":[]}`)
	tile.Path, tile.ID = empty, "aoi_02"
	_, err = LoadAOI(tile)
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, errEmptyGeometry)

	_, err = ExtentOf(filepath.Join(dir, "missing.geojson"))
	assert.ErrorAs(t, err, &perr)
}
