package landmask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const splitInput = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"north"},"geometry":{"type":"MultiPolygon","coordinates":[
 [[[0,0],[10,0],[10,10],[0,10],[0,0]]],
 [[[20,0],[30,0],[30,10],[20,10],[20,0]]]]}},
{"type":"Feature","properties":{"name":"flat"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[20,0],[0,0]]]}},
{"type":"Feature","properties":null,"geometry":{"type":"Polygon","coordinates":[[[40,40],[50,40],[50,50],[40,40]]]}}
]}`

func TestExplodeAOI(t *testing.T) {
	parts, err := ExplodeAOI([]byte(splitInput))
	require.NoError(t, err)
	require.Len(t, parts, 3)
	for i, p := range parts {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i, p.Properties["id"])
	}
	assert.Equal(t, "north", parts[0].Properties["name"])
	assert.Equal(t, "north", parts[1].Properties["name"])
	assert.Equal(t, 20.0, parts[1].Polygon.Bound().Min[0])
	assert.Equal(t, 40.0, parts[2].Polygon.Bound().Min[0])

	_, err = ExplodeAOI([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]}}]}`))
	assert.Error(t, err)
}

func TestSplitName(t *testing.T) {
	assert.Equal(t, "aoi_03_3857.geojson", SplitName("aoi", 3, 3857, SplitGeoJSON))
	assert.Equal(t, "aoi_123_2154.fgb", SplitName("aoi", 123, 2154, SplitFGB))
}

func TestSplitAOI(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "in.geojson", splitInput)
	out := filepath.Join(dir, "tiles")

	paths, err := SplitAOI(src, out, "aoi", 3857, SplitGeoJSON)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	tiles, err := ScanTiles(out, "aoi")
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	aoi, err := LoadAOI(tiles[1])
	require.NoError(t, err)
	assert.Equal(t, Extent{20, 0, 30, 10}, aoi.Extent)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "EPSG::3857")

	paths, err = SplitAOI(src, out, "aoi", 4326, SplitGeoJSON)
	require.NoError(t, err)
	data, err = os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"crs"`)

	paths, err = SplitAOI(src, out, "fgb", 2154, SplitFGB)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	shape, err := ReadFGB(paths[2])
	require.NoError(t, err)
	assert.Equal(t, 2154, shape.EPSG)
	assert.Equal(t, 50.0, shape.Bound().Max[0])

	_, err = SplitAOI(src, out, "aoi", 3857, SplitFormat("shp"))
	assert.Error(t, err)
	_, err = SplitAOI(filepath.Join(dir, "missing.geojson"), out, "aoi", 3857, SplitGeoJSON)
	assert.Error(t, err)
}
