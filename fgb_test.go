package landmask

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFGBFile(t *testing.T, path string, epsg int, polys ...orb.Polygon) {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, WriteFGB(buf, polys, epsg))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestFGBRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "land.fgb")
	holed := square(100, 100, 200, 200)
	holed = append(holed, square(120, 120, 180, 180)[0])
	writeFGBFile(t, p, 2154, square(0, 0, 10, 10), holed)

	shape, err := ReadFGB(p)
	require.NoError(t, err)
	assert.Equal(t, 2154, shape.EPSG)
	require.Len(t, shape.Polygons, 2)
	var bounds []orb.Bound
	rings := 0
	for _, mp := range shape.Polygons {
		require.Len(t, mp, 1)
		bounds = append(bounds, mp.Bound())
		rings += len(mp[0])
	}
	assert.ElementsMatch(t, []orb.Bound{
		{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}},
		{Min: orb.Point{100, 100}, Max: orb.Point{200, 200}},
	}, bounds)
	assert.Equal(t, 3, rings)
}

func TestFGBLandLayer(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "land.fgb")
	writeFGBFile(t, p, 3857, square(0, 0, 10, 10), square(100, 100, 200, 200), square(150, 0, 160, 10))
	layer, err := OpenLandLayer(p)
	require.NoError(t, err)
	assert.Equal(t, 3857, layer.EPSG())
	got, err := layer.Query(context.Background(), orb.Bound{Min: orb.Point{90, 90}, Max: orb.Point{120, 120}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, orb.Point{100, 100}, got[0].Bound().Min)
}

func TestLoadAOIFromFGB(t *testing.T) {
	dir := t.TempDir()
	name := "aoi_04_2154.fgb"
	writeFGBFile(t, filepath.Join(dir, name), 2154, square(1000, 2000, 1500, 2600))
	tiles, err := ScanTiles(dir, "aoi")
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	aoi, err := LoadAOI(tiles[0])
	require.NoError(t, err)
	assert.Equal(t, Extent{1000, 2000, 1500, 2600}, aoi.Extent)

	e, err := ExtentOf(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "1000 2000 1500 2600", e.String())
}
