package gdal

import (
	"testing"

	"github.com/airbusgeo/landmask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSwitches(t *testing.T) {
	sw, err := ParseSwitches(`-at -where "class = 'land'"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"-at", "-where", "class = 'land'"}, sw)

	sw, err = ParseSwitches("")
	require.NoError(t, err)
	assert.Empty(t, sw)

	for _, bad := range []string{"-te 0 0 1 1", "-tr 10 10", "-tap", "-burn 2", "-init 3", "-a_nodata 0", "-of PNG"} {
		_, err := ParseSwitches(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParseSwitches(`-where "unterminated`)
	assert.Error(t, err)
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, `gdal_rasterize -burn 1 'my clip.geojson' out.tif`,
		commandLine("gdal_rasterize", "-burn", "1", "my clip.geojson", "out.tif"))
}

func TestGridSwitches(t *testing.T) {
	grid, err := landmask.NewGrid(landmask.Extent{MinX: -100, MinY: -50, MaxX: 100, MaxY: 50}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-of", "GTiff", "-ot", "Byte", "-a_srs", "EPSG:3857",
		"-te", "-100", "-50", "100", "50",
		"-ts", "40", "20",
	}, gridSwitches(grid, 3857))
}

func TestNewRasterizer(t *testing.T) {
	r, err := NewRasterizer(landmask.NodataWater, true, "-where 'a=1'")
	require.NoError(t, err)
	assert.Equal(t, []string{"-burn", "1", "-at", "-where", "a=1"}, r.landSwitches())
	assert.Equal(t, []string{"-of", "GTiff", "-init", "255", "-a_nodata", "255", "-burn", "0"},
		r.aoiSwitches([]string{"-of", "GTiff"}))

	_, err = NewRasterizer("sea", false, "")
	assert.ErrorAs(t, err, &landmask.ConfigError{})
	_, err = NewRasterizer(landmask.NodataWater, false, "-init 4")
	assert.ErrorAs(t, err, &landmask.ConfigError{})
}

func TestNewEncoder(t *testing.T) {
	for enc, ext := range map[string]string{"gdal:PNG": "png", "gdal:GTiff": "tif", "gdal:JPEG": "jpg", "gdal:AAIGrid": "aaigrid"} {
		e, err := NewEncoder(enc)
		require.NoError(t, err)
		assert.Equal(t, ext, e.Extension())
		assert.True(t, IsEncoding(enc))
	}
	_, err := NewEncoder("png")
	assert.ErrorAs(t, err, &landmask.ConfigError{})
	_, err = NewEncoder("gdal:")
	assert.ErrorAs(t, err, &landmask.ConfigError{})
	assert.False(t, IsEncoding("png"))
}
