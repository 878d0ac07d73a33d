package landmask

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaster(w, h int) *Raster {
	g := Grid{OriginX: -100, OriginY: 50, Resolution: 5, Width: w, Height: h}
	r := NewRaster(g, 3857, 255, 255)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case x < w/3:
				// left third stays outside
			case (x+y)%3 == 0:
				r.Set(x, y, Land)
			default:
				r.Set(x, y, Water)
			}
		}
	}
	return r
}

func encode(t *testing.T, levels []*Raster, opts ...COGOption) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, WriteCOG(context.Background(), buf, levels, opts...))
	return buf.Bytes()
}

func TestCOGRoundTrip(t *testing.T) {
	src := testRaster(70, 45)
	src.Metadata = map[string]string{"LANDMASK_TILE": "aoi_00", "note": `a<b&"c"`}
	data := encode(t, []*Raster{src}, COGTileSize(32))

	got, err := ReadCOG(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, src.Grid, got.Grid)
	assert.Equal(t, 3857, got.EPSG)
	assert.True(t, got.HasNoData)
	assert.Equal(t, uint8(255), got.NoData)
	assert.Equal(t, src.Pix, got.Pix)
	assert.Equal(t, src.Metadata, got.Metadata)
	assert.Equal(t, src.Stats(), got.Stats())
}

func TestCOGDeterministic(t *testing.T) {
	a := encode(t, []*Raster{testRaster(300, 260)}, COGWorkers(7))
	b := encode(t, []*Raster{testRaster(300, 260)}, COGWorkers(1))
	assert.Equal(t, a, b)
}

func TestCOGSparseTiles(t *testing.T) {
	r := NewRaster(Grid{Resolution: 1, Width: 64, Height: 64}, 32631, 255, 255)
	r.Set(40, 40, Land)
	data := encode(t, []*Raster{r}, COGTileSize(32))

	full := NewRaster(Grid{Resolution: 1, Width: 64, Height: 64}, 32631, 255, 1)
	fullData := encode(t, []*Raster{full}, COGTileSize(32))
	assert.Less(t, len(data), len(fullData))

	got, err := ReadCOG(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, r.Pix, got.Pix)
	assert.Equal(t, Stats{Land: 1, NoData: 64*64 - 1}, got.Stats())
}

func TestCOGOverviews(t *testing.T) {
	base := testRaster(100, 60)
	b := NewNativeOverviewBuilder()
	ovrs, err := b.Downsample(context.Background(), base, []int{2, 4})
	require.NoError(t, err)
	data := encode(t, append([]*Raster{base}, ovrs...), COGTileSize(16))

	levels, err := ReadCOGLevels(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, base.Pix, levels[0].Pix)
	assert.Equal(t, 50, levels[1].Width)
	assert.Equal(t, 30, levels[1].Height)
	assert.Equal(t, 10.0, levels[1].Resolution)
	assert.Equal(t, 25, levels[2].Width)
	assert.Equal(t, 15, levels[2].Height)
	assert.Equal(t, ovrs[1].Pix, levels[2].Pix)
	assert.Equal(t, 3857, levels[2].EPSG)
}

func TestCOGBigTIFF(t *testing.T) {
	src := testRaster(50, 50)
	data := encode(t, []*Raster{src}, COGTileSize(16), func(o *cogOptions) { o.bigtiff = true })
	assert.Equal(t, []byte{'I', 'I', 43, 0}, data[:4])
	got, err := ReadCOG(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)
	assert.Equal(t, src.Grid, got.Grid)
}

func TestCOGGeographic(t *testing.T) {
	r := NewRaster(Grid{OriginX: -10, OriginY: 45, Resolution: 0.25, Width: 20, Height: 10}, 4326, 0, 0)
	got, err := ReadCOG(bytes.NewReader(encode(t, []*Raster{r})))
	require.NoError(t, err)
	assert.Equal(t, 4326, got.EPSG)
	assert.Equal(t, uint16(2), geoKeys(4326)[7])
	assert.Equal(t, r.Grid, got.Grid)
}

func TestCOGInvalid(t *testing.T) {
	r := testRaster(10, 10)
	assert.Error(t, WriteCOG(context.Background(), &bytes.Buffer{}, []*Raster{r}, COGTileSize(20)))
	assert.Error(t, WriteCOG(context.Background(), &bytes.Buffer{}, nil))
	_, err := ReadCOG(bytes.NewReader([]byte("not a tiff at all")))
	assert.Error(t, err)
}

func TestWriteCOGFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.tif")
	require.NoError(t, WriteCOGFile(context.Background(), p, []*Raster{testRaster(20, 20)}))
	got, err := ReadCOGFile(p)
	require.NoError(t, err)
	assert.Equal(t, testRaster(20, 20).Pix, got.Pix)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	before, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Error(t, WriteCOGFile(ctx, p, []*Raster{testRaster(600, 600)}, COGTileSize(16)))
	after, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
