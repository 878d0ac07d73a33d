package landmask

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func polygonJSON(p orb.Polygon) string {
	var rings []string
	for _, r := range p {
		var pts []string
		for _, pt := range r {
			pts = append(pts, fmt.Sprintf("[%g,%g]", pt[0], pt[1]))
		}
		rings = append(rings, "["+strings.Join(pts, ",")+"]")
	}
	return `{"type":"Polygon","coordinates":[` + strings.Join(rings, ",") + `]}`
}

// collectionJSON builds a FeatureCollection with one feature per polygon.
func collectionJSON(epsg int, polys ...orb.Polygon) string {
	var feats []string
	for _, p := range polys {
		feats = append(feats, `{"type":"Feature","properties":{},"geometry":`+polygonJSON(p)+`}`)
	}
	crs := ""
	if epsg != 0 {
		crs = fmt.Sprintf(`"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::%d"}},`, epsg)
	}
	return `{"type":"FeatureCollection",` + crs + `"features":[` + strings.Join(feats, ",") + `]}`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}
