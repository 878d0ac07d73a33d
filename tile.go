package landmask

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tile identifies one AOI file of a batch. Files are named
// <prefix>_<index>_<epsg>.<ext> with ext one of geojson, json or fgb.
type Tile struct {
	// ID is "<prefix>_<index>", unique within a batch.
	ID    string
	EPSG  int
	Path  string
	Index string
}

// Stem is the file name without extension, used as the base of every
// artifact produced for the tile.
func (t Tile) Stem() string {
	return fmt.Sprintf("%s_%d", t.ID, t.EPSG)
}

// ClipName is the file name of the clipped land vector.
func (t Tile) ClipName() string {
	return t.Stem() + "_clip.geojson"
}

// RasterName is the file name of the raster produced at resolution res.
func (t Tile) RasterName(res float64) string {
	return fmt.Sprintf("%s_%sm.tif", t.Stem(), FormatResolution(res))
}

// ManifestName is the completion marker written once every stage succeeded.
func (t Tile) ManifestName(res float64) string {
	return fmt.Sprintf("%s_%sm.done.yaml", t.Stem(), FormatResolution(res))
}

// FormatResolution prints res with the shortest exact representation, so 5
// gives "5" and 0.5 gives "0.5".
func FormatResolution(res float64) string {
	return strconv.FormatFloat(res, 'f', -1, 64)
}

func tilePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^(` + regexp.QuoteMeta(prefix) + `)_([A-Za-z0-9]+)_([0-9]+)\.(geojson|json|fgb)$`)
}

// ParseTileName decodes an AOI file name. ok is false when the name does not
// follow the naming convention for prefix.
func ParseTileName(prefix, name string) (Tile, bool) {
	m := tilePattern(prefix).FindStringSubmatch(name)
	if m == nil {
		return Tile{}, false
	}
	epsg, err := strconv.Atoi(m[3])
	if err != nil || epsg <= 0 {
		return Tile{}, false
	}
	return Tile{ID: m[1] + "_" + m[2], Index: m[2], EPSG: epsg, Path: name}, true
}

// ScanTiles lists the AOI files of dir, sorted by id. Files not matching the
// naming convention are ignored.
func ScanTiles(dir, prefix string) ([]Tile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ConfigError{Option: "input", Msg: err.Error()}
	}
	re := tilePattern(prefix)
	seen := map[string]string{}
	var tiles []Tile
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		t, ok := ParseTileName(prefix, e.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[t.ID]; dup {
			return nil, ConfigError{Option: "input",
				Msg: fmt.Sprintf("tile %s is defined by both %s and %s", t.ID, prev, e.Name())}
		}
		seen[t.ID] = e.Name()
		t.Path = filepath.Join(dir, e.Name())
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		return strings.Compare(tiles[i].ID, tiles[j].ID) < 0
	})
	return tiles, nil
}
