package batch

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/airbusgeo/landmask"
	"github.com/zeebo/blake3"
	"sigs.k8s.io/yaml"
)

// fingerprintVersion is bumped whenever the meaning of a parameter or the
// layout of produced artifacts changes, invalidating every manifest.
const fingerprintVersion = 1

// Manifest is written next to a tile's raster once every stage succeeded. A
// tile is only skipped on resume when its manifest fingerprint matches the
// current parameters.
type Manifest struct {
	Tile         string         `json:"tile"`
	Fingerprint  string         `json:"fingerprint"`
	Resolution   float64        `json:"resolution"`
	Extent       string         `json:"extent"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Clip         string         `json:"clip"`
	Raster       string         `json:"raster"`
	Features     int            `json:"features"`
	Overviews    []int          `json:"overviews,omitempty"`
	Stats        landmask.Stats `json:"stats"`
	LandFraction float64        `json:"landFraction"`
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return landmask.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// runParams holds the part of the fingerprint shared by every tile of a run.
type runParams []byte

func newRunParams(cfg landmask.Config) (runParams, error) {
	st, err := os.Stat(cfg.LandPath)
	if err != nil {
		return nil, landmask.ConfigError{Option: "land", Msg: err.Error()}
	}
	land, err := filepath.Abs(cfg.LandPath)
	if err != nil {
		land = cfg.LandPath
	}
	p := fmt.Sprintf("version=%d\nresolution=%s\nnodata=%s\nallTouched=%t\noverviews=%v\nbackend=%s\nswitches=%q\nland=%s:%d:%d\n",
		fingerprintVersion,
		landmask.FormatResolution(cfg.Resolution),
		cfg.Nodata,
		cfg.AllTouched,
		cfg.OverviewFactors,
		cfg.Backend,
		cfg.GDALSwitches,
		land, st.Size(), st.ModTime().UnixNano(),
	)
	return runParams(p), nil
}

// fingerprint hashes the run parameters together with the tile's AOI content.
func (p runParams) fingerprint(t landmask.Tile) (string, error) {
	aoi, err := os.ReadFile(t.Path)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	_, _ = h.Write(p)
	_, _ = h.Write([]byte("aoi=" + t.ID + ":" + strconv.Itoa(t.EPSG) + "\n"))
	_, _ = h.Write(aoi)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// completed reports whether a previous run left a manifest matching fp, with
// every artifact it names still present.
func completed(dir, manifestPath, fp string) (Manifest, bool) {
	m, err := readManifest(manifestPath)
	if err != nil || m.Fingerprint != fp {
		return m, false
	}
	for _, name := range []string{m.Clip, m.Raster} {
		if name == "" {
			return m, false
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return m, false
		}
	}
	return m, true
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
