package gdal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landmask"
)

var extensions = map[string]string{
	"GTIFF":       "tif",
	"COG":         "tif",
	"PNG":         "png",
	"JPEG":        "jpg",
	"WEBP":        "webp",
	"JP2OPENJPEG": "jp2",
}

// Encoder re-encodes rasters with gdal_translate -of Driver.
type Encoder struct {
	Driver string
	ext    string
}

// NewEncoder parses an encoding of the form gdal:DRIVER.
func NewEncoder(encoding string) (*Encoder, error) {
	driver, ok := strings.CutPrefix(encoding, "gdal:")
	if !ok || driver == "" {
		return nil, landmask.ConfigError{Option: "encoding", Msg: fmt.Sprintf("%q is not of the form gdal:DRIVER", encoding)}
	}
	ext, ok := extensions[strings.ToUpper(driver)]
	if !ok {
		ext = strings.ToLower(driver)
	}
	Register()
	return &Encoder{Driver: driver, ext: ext}, nil
}

// IsEncoding reports whether encoding selects a gdal driver.
func IsEncoding(encoding string) bool {
	return strings.HasPrefix(encoding, "gdal:")
}

func (e *Encoder) Extension() string { return e.ext }

func (e *Encoder) Encode(ctx context.Context, src, dst string) error {
	ds, err := godal.Open(src, godal.RasterOnly())
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer ds.Close()
	tmp, err := landmask.TempPath(dst)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := ctx.Err(); err != nil {
		return err
	}
	switches := []string{"-of", e.Driver}
	logCommand(ctx, "gdal_translate", append(append([]string{}, switches...), src, tmp)...)
	out, err := ds.Translate(tmp, switches, godal.ConfigOption("GDAL_PAM_ENABLED=NO"))
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}
