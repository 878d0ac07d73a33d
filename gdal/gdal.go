// Package gdal implements the landmask stages on top of GDAL, through the
// godal bindings. Each stage is the library equivalent of one of the
// ogr2ogr, gdal_rasterize, gdaladdo and gdal_translate invocations, and logs
// that command line at debug level.
package gdal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landmask/internal/log"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/alessio/shellescape"
	shellwords "github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// Register loads the gdal drivers. It is safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// RegisterGCS makes gs:// paths readable by every stage of this package.
// blocksize is an osio size such as "512k".
func RegisterGCS(ctx context.Context, blocksize string, numBlocks int) error {
	stcl, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage.newclient: %w", err)
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numBlocks))
	if err != nil {
		return fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		return fmt.Errorf("register osio: %w", err)
	}
	return nil
}

// reserved are the gdal_rasterize switches computed from the tile grid and the
// nodata semantic.
var reserved = map[string]bool{
	"-te": true, "-tr": true, "-ts": true, "-tap": true, "-of": true, "-ot": true,
	"-burn": true, "-init": true, "-a_nodata": true, "-a_srs": true, "-a": true,
}

// ParseSwitches splits extra gdal_rasterize switches the way a shell would and
// rejects the ones that would change the grid or the pixel values.
func ParseSwitches(sw string) ([]string, error) {
	switches, err := shellwords.Parse(sw)
	if err != nil {
		return nil, fmt.Errorf("invalid gdal switches: %w", err)
	}
	for _, s := range switches {
		if reserved[s] {
			return nil, fmt.Errorf("%s switch not allowed", s)
		}
	}
	return switches, nil
}

// commandLine renders the shell equivalent of a godal call.
func commandLine(program string, args ...string) string {
	return shellescape.QuoteCommand(append([]string{program}, args...))
}

func logCommand(ctx context.Context, program string, args ...string) {
	log.Logger(ctx).Debug("gdal", zap.String("command", commandLine(program, args...)))
}

// errorHandler forwards gdal warnings and debug messages to the context
// logger. Failures are returned so that the godal call fails.
func errorHandler(ctx context.Context) godal.ErrorHandler {
	l := log.Logger(ctx)
	return func(ec godal.ErrorCategory, code int, msg string) error {
		msg = strings.TrimSpace(msg)
		switch ec {
		case godal.CE_Debug, godal.CE_None:
			l.Debug(msg, zap.Int("gdalCode", code))
			return nil
		case godal.CE_Warning:
			l.Warn(msg, zap.Int("gdalCode", code))
			return nil
		}
		return fmt.Errorf("gdal error %d: %s", code, msg)
	}
}

func epsgSRS(epsg int) string {
	return fmt.Sprintf("EPSG:%d", epsg)
}

func g(v float64) string {
	return fmt.Sprintf("%.10g", v)
}
