package gdal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landmask"
)

// OverviewBuilder runs the equivalent of gdaladdo -clean followed by
// gdaladdo -r nearest on a copy of the raster, and renames the copy over it.
type OverviewBuilder struct{}

func NewOverviewBuilder() *OverviewBuilder {
	Register()
	return &OverviewBuilder{}
}

func (b *OverviewBuilder) BuildOverviews(ctx context.Context, path string, factors []int) error {
	if err := landmask.ValidateOverviewFactors(factors); err != nil {
		return landmask.OverviewError{Path: path, Err: err}
	}
	tmp, err := landmask.TempPath(path)
	if err != nil {
		return landmask.OverviewError{Path: path, Err: err}
	}
	defer os.Remove(tmp)
	if err := copyFile(path, tmp); err != nil {
		return landmask.OverviewError{Path: path, Err: err}
	}
	if err := b.build(ctx, tmp, factors); err != nil {
		return landmask.OverviewError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return landmask.OverviewError{Path: path, Err: err}
	}
	return nil
}

func (b *OverviewBuilder) build(ctx context.Context, path string, factors []int) error {
	args := []string{"-r", "nearest", "--config", "COMPRESS_OVERVIEW", "DEFLATE", path}
	for _, f := range factors {
		args = append(args, strconv.Itoa(f))
	}
	logCommand(ctx, "gdaladdo", args...)

	ds, err := godal.Open(path, godal.RasterOnly(), godal.Update())
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := ds.ClearOverviews(godal.ErrLogger(errorHandler(ctx))); err != nil {
		ds.Close()
		return fmt.Errorf("clear overviews: %w", err)
	}
	if err := ds.BuildOverviews(
		godal.Levels(factors...),
		godal.Resampling(godal.Nearest),
		godal.ConfigOption("COMPRESS_OVERVIEW=DEFLATE", "SPARSE_OK_OVERVIEW=ON"),
	); err != nil {
		ds.Close()
		return fmt.Errorf("build overviews: %w", err)
	}
	return ds.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return landmask.WriteFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
