package main

import (
	"github.com/airbusgeo/landmask"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagConfig holds the values of the configuration flags. Only the flags set
// on the command line override the configuration file.
type flagConfig struct {
	cfg    landmask.Config
	nodata string
}

func (fc *flagConfig) addCommon(fs *pflag.FlagSet) {
	d := landmask.DefaultConfig()
	fs.StringVar(&fc.cfg.InputDir, "input", "", "input directory")
	fs.StringVar(&fc.cfg.OutputDir, "output", "", "output directory")
	fs.IntVar(&fc.cfg.Workers, "workers", d.Workers, "number of concurrent workers")
	fs.BoolVar(&fc.cfg.Force, "force", false, "recompute outputs that already exist")
	fs.BoolVar(&fc.cfg.FailOnError, "fail-on-error", false, "exit with an error if any item failed")
}

func (fc *flagConfig) addBatch(fs *pflag.FlagSet) {
	d := landmask.DefaultConfig()
	fc.addCommon(fs)
	fs.Float64Var(&fc.cfg.Resolution, "resolution", 0, "pixel size in CRS units")
	fs.StringVar(&fc.cfg.LandPath, "land", "", "land polygons, geojson or fgb")
	fs.StringVar(&fc.nodata, "nodata", string(d.Nodata), "nodata semantic, water or background")
	fs.BoolVar(&fc.cfg.AllTouched, "all-touched", false, "burn every pixel touched by land")
	fs.IntSliceVar(&fc.cfg.OverviewFactors, "overviews", d.OverviewFactors, "overview factors")
	fs.StringVar(&fc.cfg.Backend, "backend", d.Backend, "stage implementation, native or gdal")
	fs.StringVar(&fc.cfg.Prefix, "prefix", d.Prefix, "AOI file name prefix")
	fs.StringVar(&fc.cfg.GDALSwitches, "gdal-switches", "", "extra gdal_rasterize switches for the gdal backend")
}

func (fc *flagConfig) addShard(fs *pflag.FlagSet) {
	d := landmask.DefaultConfig()
	fc.addCommon(fs)
	fs.IntVar(&fc.cfg.BucketCount, "buckets", d.BucketCount, "number of buckets, a power of 16")
	fs.StringVar(&fc.cfg.Encoding, "encoding", d.Encoding, "png, jpeg, tif or gdal:DRIVER")
}

// resolve loads the configuration file, if any, and applies the flags that
// were set.
func (fc *flagConfig) resolve(cmd *cobra.Command) (landmask.Config, error) {
	cfg := landmask.DefaultConfig()
	if configPath != "" {
		if err := landmask.LoadConfig(configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "input":
			cfg.InputDir = fc.cfg.InputDir
		case "output":
			cfg.OutputDir = fc.cfg.OutputDir
		case "workers":
			cfg.Workers = fc.cfg.Workers
		case "force":
			cfg.Force = fc.cfg.Force
		case "fail-on-error":
			cfg.FailOnError = fc.cfg.FailOnError
		case "resolution":
			cfg.Resolution = fc.cfg.Resolution
		case "land":
			cfg.LandPath = fc.cfg.LandPath
		case "nodata":
			cfg.Nodata = landmask.NodataSemantic(fc.nodata)
		case "all-touched":
			cfg.AllTouched = fc.cfg.AllTouched
		case "overviews":
			cfg.OverviewFactors = fc.cfg.OverviewFactors
		case "backend":
			cfg.Backend = fc.cfg.Backend
		case "prefix":
			cfg.Prefix = fc.cfg.Prefix
		case "gdal-switches":
			cfg.GDALSwitches = fc.cfg.GDALSwitches
		case "buckets":
			cfg.BucketCount = fc.cfg.BucketCount
		case "encoding":
			cfg.Encoding = fc.cfg.Encoding
		}
	})
	return cfg, nil
}
