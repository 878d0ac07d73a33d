package main

import (
	"fmt"

	"github.com/airbusgeo/landmask"
	"github.com/airbusgeo/landmask/batch"
	"github.com/airbusgeo/landmask/gdal"
	"github.com/airbusgeo/landmask/internal/log"
	"github.com/airbusgeo/landmask/shard"
	"github.com/spf13/cobra"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// batchOptions returns the stage implementations of the configured backend.
func batchOptions(cfg landmask.Config) ([]batch.Option, error) {
	if cfg.Backend != landmask.BackendGDAL {
		return nil, nil
	}
	r, err := gdal.NewRasterizer(cfg.Nodata, cfg.AllTouched, cfg.GDALSwitches)
	if err != nil {
		return nil, err
	}
	return []batch.Option{
		batch.WithClipper(gdal.NewClipper(cfg.LandPath)),
		batch.WithRasterizer(r),
		batch.WithOverviewBuilder(gdal.NewOverviewBuilder()),
	}, nil
}

func newBatchCommand() *cobra.Command {
	fc := &flagConfig{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "clip, rasterize and build overviews for every AOI tile of a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := fc.resolve(cmd)
			if err != nil {
				return err
			}
			opts, err := batchOptions(cfg)
			if err != nil {
				return err
			}
			o, err := batch.New(cfg, opts...)
			if err != nil {
				return err
			}
			sum, err := o.Run(cmd.Context())
			printYAML(cmd.Context(), sum)
			return err
		},
	}
	fc.addBatch(cmd.Flags())
	return cmd
}

func newOverviewsCommand() *cobra.Command {
	fc := &flagConfig{}
	cmd := &cobra.Command{
		Use:   "overviews raster.tif...",
		Short: "(re)build the overviews of existing land mask rasters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := fc.resolve(cmd)
			if err != nil {
				return err
			}
			if err := landmask.ValidateOverviewFactors(cfg.OverviewFactors); err != nil {
				return landmask.ConfigError{Option: "overviews", Msg: err.Error()}
			}
			var builder landmask.OverviewBuilder
			switch cfg.Backend {
			case landmask.BackendNative:
				builder = landmask.NewNativeOverviewBuilder()
			case landmask.BackendGDAL:
				builder = gdal.NewOverviewBuilder()
			default:
				return landmask.ConfigError{Option: "backend", Msg: fmt.Sprintf("unknown backend %q", cfg.Backend)}
			}

			p := gobs.NewPool(max(cfg.Workers, 1))
			b := p.Batch()
			for _, path := range args {
				if ctx.Err() != nil {
					break
				}
				path := path
				b.Submit(func() error {
					if err := builder.BuildOverviews(ctx, path, cfg.OverviewFactors); err != nil {
						return err
					}
					log.Logger(ctx).Info("overviews built", zap.String("raster", path),
						zap.Ints("factors", cfg.OverviewFactors))
					return nil
				})
			}
			if err := b.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		},
	}
	fs := cmd.Flags()
	d := landmask.DefaultConfig()
	fs.IntSliceVar(&fc.cfg.OverviewFactors, "overviews", d.OverviewFactors, "overview factors")
	fs.StringVar(&fc.cfg.Backend, "backend", d.Backend, "stage implementation, native or gdal")
	fs.IntVar(&fc.cfg.Workers, "workers", d.Workers, "number of rasters processed concurrently")
	return cmd
}

func newShardCommand() *cobra.Command {
	fc := &flagConfig{}
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "re-encode files into hash addressed buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := fc.resolve(cmd)
			if err != nil {
				return err
			}
			var enc shard.Encoder
			if gdal.IsEncoding(cfg.Encoding) {
				if enc, err = gdal.NewEncoder(cfg.Encoding); err != nil {
					return err
				}
			}
			s, err := shard.New(cfg, enc)
			if err != nil {
				return err
			}
			sum, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}
			printYAML(cmd.Context(), sum)
			if cfg.FailOnError && sum.Failed > 0 {
				return fmt.Errorf("%d files failed", sum.Failed)
			}
			return nil
		},
	}
	fc.addShard(cmd.Flags())
	return cmd
}
