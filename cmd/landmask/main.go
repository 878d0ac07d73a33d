package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airbusgeo/landmask"
	"github.com/airbusgeo/landmask/gdal"
	"github.com/airbusgeo/landmask/internal/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/yaml"
)

var verbose bool
var configPath string
var useGCS bool
var blocksize string
var numCachedBlocks int
var startTime time.Time

var rootCmd = &cobra.Command{
	Use:   "landmask",
	Short: "land mask rasterization and dataset sharding",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		if !verbose {
			log.Structured()
		} else {
			log.SetLevel(zapcore.DebugLevel)
		}
		if useGCS {
			if err := gdal.RegisterGCS(cmd.Context(), blocksize, numCachedBlocks); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
			cmd.Name(), time.Since(startTime).Seconds())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "yaml configuration file, overridden by flags")
	rootCmd.PersistentFlags().BoolVar(&useGCS, "gcs", false, "allow gs:// paths in the gdal backend")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.AddCommand(newExtentCommand(), newSplitCommand(), newBatchCommand(),
		newOverviewsCommand(), newShardCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.As(err, &landmask.ConfigError{}) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// printYAML writes v to stdout, for summaries meant to be piped.
func printYAML(ctx context.Context, v interface{}) {
	yb, err := yaml.Marshal(v)
	if err != nil {
		log.Logger(ctx).Error("marshal summary", zap.Error(err))
		return
	}
	fmt.Print(string(yb))
}

func newExtentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extent aoi.geojson...",
		Short: "print the extent of AOI files as xmin ymin xmax ymax",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				e, err := landmask.ExtentOf(path)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Println(e)
				} else {
					fmt.Println(path, e)
				}
			}
			return nil
		},
	}
}

func newSplitCommand() *cobra.Command {
	var output, prefix, format string
	var epsg int
	cmd := &cobra.Command{
		Use:   "split aois.geojson",
		Short: "explode a multi-part AOI collection into one tile file per polygon",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			switch landmask.SplitFormat(format) {
			case landmask.SplitGeoJSON, landmask.SplitFGB:
			default:
				return landmask.ConfigError{Option: "format", Msg: fmt.Sprintf("must be geojson or fgb, got %q", format)}
			}
			if epsg <= 0 {
				return landmask.ConfigError{Option: "epsg", Msg: "required"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := landmask.SplitAOI(args[0], output, prefix, epsg, landmask.SplitFormat(format))
			if err != nil {
				return err
			}
			log.Logger(cmd.Context()).Info("split aoi",
				zap.String("src", args[0]),
				zap.Int("parts", len(paths)))
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", ".", "output directory")
	cmd.Flags().StringVar(&prefix, "prefix", "aoi", "tile name prefix")
	cmd.Flags().StringVar(&format, "format", string(landmask.SplitGeoJSON), "output format, geojson or fgb")
	cmd.Flags().IntVar(&epsg, "epsg", 0, "epsg code of the AOI coordinates")
	cmd.MarkFlagRequired("epsg")
	return cmd
}
