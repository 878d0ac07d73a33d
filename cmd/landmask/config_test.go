package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/landmask"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landmask.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolution: 10\nworkers: 3\nnodata: background\noverviews: [2, 4]\n"), 0o644))
	configPath = path
	defer func() { configPath = "" }()

	fc := &flagConfig{}
	cmd := &cobra.Command{Use: "batch"}
	fc.addBatch(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "7", "--all-touched", "--input", "in"}))

	cfg, err := fc.resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Resolution)
	assert.Equal(t, 7, cfg.Workers)
	assert.True(t, cfg.AllTouched)
	assert.Equal(t, "in", cfg.InputDir)
	assert.Equal(t, landmask.NodataBackground, cfg.Nodata)
	assert.Equal(t, []int{2, 4}, cfg.OverviewFactors)
	assert.Equal(t, "aoi", cfg.Prefix)
}

func TestConfigFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landmask.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolutoin: 10\n"), 0o644))
	configPath = path
	defer func() { configPath = "" }()

	fc := &flagConfig{}
	cmd := &cobra.Command{Use: "shard"}
	fc.addShard(cmd.Flags())
	_, err := fc.resolve(cmd)
	assert.ErrorAs(t, err, &landmask.ConfigError{})
}

func TestBatchOptions(t *testing.T) {
	cfg := landmask.DefaultConfig()
	opts, err := batchOptions(cfg)
	require.NoError(t, err)
	assert.Empty(t, opts)

	cfg.Backend = landmask.BackendGDAL
	cfg.GDALSwitches = "-tap"
	_, err = batchOptions(cfg)
	assert.ErrorAs(t, err, &landmask.ConfigError{})
}
