package landmask

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	BackendNative = "native"
	BackendGDAL   = "gdal"
)

// Config gathers every option of a batch or shard run. It is read from a yaml
// file and overridden by command line flags.
type Config struct {
	Resolution      float64        `json:"resolution"`
	InputDir        string         `json:"input"`
	OutputDir       string         `json:"output"`
	LandPath        string         `json:"land"`
	Nodata          NodataSemantic `json:"nodata"`
	AllTouched      bool           `json:"allTouched"`
	OverviewFactors []int          `json:"overviews"`
	BucketCount     int            `json:"buckets"`
	Encoding        string         `json:"encoding"`
	Workers         int            `json:"workers"`
	Backend         string         `json:"backend"`
	Prefix          string         `json:"prefix"`
	FailOnError     bool           `json:"failOnError"`
	Force           bool           `json:"force"`
	// GDALSwitches are appended to the gdal_rasterize arguments of the gdal backend.
	GDALSwitches string `json:"gdalSwitches,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Nodata:          NodataWater,
		OverviewFactors: []int{2, 4, 8, 16, 32, 64},
		BucketCount:     256,
		Encoding:        "png",
		Workers:         runtime.NumCPU(),
		Backend:         BackendNative,
		Prefix:          "aoi",
	}
}

// LoadConfig overlays the yaml file at path onto cfg. Unknown keys are
// rejected.
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigError{Option: "config", Msg: err.Error()}
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return ConfigError{Option: "config", Msg: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return nil
}

func requireDir(option, path string) error {
	if path == "" {
		return ConfigError{Option: option, Msg: "required"}
	}
	st, err := os.Stat(path)
	if err != nil {
		return ConfigError{Option: option, Msg: err.Error()}
	}
	if !st.IsDir() {
		return ConfigError{Option: option, Msg: path + " is not a directory"}
	}
	return nil
}

func (c Config) validateCommon() error {
	if err := requireDir("input", c.InputDir); err != nil {
		return err
	}
	if c.OutputDir == "" {
		return ConfigError{Option: "output", Msg: "required"}
	}
	if c.Workers < 1 {
		return ConfigError{Option: "workers", Msg: fmt.Sprintf("must be >=1, got %d", c.Workers)}
	}
	return nil
}

// ValidateBatch checks the options used by the batch orchestrator.
func (c Config) ValidateBatch() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if !(c.Resolution > 0) {
		return ConfigError{Option: "resolution", Msg: fmt.Sprintf("must be >0, got %v", c.Resolution)}
	}
	if c.LandPath == "" {
		return ConfigError{Option: "land", Msg: "required"}
	}
	if _, err := os.Stat(c.LandPath); err != nil {
		return ConfigError{Option: "land", Msg: err.Error()}
	}
	if !c.Nodata.Valid() {
		return ConfigError{Option: "nodata", Msg: fmt.Sprintf("must be %q or %q, got %q", NodataWater, NodataBackground, c.Nodata)}
	}
	if err := ValidateOverviewFactors(c.OverviewFactors); err != nil {
		return ConfigError{Option: "overviews", Msg: err.Error()}
	}
	if c.Backend != BackendNative && c.Backend != BackendGDAL {
		return ConfigError{Option: "backend", Msg: fmt.Sprintf("must be %q or %q, got %q", BackendNative, BackendGDAL, c.Backend)}
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, `_/\`) {
		return ConfigError{Option: "prefix", Msg: fmt.Sprintf("invalid prefix %q", c.Prefix)}
	}
	return nil
}

// ValidateShard checks the options used by the sharding engine.
func (c Config) ValidateShard() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Encoding == "" {
		return ConfigError{Option: "encoding", Msg: "required"}
	}
	if _, err := PrefixWidth(c.BucketCount); err != nil {
		return ConfigError{Option: "buckets", Msg: err.Error()}
	}
	return nil
}

// PrefixWidth returns the number of hex characters addressing buckets
// distinct buckets. buckets must be a power of 16.
func PrefixWidth(buckets int) (int, error) {
	width := 0
	for n := buckets; n > 1; n /= 16 {
		if n%16 != 0 {
			return 0, fmt.Errorf("bucket count %d is not a power of 16", buckets)
		}
		width++
	}
	if width == 0 || width > 8 {
		return 0, fmt.Errorf("bucket count %d is not a power of 16 between 16 and 16^8", buckets)
	}
	return width, nil
}
