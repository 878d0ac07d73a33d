package landmask

import "fmt"

// ConfigError reports an invalid option. It is the only error kind that makes a
// batch run abort before any tile is processed.
type ConfigError struct {
	Option string
	Msg    string
}

func (e ConfigError) Error() string {
	if e.Option == "" {
		return "invalid configuration: " + e.Msg
	}
	return fmt.Sprintf("invalid option %s: %s", e.Option, e.Msg)
}

// ExtentParseError is returned when an AOI file cannot be turned into a usable extent.
type ExtentParseError struct {
	Tile string
	Err  error
}

func (e ExtentParseError) Error() string {
	return tileError("extent", e.Tile, e.Err)
}

func (e ExtentParseError) Unwrap() error { return e.Err }

// ClipError is returned when the land layer cannot be read or clipped.
type ClipError struct {
	Tile string
	Err  error
}

func (e ClipError) Error() string {
	return tileError("clip", e.Tile, e.Err)
}

func (e ClipError) Unwrap() error { return e.Err }

// RasterizeError covers burning, CRS mismatches and raster persistence.
type RasterizeError struct {
	Tile string
	Err  error
}

func (e RasterizeError) Error() string {
	return tileError("rasterize", e.Tile, e.Err)
}

func (e RasterizeError) Unwrap() error { return e.Err }

// OverviewError is returned when a raster's pyramid cannot be (re)built.
type OverviewError struct {
	Path string
	Err  error
}

func (e OverviewError) Error() string {
	return tileError("overviews", e.Path, e.Err)
}

func (e OverviewError) Unwrap() error { return e.Err }

func tileError(stage, subject string, err error) string {
	if subject == "" {
		return fmt.Sprintf("%s: %v", stage, err)
	}
	return fmt.Sprintf("%s %s: %v", stage, subject, err)
}

// EncodeError is returned when a source file cannot be decoded or re-encoded
// into the target format.
type EncodeError struct {
	File string
	Err  error
}

func (e EncodeError) Error() string {
	return tileError("encode", e.File, e.Err)
}

func (e EncodeError) Unwrap() error { return e.Err }

// CopyError is returned when a re-encoded file cannot be placed in its bucket.
type CopyError struct {
	File string
	Err  error
}

func (e CopyError) Error() string {
	return tileError("copy", e.File, e.Err)
}

func (e CopyError) Unwrap() error { return e.Err }
