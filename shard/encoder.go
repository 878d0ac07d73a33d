package shard

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/landmask"
)

// An Encoder re-encodes the raster at src into dst. dst is written through a
// temporary file, so it is either complete or left untouched.
type Encoder interface {
	// Extension of the produced files, without the leading dot.
	Extension() string
	Encode(ctx context.Context, src, dst string) error
}

// NewEncoder returns the pure Go encoder for name: png, jpeg (or jpg) or tif.
func NewEncoder(name string) (Encoder, error) {
	switch strings.ToLower(name) {
	case "png":
		return imageEncoder{ext: "png", encode: func(w io.Writer, img image.Image) error {
			enc := png.Encoder{CompressionLevel: png.BestCompression}
			return enc.Encode(w, img)
		}}, nil
	case "jpeg", "jpg":
		return imageEncoder{ext: "jpg", encode: func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
		}}, nil
	case "tif", "tiff", "cog":
		return cogEncoder{}, nil
	}
	return nil, landmask.ConfigError{Option: "encoding", Msg: fmt.Sprintf("unsupported encoding %q", name)}
}

func isTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// decodeImage reads a tiff mask through the geotiff reader and any other
// format through the image decoders registered by this package.
func decodeImage(path string) (image.Image, error) {
	if isTIFF(path) {
		r, err := landmask.ReadCOGFile(path)
		if err != nil {
			return nil, err
		}
		return &image.Gray{Pix: r.Pix, Stride: r.Width, Rect: image.Rect(0, 0, r.Width, r.Height)}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

type imageEncoder struct {
	ext    string
	encode func(io.Writer, image.Image) error
}

func (e imageEncoder) Extension() string { return e.ext }

func (e imageEncoder) Encode(ctx context.Context, src, dst string) error {
	img, err := decodeImage(src)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return landmask.WriteFileAtomic(dst, func(w io.Writer) error {
		return e.encode(w, img)
	})
}

// cogEncoder rewrites tiffs as cloud optimized geotiffs, keeping their
// overviews and georeferencing. Other images become ungeoreferenced tiffs.
type cogEncoder struct{}

func (cogEncoder) Extension() string { return "tif" }

func (cogEncoder) Encode(ctx context.Context, src, dst string) error {
	var levels []*landmask.Raster
	if isTIFF(src) {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		if levels, err = landmask.ReadCOGLevels(f); err != nil {
			return err
		}
	} else {
		img, err := decodeImage(src)
		if err != nil {
			return err
		}
		levels = []*landmask.Raster{grayRaster(img)}
	}
	return landmask.WriteCOGFile(ctx, dst, levels)
}

func grayRaster(img image.Image) *landmask.Raster {
	b := img.Bounds()
	r := &landmask.Raster{
		Grid: landmask.Grid{Resolution: 1, Width: b.Dx(), Height: b.Dy()},
		Pix:  make([]uint8, b.Dx()*b.Dy()),
	}
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	for y := 0; y < b.Dy(); y++ {
		copy(r.Pix[y*b.Dx():(y+1)*b.Dx()], gray.Pix[y*gray.Stride:y*gray.Stride+b.Dx()])
	}
	return r
}
