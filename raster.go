package landmask

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// maxPixels bounds the size of a single in-memory raster.
const maxPixels = 1 << 34

// alignTolerance absorbs floating point noise when snapping coordinates that
// are meant to be exact multiples of the resolution.
const alignTolerance = 1e-9

// Grid is a north-up pixel grid. The origin is the top-left corner.
type Grid struct {
	OriginX, OriginY float64
	Resolution       float64
	Width, Height    int
}

// NewGrid snaps e outwards to multiples of res, so that every raster produced
// at the same resolution shares pixel boundaries:
//
//	xmin' = floor(xmin/res)*res   xmax' = ceil(xmax/res)*res
//
// and likewise along y.
func NewGrid(e Extent, res float64) (Grid, error) {
	if !(res > 0) || math.IsInf(res, 0) {
		return Grid{}, fmt.Errorf("invalid resolution %v", res)
	}
	ixmin := math.Floor(e.MinX/res + alignTolerance)
	ixmax := math.Ceil(e.MaxX/res - alignTolerance)
	iymin := math.Floor(e.MinY/res + alignTolerance)
	iymax := math.Ceil(e.MaxY/res - alignTolerance)
	if ixmax <= ixmin {
		ixmax = ixmin + 1
	}
	if iymax <= iymin {
		iymax = iymin + 1
	}
	w, h := ixmax-ixmin, iymax-iymin
	if w*h > maxPixels {
		return Grid{}, fmt.Errorf("grid of %.0fx%.0f pixels is too large", w, h)
	}
	return Grid{
		OriginX:    ixmin * res,
		OriginY:    iymax * res,
		Resolution: res,
		Width:      int(w),
		Height:     int(h),
	}, nil
}

// Extent returns the area covered by the grid.
func (g Grid) Extent() Extent {
	return Extent{
		MinX: g.OriginX,
		MinY: g.OriginY - float64(g.Height)*g.Resolution,
		MaxX: g.OriginX + float64(g.Width)*g.Resolution,
		MaxY: g.OriginY,
	}
}

// Center returns the coordinates of the center of pixel (col,row).
func (g Grid) Center(col, row int) orb.Point {
	return orb.Point{
		g.OriginX + (float64(col)+0.5)*g.Resolution,
		g.OriginY - (float64(row)+0.5)*g.Resolution,
	}
}

// Aligned reports whether the grid corners are multiples of the resolution.
func (g Grid) Aligned() bool {
	e := g.Extent()
	for _, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY} {
		q := v / g.Resolution
		if math.Abs(q-math.Round(q)) > 1e-6 {
			return false
		}
	}
	return true
}

// Overview returns the grid of an overview level decimated by factor.
func (g Grid) Overview(factor int) Grid {
	return Grid{
		OriginX:    g.OriginX,
		OriginY:    g.OriginY,
		Resolution: g.Resolution * float64(factor),
		Width:      (g.Width + factor - 1) / factor,
		Height:     (g.Height + factor - 1) / factor,
	}
}

// NodataSemantic selects which pixels are flagged as nodata in a land mask.
type NodataSemantic string

const (
	// NodataWater keeps water distinct from nodata: land=1, water=0 and pixels
	// outside the AOI polygon are 255.
	NodataWater NodataSemantic = "water"
	// NodataBackground marks every unburned pixel 0 and declares 0 as nodata,
	// so water and outside-AOI pixels are indistinguishable.
	NodataBackground NodataSemantic = "background"
)

const (
	Land    uint8 = 1
	Water   uint8 = 0
	Outside uint8 = 255
)

// Valid reports whether s is a known semantic.
func (s NodataSemantic) Valid() bool {
	return s == NodataWater || s == NodataBackground
}

// NoData returns the sentinel declared in rasters for s.
func (s NodataSemantic) NoData() uint8 {
	if s == NodataBackground {
		return 0
	}
	return Outside
}

// Raster is a single band 8-bit raster.
type Raster struct {
	Grid
	EPSG      int
	NoData    uint8
	HasNoData bool
	Pix       []uint8
	// Metadata is written to the GDAL metadata tag, keys sorted.
	Metadata map[string]string
}

// NewRaster allocates a raster with every pixel set to fill.
func NewRaster(g Grid, epsg int, nodata uint8, fill uint8) *Raster {
	r := &Raster{Grid: g, EPSG: epsg, NoData: nodata, HasNoData: true,
		Pix: make([]uint8, g.Width*g.Height)}
	if fill != 0 {
		for i := range r.Pix {
			r.Pix[i] = fill
		}
	}
	return r
}

func (r *Raster) At(col, row int) uint8 {
	return r.Pix[row*r.Width+col]
}

func (r *Raster) Set(col, row int, v uint8) {
	r.Pix[row*r.Width+col] = v
}

// Stats counts pixels by class. Land is 1, nodata is the raster's sentinel and
// every other value is water.
type Stats struct {
	Land   int64 `json:"land"`
	Water  int64 `json:"water"`
	NoData int64 `json:"nodata"`
}

// LandFraction is land/(land+water), 0 when no pixel is valid.
func (s Stats) LandFraction() float64 {
	valid := s.Land + s.Water
	if valid == 0 {
		return 0
	}
	return float64(s.Land) / float64(valid)
}

// Stats computes the pixel class counts of r.
func (r *Raster) Stats() Stats {
	var hist [256]int64
	for _, v := range r.Pix {
		hist[v]++
	}
	var s Stats
	for v, n := range hist {
		switch {
		case r.HasNoData && uint8(v) == r.NoData:
			s.NoData += n
		case uint8(v) == Land:
			s.Land += n
		default:
			s.Water += n
		}
	}
	return s
}
