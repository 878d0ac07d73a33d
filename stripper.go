package landmask

import (
	"fmt"
	"math"
)

// A Stripper splits a raster and its overviews into horizontal strips of
// roughly similar pixel counts, aligned on the internal tiling height, so
// that strips can be burned or downsampled concurrently.
type Stripper struct {
	targetStripPixelCount                     int
	internalTilingWidth, internalTilingHeight int
	factors                                   []int
	width, height                             int
	pyr                                       Pyramid
}

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

func (s Stripper) Size() (int, int) {
	return s.width, s.height
}

type StripperOption func(t *Stripper) error

// InternalTileSize sets the internal tiling size strips are aligned on.
func InternalTileSize(width, height int) StripperOption {
	return func(t *Stripper) error {
		if width <= 0 || height <= 0 {
			return ErrInvalidOption{"internal tile width and height must be >=1"}
		}
		t.internalTilingWidth, t.internalTilingHeight = width, height
		return nil
	}
}

// TargetPixelCount is the approximate number of pixels of a single strip,
// adjusted to fit the internal tiling size.
func TargetPixelCount(count int) StripperOption {
	return func(t *Stripper) error {
		if count <= 0 {
			return ErrInvalidOption{"target pixel count must be >=1"}
		}
		t.targetStripPixelCount = count
		return nil
	}
}

// OverviewFactors adds one overview level per factor. Factors are relative to
// the full resolution image.
func OverviewFactors(factors ...int) StripperOption {
	return func(t *Stripper) error {
		if err := ValidateOverviewFactors(factors); err != nil {
			return ErrInvalidOption{err.Error()}
		}
		t.factors = append([]int(nil), factors...)
		return nil
	}
}

// ValidateOverviewFactors checks that factors are strictly increasing integers
// greater than 1, each a multiple of the previous one.
func ValidateOverviewFactors(factors []int) error {
	prev := 1
	for _, f := range factors {
		if f <= prev {
			return fmt.Errorf("overview factors must be strictly increasing and >1, got %v", factors)
		}
		if f%prev != 0 {
			return fmt.Errorf("overview factor %d is not a multiple of %d", f, prev)
		}
		prev = f
	}
	return nil
}

// NewStripper creates a stripper for an image of the given size. Defaults are
// 64 MPixel strips, 256x256 internal tiling and no overviews.
func NewStripper(width, height int, options ...StripperOption) (Stripper, error) {
	t := Stripper{
		width:                 width,
		height:                height,
		targetStripPixelCount: 8192 * 8192,
		internalTilingWidth:   DefaultTileSize,
		internalTilingHeight:  DefaultTileSize,
	}
	for _, o := range options {
		if err := o(&t); err != nil {
			return t, err
		}
	}
	if width <= 0 || height <= 0 {
		return t, ErrInvalidOption{"cannot strip 0-sized image"}
	}
	t.pyr = t.pyramid()
	return t, nil
}

// A Strip is a Width*Height rectangle of an Image whose upper left corner is
// TopLeftX,TopLeftY.
type Strip struct {
	Width, Height      int
	TopLeftX, TopLeftY int
}

// An Image is one level of a Pyramid and its decomposition into strips.
type Image struct {
	// Factor is the decimation relative to the full resolution image, 1 for
	// the full resolution image itself.
	Factor        int
	Width, Height int
	Strips        []Strip
}

// A Pyramid is the full resolution Image followed by its overviews.
type Pyramid []Image

func (t Stripper) Pyramid() Pyramid {
	return t.pyr
}

func (t Stripper) pyramid() Pyramid {
	pyr := Pyramid{t.stripping(1)}
	for _, f := range t.factors {
		pyr = append(pyr, t.stripping(f))
	}
	return pyr
}

func (t Stripper) stripping(factor int) Image {
	dstWidth := (t.width + factor - 1) / factor
	dstHeight := (t.height + factor - 1) / factor
	numStrips := (dstWidth * dstHeight) / t.targetStripPixelCount
	if numStrips == 0 {
		numStrips = 1
	}
	stripHeight := dstHeight / numStrips
	if stripHeight <= t.internalTilingHeight {
		stripHeight = t.internalTilingHeight
	}
	if stripHeight%t.internalTilingHeight != 0 {
		stripHeight = (stripHeight/t.internalTilingHeight + 1) * t.internalTilingHeight
	}
	numStrips = int(math.Ceil(float64(dstHeight) / float64(stripHeight)))

	img := Image{Factor: factor, Width: dstWidth, Height: dstHeight}
	dstRow := 0
	for s := 0; s < numStrips; s++ {
		thisHeight := stripHeight
		if dstRow+stripHeight > dstHeight {
			thisHeight = dstHeight - dstRow
		}
		if s > 0 && thisHeight < t.internalTilingHeight {
			// fold a short trailing strip into its predecessor
			last := len(img.Strips) - 1
			img.Strips[last].Height += thisHeight
		} else {
			img.Strips = append(img.Strips, Strip{
				Width:    dstWidth,
				Height:   thisHeight,
				TopLeftX: 0,
				TopLeftY: dstRow,
			})
		}
		dstRow += stripHeight
	}
	return img
}
