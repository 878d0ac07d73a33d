package landmask

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/klauspost/compress/zlib"
)

func sanityCheckIFD(ifd tiff.IFD) error {
	to := ifd.GetField(324)
	tl := ifd.GetField(325)
	if to == nil || tl == nil {
		return fmt.Errorf("no tiles")
	}
	if to.Count() != tl.Count() {
		return fmt.Errorf("inconsistent tile off/len count")
	}
	if ifd.GetField(272) != nil || ifd.GetField(279) != nil {
		return fmt.Errorf("tif has strips")
	}
	return nil
}

func loadIFD(tifd tiff.IFD) (*IFD, error) {
	if err := sanityCheckIFD(tifd); err != nil {
		return nil, err
	}
	ifd := &IFD{}
	if err := tiff.UnmarshalIFD(tifd, ifd); err != nil {
		return nil, err
	}
	if ifd.TileWidth == 0 || ifd.TileLength == 0 {
		return nil, fmt.Errorf("missing tile size")
	}
	ifd.TileByteCounts = make([]uint32, len(ifd.TempTileByteCounts))
	for i := range ifd.TempTileByteCounts {
		ifd.TileByteCounts[i] = uint32(ifd.TempTileByteCounts[i])
	}
	ifd.TempTileByteCounts = nil
	ifd.ntilesx = (ifd.ImageWidth + uint64(ifd.TileWidth) - 1) / uint64(ifd.TileWidth)
	ifd.ntilesy = (ifd.ImageLength + uint64(ifd.TileLength) - 1) / uint64(ifd.TileLength)
	if uint64(len(ifd.OriginalTileOffsets)) != ifd.ntilesx*ifd.ntilesy {
		return nil, fmt.Errorf("expected %d tiles, got %d", ifd.ntilesx*ifd.ntilesy, len(ifd.OriginalTileOffsets))
	}
	return ifd, nil
}

func checkDecodable(ifd *IFD) error {
	for _, b := range ifd.BitsPerSample {
		if b != 8 {
			return fmt.Errorf("unsupported %d bits per sample", b)
		}
	}
	if ifd.SamplesPerPixel > 1 {
		return fmt.Errorf("unsupported %d samples per pixel", ifd.SamplesPerPixel)
	}
	for _, sf := range ifd.SampleFormat {
		if sf != 1 {
			return fmt.Errorf("unsupported sample format %d", sf)
		}
	}
	switch ifd.Compression {
	case 0, CompressionNone, CompressionDeflate, CompressionAdobeDeflate:
	default:
		return fmt.Errorf("unsupported compression %d", ifd.Compression)
	}
	switch ifd.Predictor {
	case 0, PredictorNone, PredictorHorizontal:
	default:
		return fmt.Errorf("unsupported predictor %d", ifd.Predictor)
	}
	return nil
}

// ReadCOGLevels decodes a tiled 8-bit single band tiff: the full resolution
// image first, then its overviews by decreasing size. Mask images are skipped.
func ReadCOGLevels(r tiff.ReadAtReadSeeker) ([]*Raster, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("parse tiff: %w", err)
	}
	var ifds []*IFD
	for i, tifd := range tif.IFDs() {
		ifd, err := loadIFD(tifd)
		if err != nil {
			return nil, fmt.Errorf("ifd %d: %w", i, err)
		}
		if ifd.SubfileType&SubfileTypeMask != 0 {
			continue
		}
		ifds = append(ifds, ifd)
	}
	if len(ifds) == 0 {
		return nil, fmt.Errorf("no image")
	}
	sort.SliceStable(ifds, func(i, j int) bool {
		return ifds[i].ImageLength > ifds[j].ImageLength
	})
	if ifds[0].SubfileType&SubfileTypeReducedImage != 0 {
		return nil, fmt.Errorf("missing full resolution image")
	}
	base, err := decodeIFD(r, ifds[0])
	if err != nil {
		return nil, fmt.Errorf("full resolution: %w", err)
	}
	base.EPSG = epsgFromGeoKeys(ifds[0].GeoKeyDirectoryTag)
	base.Metadata = decodeGDALMetadata(ifds[0].GDALMetaData)
	base.Resolution = 1
	if s, t := ifds[0].ModelPixelScaleTag, ifds[0].ModelTiePointTag; len(s) >= 2 && len(t) >= 6 {
		base.Resolution = s[0]
		base.OriginX = t[3] - t[0]*s[0]
		base.OriginY = t[4] + t[1]*s[1]
	}
	levels := []*Raster{base}
	for i, ifd := range ifds[1:] {
		ovr, err := decodeIFD(r, ifd)
		if err != nil {
			return nil, fmt.Errorf("overview %d: %w", i+1, err)
		}
		ovr.EPSG = base.EPSG
		ovr.OriginX, ovr.OriginY = base.OriginX, base.OriginY
		ovr.Resolution = base.Resolution * float64(base.Width) / float64(ovr.Width)
		if !ovr.HasNoData {
			ovr.NoData, ovr.HasNoData = base.NoData, base.HasNoData
		}
		levels = append(levels, ovr)
	}
	return levels, nil
}

// ReadCOG decodes the full resolution image of a tiled tiff.
func ReadCOG(r tiff.ReadAtReadSeeker) (*Raster, error) {
	levels, err := ReadCOGLevels(r)
	if err != nil {
		return nil, err
	}
	return levels[0], nil
}

// ReadCOGFile decodes the full resolution image of the tiff at path.
func ReadCOGFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := ReadCOG(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return r, nil
}

func parseNoData(s string) (uint8, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(s, "\x00")), 64)
	if err != nil || v < 0 || v > 255 || v != math.Trunc(v) {
		return 0, false
	}
	return uint8(v), true
}

func decodeIFD(r io.ReaderAt, ifd *IFD) (*Raster, error) {
	if err := checkDecodable(ifd); err != nil {
		return nil, err
	}
	w, h := int(ifd.ImageWidth), int(ifd.ImageLength)
	tw, th := int(ifd.TileWidth), int(ifd.TileLength)
	ras := &Raster{Grid: Grid{Width: w, Height: h}, Pix: make([]uint8, w*h)}
	ras.NoData, ras.HasNoData = parseNoData(ifd.NoData)
	tile := make([]byte, tw*th)
	for idx := range ifd.OriginalTileOffsets {
		tx, ty := idx%int(ifd.ntilesx), idx/int(ifd.ntilesx)
		if ifd.TileByteCounts[idx] == 0 {
			for i := range tile {
				tile[i] = ras.NoData
			}
		} else if err := readTile(r, ifd, idx, tile); err != nil {
			return nil, fmt.Errorf("tile %d,%d: %w", tx, ty, err)
		}
		x0 := tx * tw
		x1 := min(x0+tw, w)
		for y := 0; y < th; y++ {
			row := ty*th + y
			if row >= h {
				break
			}
			copy(ras.Pix[row*w+x0:row*w+x1], tile[y*tw:y*tw+x1-x0])
		}
	}
	return ras, nil
}

func readTile(r io.ReaderAt, ifd *IFD, idx int, dst []byte) error {
	raw := make([]byte, ifd.TileByteCounts[idx])
	if _, err := r.ReadAt(raw, int64(ifd.OriginalTileOffsets[idx])); err != nil {
		return fmt.Errorf("read %d bytes at %d: %w", len(raw), ifd.OriginalTileOffsets[idx], err)
	}
	switch ifd.Compression {
	case CompressionDeflate, CompressionAdobeDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("inflate: %w", err)
		}
		if _, err := io.ReadFull(zr, dst); err != nil {
			return fmt.Errorf("inflate: %w", err)
		}
		_ = zr.Close()
	default:
		if len(raw) < len(dst) {
			return fmt.Errorf("short tile: %d bytes", len(raw))
		}
		copy(dst, raw)
	}
	if ifd.Predictor == PredictorHorizontal {
		tw := int(ifd.TileWidth)
		for y := 0; y < len(dst)/tw; y++ {
			row := dst[y*tw : (y+1)*tw]
			for x := 1; x < tw; x++ {
				row[x] += row[x-1]
			}
		}
	}
	return nil
}
