package landmask

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"
)

const (
	SubfileTypeNone         = 0
	SubfileTypeReducedImage = 1
	SubfileTypeMask         = 4
)

const (
	CompressionNone         = 1
	CompressionDeflate      = 8
	CompressionAdobeDeflate = 32946
)

const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

// DefaultTileSize is the internal tile size of written rasters.
const DefaultTileSize = 256

// IFD holds the tags of one image of a tiled tiff. Tagged fields are filled by
// tiff.UnmarshalIFD when reading, the others are computed when writing.
type IFD struct {
	SubfileType               uint32   `tiff:"field,tag=254"`
	ImageWidth                uint64   `tiff:"field,tag=256"`
	ImageLength               uint64   `tiff:"field,tag=257"`
	BitsPerSample             []uint16 `tiff:"field,tag=258"`
	Compression               uint16   `tiff:"field,tag=259"`
	PhotometricInterpretation uint16   `tiff:"field,tag=262"`
	SamplesPerPixel           uint16   `tiff:"field,tag=277"`
	PlanarConfiguration       uint16   `tiff:"field,tag=284"`
	Predictor                 uint16   `tiff:"field,tag=317"`
	TileWidth                 uint16   `tiff:"field,tag=322"`
	TileLength                uint16   `tiff:"field,tag=323"`
	OriginalTileOffsets       []uint64 `tiff:"field,tag=324"`
	TempTileByteCounts        []uint64 `tiff:"field,tag=325"`
	SampleFormat              []uint16 `tiff:"field,tag=339"`

	ModelPixelScaleTag []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag   []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag []uint16  `tiff:"field,tag=34735"`
	GDALMetaData       string    `tiff:"field,tag=42112"`
	NoData             string    `tiff:"field,tag=42113"`

	NewTileOffsets64 []uint64
	NewTileOffsets32 []uint32
	TileByteCounts   []uint32

	overview *IFD
	// tiles holds the compressed tiles in row major order. A nil entry is a
	// sparse tile.
	tiles [][]byte

	ntags, tagsSize, strileSize uint64
	ntilesx, ntilesy            uint64
}

// AddOverview appends ovr at the end of the overview chain. Georeferencing
// tags only live on the full resolution image.
func (ifd *IFD) AddOverview(ovr *IFD) {
	ovr.SubfileType = SubfileTypeReducedImage
	ovr.ModelPixelScaleTag = nil
	ovr.ModelTiePointTag = nil
	ovr.GeoKeyDirectoryTag = nil
	ovr.GDALMetaData = ""
	for ifd.overview != nil {
		ifd = ifd.overview
	}
	ifd.overview = ovr
}

// fields lists the entries to write, in ascending tag order.
func (ifd *IFD) fields(bigtiff bool) []tagValue {
	var f []tagValue
	if ifd.SubfileType != 0 {
		f = append(f, tagValue{tag: 254, data: []uint32{ifd.SubfileType}})
	}
	f = append(f,
		tagValue{tag: 256, data: []uint32{uint32(ifd.ImageWidth)}},
		tagValue{tag: 257, data: []uint32{uint32(ifd.ImageLength)}},
		tagValue{tag: 258, data: ifd.BitsPerSample},
		tagValue{tag: 259, data: []uint16{ifd.Compression}},
		tagValue{tag: 262, data: []uint16{ifd.PhotometricInterpretation}},
		tagValue{tag: 277, data: []uint16{ifd.SamplesPerPixel}},
		tagValue{tag: 284, data: []uint16{ifd.PlanarConfiguration}},
	)
	if ifd.Predictor > PredictorNone {
		f = append(f, tagValue{tag: 317, data: []uint16{ifd.Predictor}})
	}
	f = append(f,
		tagValue{tag: 322, data: []uint16{ifd.TileWidth}},
		tagValue{tag: 323, data: []uint16{ifd.TileLength}},
	)
	if bigtiff {
		f = append(f, tagValue{tag: 324, data: ifd.NewTileOffsets64, strile: true})
	} else {
		f = append(f, tagValue{tag: 324, data: ifd.NewTileOffsets32, strile: true})
	}
	f = append(f, tagValue{tag: 325, data: ifd.TileByteCounts, strile: true})
	if len(ifd.SampleFormat) > 0 {
		f = append(f, tagValue{tag: 339, data: ifd.SampleFormat})
	}
	if len(ifd.ModelPixelScaleTag) > 0 {
		f = append(f, tagValue{tag: 33550, data: ifd.ModelPixelScaleTag})
	}
	if len(ifd.ModelTiePointTag) > 0 {
		f = append(f, tagValue{tag: 33922, data: ifd.ModelTiePointTag})
	}
	if len(ifd.GeoKeyDirectoryTag) > 0 {
		f = append(f, tagValue{tag: 34735, data: ifd.GeoKeyDirectoryTag})
	}
	if ifd.GDALMetaData != "" {
		f = append(f, tagValue{tag: 42112, data: ifd.GDALMetaData})
	}
	if ifd.NoData != "" {
		f = append(f, tagValue{tag: 42113, data: ifd.NoData})
	}
	return f
}

func (ifd *IFD) structure(bigtiff bool) (ntags, tagsSize, strileSize uint64) {
	tagsSize = 2 + 4
	if bigtiff {
		tagsSize = 8 + 8
	}
	for _, tv := range ifd.fields(bigtiff) {
		entry, overflow := fieldSize(tv.data, bigtiff)
		ntags++
		tagsSize += entry
		if tv.strile {
			strileSize += overflow
		} else {
			tagsSize += overflow
		}
	}
	return
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type cog struct {
	enc     byteOrder
	ifd     *IFD
	bigtiff bool
}

func newCOG(base *IFD) *cog {
	return &cog{enc: binary.LittleEndian, ifd: base}
}

func (cog *cog) headerSize() uint64 {
	if cog.bigtiff {
		return 16
	}
	return 8
}

func (cog *cog) writeHeader(w io.Writer) error {
	buf := []byte("II")
	if cog.bigtiff {
		buf = cog.enc.AppendUint16(buf, 43)
		buf = cog.enc.AppendUint16(buf, 8)
		buf = cog.enc.AppendUint16(buf, 0)
		buf = cog.enc.AppendUint64(buf, 16)
	} else {
		buf = cog.enc.AppendUint16(buf, 42)
		buf = cog.enc.AppendUint32(buf, 8)
	}
	_, err := w.Write(buf)
	return err
}

func (cog *cog) computeStructure() {
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		ifd.ntags, ifd.tagsSize, ifd.strileSize = ifd.structure(cog.bigtiff)
	}
}

// computeImageryOffsets lays out tile data after the IFDs and strile arrays,
// switching to BigTIFF when an offset does not fit in 32 bits.
func (cog *cog) computeImageryOffsets() error {
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		n := len(ifd.tiles)
		ifd.TileByteCounts = make([]uint32, n)
		for i, t := range ifd.tiles {
			if uint64(len(t)) > uint64(^uint32(0)) {
				return fmt.Errorf("tile %d of %d bytes is too large", i, len(t))
			}
			ifd.TileByteCounts[i] = uint32(len(t))
		}
		if cog.bigtiff {
			ifd.NewTileOffsets64 = make([]uint64, n)
			ifd.NewTileOffsets32 = nil
		} else {
			ifd.NewTileOffsets32 = make([]uint32, n)
			ifd.NewTileOffsets64 = nil
		}
	}
	cog.computeStructure()

	dataOffset := cog.headerSize()
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		dataOffset += ifd.tagsSize + ifd.strileSize
	}
	for _, ifd := range cog.dataInterlacing() {
		for idx, cnt := range ifd.TileByteCounts {
			if cnt == 0 {
				continue
			}
			if cog.bigtiff {
				ifd.NewTileOffsets64[idx] = dataOffset
			} else {
				if dataOffset+uint64(cnt) > uint64(^uint32(0)) {
					cog.bigtiff = true
					return cog.computeImageryOffsets()
				}
				ifd.NewTileOffsets32[idx] = uint32(dataOffset)
			}
			dataOffset += uint64(cnt)
		}
	}
	return nil
}

// dataInterlacing returns the images in the order their tiles are written:
// smallest overview first, full resolution last.
func (cog *cog) dataInterlacing() []*IFD {
	var ret []*IFD
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		ret = append([]*IFD{ifd}, ret...)
	}
	return ret
}

func (cog *cog) write(out io.Writer) error {
	if err := cog.computeImageryOffsets(); err != nil {
		return err
	}
	// strile arrays are placed after all ifds
	strileData := &tagData{Offset: cog.headerSize()}
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		strileData.Offset += ifd.tagsSize
	}
	if err := cog.writeHeader(out); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	off := cog.headerSize()
	for ifd := cog.ifd; ifd != nil; ifd = ifd.overview {
		if err := cog.writeIFD(out, ifd, off, strileData, ifd.overview != nil); err != nil {
			return fmt.Errorf("write ifd: %w", err)
		}
		off += ifd.tagsSize
	}
	if _, err := out.Write(strileData.Bytes()); err != nil {
		return fmt.Errorf("write strile pointers: %w", err)
	}
	for _, ifd := range cog.dataInterlacing() {
		for _, t := range ifd.tiles {
			if len(t) == 0 {
				continue
			}
			if _, err := out.Write(t); err != nil {
				return fmt.Errorf("write tile data: %w", err)
			}
		}
	}
	return nil
}

func (cog *cog) writeIFD(w io.Writer, ifd *IFD, offset uint64, striledata *tagData, next bool) error {
	fields := ifd.fields(cog.bigtiff)
	entry, _ := entrySize(cog.bigtiff)
	buf := &bytes.Buffer{}
	var head []byte
	overflow := &tagData{}
	if cog.bigtiff {
		head = cog.enc.AppendUint64(nil, uint64(len(fields)))
		overflow.Offset = offset + 8 + uint64(len(fields))*entry + 8
	} else {
		head = cog.enc.AppendUint16(nil, uint16(len(fields)))
		overflow.Offset = offset + 2 + uint64(len(fields))*entry + 4
	}
	buf.Write(head)
	for _, tv := range fields {
		dst := overflow
		if tv.strile {
			dst = striledata
		}
		if err := cog.writeField(buf, tv, dst); err != nil {
			return err
		}
	}
	nextOff := uint64(0)
	if next {
		nextOff = offset + ifd.tagsSize
	}
	if cog.bigtiff {
		buf.Write(cog.enc.AppendUint64(nil, nextOff))
	} else {
		buf.Write(cog.enc.AppendUint32(nil, uint32(nextOff)))
	}
	buf.Write(overflow.Bytes())
	if uint64(buf.Len()) != ifd.tagsSize {
		return fmt.Errorf("ifd size mismatch: wrote %d, expected %d", buf.Len(), ifd.tagsSize)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

type cogOptions struct {
	tileSize int
	level    int
	workers  int
	bigtiff  bool
}

// COGOption tunes WriteCOG.
type COGOption func(*cogOptions)

// COGTileSize sets the internal tile size, a multiple of 16.
func COGTileSize(n int) COGOption {
	return func(o *cogOptions) { o.tileSize = n }
}

// COGCompressionLevel sets the deflate level, see compress/flate.
func COGCompressionLevel(l int) COGOption {
	return func(o *cogOptions) { o.level = l }
}

// COGWorkers sets the number of tiles compressed concurrently.
func COGWorkers(n int) COGOption {
	return func(o *cogOptions) { o.workers = n }
}

// WriteCOG writes levels[0] as the full resolution image and the following
// rasters as its overviews, as a deflate compressed cloud optimized geotiff.
// The output only depends on the pixel values and georeferencing, so writing
// the same rasters twice produces identical bytes.
func WriteCOG(ctx context.Context, w io.Writer, levels []*Raster, opts ...COGOption) error {
	o := cogOptions{tileSize: DefaultTileSize, level: zlib.DefaultCompression, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&o)
	}
	if len(levels) == 0 {
		return fmt.Errorf("no image to write")
	}
	if o.tileSize <= 0 || o.tileSize%16 != 0 || o.tileSize > 65535 {
		return fmt.Errorf("invalid tile size %d", o.tileSize)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	var base *IFD
	for i, r := range levels {
		if len(r.Pix) != r.Width*r.Height {
			return fmt.Errorf("level %d: %d pixels for a %dx%d image", i, len(r.Pix), r.Width, r.Height)
		}
		ifd := newIFD(r, o.tileSize)
		if err := encodeTiles(ctx, ifd, r, o); err != nil {
			return fmt.Errorf("encode level %d: %w", i, err)
		}
		if i == 0 {
			ifd.setGeoreferencing(levels[0])
			base = ifd
		} else {
			base.AddOverview(ifd)
		}
	}
	c := newCOG(base)
	c.bigtiff = o.bigtiff
	bw := bufio.NewWriterSize(w, 1<<20)
	if err := c.write(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteCOGFile writes the rasters to path through a temporary file, so path
// never holds a partially written image.
func WriteCOGFile(ctx context.Context, path string, levels []*Raster, opts ...COGOption) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteCOG(ctx, w, levels, opts...)
	})
}

func newIFD(r *Raster, tileSize int) *IFD {
	ifd := &IFD{
		ImageWidth:                uint64(r.Width),
		ImageLength:               uint64(r.Height),
		BitsPerSample:             []uint16{8},
		Compression:               CompressionDeflate,
		PhotometricInterpretation: 1,
		SamplesPerPixel:           1,
		PlanarConfiguration:       1,
		TileWidth:                 uint16(tileSize),
		TileLength:                uint16(tileSize),
		SampleFormat:              []uint16{1},
	}
	if r.HasNoData {
		ifd.NoData = strconv.Itoa(int(r.NoData))
	}
	ifd.ntilesx = (ifd.ImageWidth + uint64(tileSize) - 1) / uint64(tileSize)
	ifd.ntilesy = (ifd.ImageLength + uint64(tileSize) - 1) / uint64(tileSize)
	return ifd
}

func (ifd *IFD) setGeoreferencing(r *Raster) {
	ifd.ModelPixelScaleTag = []float64{r.Resolution, r.Resolution, 0}
	ifd.ModelTiePointTag = []float64{0, 0, 0, r.OriginX, r.OriginY, 0}
	ifd.GeoKeyDirectoryTag = geoKeys(r.EPSG)
	ifd.GDALMetaData = encodeGDALMetadata(r.Metadata)
}

const (
	keyGTModelType     = 1024
	keyGTRasterType    = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072
)

func isGeographic(epsg int) bool {
	return epsg >= 4000 && epsg < 5000
}

// geoKeys builds a GeoKeyDirectory declaring a PixelIsArea raster in the
// given EPSG code.
func geoKeys(epsg int) []uint16 {
	if epsg <= 0 || epsg > 65535 {
		return []uint16{1, 1, 0, 1, keyGTRasterType, 0, 1, 1}
	}
	model, key := uint16(1), uint16(keyProjectedCSType)
	if isGeographic(epsg) {
		model, key = 2, keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		keyGTModelType, 0, 1, model,
		keyGTRasterType, 0, 1, 1,
		key, 0, 1, uint16(epsg),
	}
}

func epsgFromGeoKeys(keys []uint16) int {
	for i := 4; i+3 < len(keys); i += 4 {
		if (keys[i] == keyProjectedCSType || keys[i] == keyGeographicType) && keys[i+1] == 0 {
			if v := int(keys[i+3]); v != 32767 {
				return v
			}
		}
	}
	return 0
}

func encodeGDALMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := &strings.Builder{}
	b.WriteString("<GDALMetadata>\n")
	for _, k := range keys {
		b.WriteString(`  <Item name="`)
		_ = xml.EscapeText(b, []byte(k))
		b.WriteString(`">`)
		_ = xml.EscapeText(b, []byte(md[k]))
		b.WriteString("</Item>\n")
	}
	b.WriteString("</GDALMetadata>")
	return b.String()
}

type gdalMetadata struct {
	Items []struct {
		Name   string `xml:"name,attr"`
		Sample string `xml:"sample,attr"`
		Value  string `xml:",chardata"`
	} `xml:"Item"`
}

func decodeGDALMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	var md gdalMetadata
	if err := xml.Unmarshal([]byte(s), &md); err != nil {
		return nil
	}
	ret := map[string]string{}
	for _, it := range md.Items {
		if it.Sample == "" {
			ret[it.Name] = it.Value
		}
	}
	return ret
}

func encodeTiles(ctx context.Context, ifd *IFD, r *Raster, o cogOptions) error {
	ntx := int(ifd.ntilesx)
	n := ntx * int(ifd.ntilesy)
	ifd.tiles = make([][]byte, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pix, empty := extractTile(r, i%ntx, i/ntx, o.tileSize)
			if empty {
				return nil
			}
			buf := &bytes.Buffer{}
			zw, err := zlib.NewWriterLevel(buf, o.level)
			if err != nil {
				return err
			}
			if _, err := zw.Write(pix); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			ifd.tiles[i] = buf.Bytes()
			return nil
		})
	}
	return g.Wait()
}

// extractTile copies tile (tx,ty) out of r, padding past the image edges with
// nodata. empty is true when every pixel is nodata, in which case the tile is
// left out of the file.
func extractTile(r *Raster, tx, ty, ts int) (pix []byte, empty bool) {
	pad := uint8(0)
	if r.HasNoData {
		pad = r.NoData
	}
	pix = make([]byte, ts*ts)
	empty = r.HasNoData
	x0 := tx * ts
	x1 := min(x0+ts, r.Width)
	for y := 0; y < ts; y++ {
		row := ty*ts + y
		dst := pix[y*ts : (y+1)*ts]
		n := 0
		if row < r.Height {
			n = copy(dst, r.Pix[row*r.Width+x0:row*r.Width+x1])
		}
		for i := n; i < ts; i++ {
			dst[i] = pad
		}
		if empty {
			for _, v := range dst[:n] {
				if v != pad {
					empty = false
					break
				}
			}
		}
	}
	return pix, empty
}
