package landmask

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

const (
	tByte   = 1
	tAscii  = 2
	tShort  = 3
	tLong   = 4
	tDouble = 12
	tLong8  = 16
)

// tagValue is one IFD entry. strile entries hold tile offsets and byte counts
// and are stored out of line in the strile area that follows the IFDs.
type tagValue struct {
	tag    uint16
	data   interface{}
	strile bool
}

// tagData accumulates out of line field values starting at file offset Offset.
type tagData struct {
	bytes.Buffer
	Offset uint64
}

func (t *tagData) NextOffset() uint64 {
	return t.Offset + uint64(t.Buffer.Len())
}

func entrySize(bigtiff bool) (entry, inline uint64) {
	if bigtiff {
		return 20, 8
	}
	return 12, 4
}

func valueBytes(data interface{}) uint64 {
	switch d := data.(type) {
	case []uint16:
		return 2 * uint64(len(d))
	case []uint32:
		return 4 * uint64(len(d))
	case []uint64:
		return 8 * uint64(len(d))
	case []float64:
		return 8 * uint64(len(d))
	case string:
		return uint64(len(d)) + 1
	}
	panic(fmt.Sprintf("unsupported tag type %T", data))
}

// fieldSize returns the size of the IFD entry and of the out of line data it
// references, if any.
func fieldSize(data interface{}, bigtiff bool) (entry, overflow uint64) {
	entry, inline := entrySize(bigtiff)
	if n := valueBytes(data); n > inline {
		return entry, n
	}
	return entry, 0
}

func (cog *cog) encodeValue(data interface{}) (typ uint16, count uint64, payload []byte) {
	enc := cog.enc
	switch d := data.(type) {
	case []uint16:
		for _, v := range d {
			payload = enc.AppendUint16(payload, v)
		}
		return tShort, uint64(len(d)), payload
	case []uint32:
		for _, v := range d {
			payload = enc.AppendUint32(payload, v)
		}
		return tLong, uint64(len(d)), payload
	case []uint64:
		for _, v := range d {
			payload = enc.AppendUint64(payload, v)
		}
		return tLong8, uint64(len(d)), payload
	case []float64:
		for _, v := range d {
			payload = enc.AppendUint64(payload, math.Float64bits(v))
		}
		return tDouble, uint64(len(d)), payload
	case string:
		payload = append([]byte(d), 0)
		return tAscii, uint64(len(payload)), payload
	}
	panic(fmt.Sprintf("unsupported tag type %T", data))
}

// writeField writes one IFD entry to w. Values that do not fit in the entry
// are appended to overflow and referenced by offset.
func (cog *cog) writeField(w io.Writer, tv tagValue, overflow *tagData) error {
	typ, count, payload := cog.encodeValue(tv.data)
	entry, inline := entrySize(cog.bigtiff)
	buf := make([]byte, entry)
	cog.enc.PutUint16(buf[0:2], tv.tag)
	cog.enc.PutUint16(buf[2:4], typ)
	value := buf[8:]
	if cog.bigtiff {
		cog.enc.PutUint64(buf[4:12], count)
		value = buf[12:]
	} else {
		cog.enc.PutUint32(buf[4:8], uint32(count))
	}
	if uint64(len(payload)) <= inline {
		copy(value, payload)
	} else {
		if cog.bigtiff {
			cog.enc.PutUint64(value, overflow.NextOffset())
		} else {
			cog.enc.PutUint32(value, uint32(overflow.NextOffset()))
		}
		overflow.Write(payload)
	}
	_, err := w.Write(buf)
	return err
}
