// Package export packages day-labelled bands into download artifacts: a
// multi-page GeoTIFF or a zip of single-band GeoTIFFs. The TIFF container is
// written directly; bands are stored as uncompressed IEEE float32 strips with
// WGS84 georeferencing keys and the nodata marker, which is all the
// downstream GIS tooling needs.
package export

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"

	"github.com/yieldera/datahub/internal/raster"
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Tags used by the encoder.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSampleFormat     = 339
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGeoKeyDirectory  = 34735
	tagGDALNoData       = 42113
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	// inline holds values that fit in 4 bytes; ext holds larger payloads
	// written after the IFD.
	inline [4]byte
	ext    []byte
}

func shortEntry(tag uint16, v uint16) ifdEntry {
	e := ifdEntry{tag: tag, typ: typeShort, count: 1}
	binary.LittleEndian.PutUint16(e.inline[:2], v)
	return e
}

func longEntry(tag uint16, v uint32) ifdEntry {
	e := ifdEntry{tag: tag, typ: typeLong, count: 1}
	binary.LittleEndian.PutUint32(e.inline[:], v)
	return e
}

func asciiEntry(tag uint16, s string) ifdEntry {
	payload := append([]byte(s), 0)
	e := ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(payload))}
	if len(payload) <= 4 {
		copy(e.inline[:], payload)
	} else {
		e.ext = payload
	}
	return e
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), ext: buf}
}

func shortArrayEntry(tag uint16, vals []uint16) ifdEntry {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	e := ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals))}
	if len(buf) <= 4 {
		copy(e.inline[:], buf)
	} else {
		e.ext = buf
	}
	return e
}

// geoKeys declares a geographic WGS84 raster with point-referenced pixels.
var geoKeys = []uint16{
	1, 1, 0, 3, // version 1.1, 3 keys
	1024, 0, 1, 2, // GTModelType = geographic
	1025, 0, 1, 2, // GTRasterType = pixel-is-point
	2048, 0, 1, 4326, // GeographicType = WGS84
}

// encodeGeoTIFF writes bands as chained IFD pages of one little-endian TIFF.
// Labels annotate each page's ImageDescription, one label per band.
func encodeGeoTIFF(bands []*raster.Band, labels []string) ([]byte, error) {
	if len(bands) == 0 {
		return nil, eris.New("geotiff: no bands to encode")
	}
	if len(labels) != len(bands) {
		return nil, eris.Errorf("geotiff: %d labels for %d bands", len(labels), len(bands))
	}

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0})
	// Offset of the first IFD, patched below.
	buf.Write([]byte{0, 0, 0, 0})

	for i, b := range bands {
		strip := encodeStrip(b)
		entries := bandEntries(b, labels[i], uint32(len(strip)))

		// Layout per page: IFD, external entry payloads, strip data.
		ifdOffset := uint32(buf.Len())
		ifdSize := 2 + 12*len(entries) + 4
		extOffset := ifdOffset + uint32(ifdSize)
		for k := range entries {
			if entries[k].ext != nil {
				place(&entries[k], extOffset)
				extOffset += uint32(len(entries[k].ext))
				if extOffset%2 == 1 {
					extOffset++
				}
			}
		}
		stripOffset := extOffset
		for k := range entries {
			if entries[k].tag == tagStripOffsets {
				binary.LittleEndian.PutUint32(entries[k].inline[:], stripOffset)
			}
		}

		if i == 0 {
			patchUint32(buf.Bytes(), 4, ifdOffset)
		}

		writeIFD(&buf, entries, stripOffset+uint32(len(strip)), i == len(bands)-1)
		writeExt(&buf, entries)
		buf.Write(strip)
	}
	return buf.Bytes(), nil
}

func bandEntries(b *raster.Band, label string, stripLen uint32) []ifdEntry {
	// Tiepoint maps raster point (0,0) — the top-left, north-most pixel — to
	// its geographic cell center.
	northLat := b.OriginLat + float64(b.Height-1)*b.ResolutionDeg

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(b.Width)),
		longEntry(tagImageLength, uint32(b.Height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, 1),
		shortEntry(tagPhotometric, 1),
		asciiEntry(tagImageDescription, label),
		longEntry(tagStripOffsets, 0), // patched at layout time
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(b.Height)),
		longEntry(tagStripByteCounts, stripLen),
		shortEntry(tagSampleFormat, 3), // IEEE float
		doubleEntry(tagModelPixelScale, b.ResolutionDeg, b.ResolutionDeg, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, b.OriginLon, northLat, 0),
		shortArrayEntry(tagGeoKeyDirectory, geoKeys),
		asciiEntry(tagGDALNoData, "-999"),
	}
	return entries
}

// encodeStrip serializes band values as float32, rows north to south.
func encodeStrip(b *raster.Band) []byte {
	out := make([]byte, 4*b.Width*b.Height)
	i := 0
	for row := b.Height - 1; row >= 0; row-- {
		for col := 0; col < b.Width; col++ {
			binary.LittleEndian.PutUint32(out[i:], math.Float32bits(float32(b.At(col, row))))
			i += 4
		}
	}
	return out
}

func place(e *ifdEntry, offset uint32) {
	binary.LittleEndian.PutUint32(e.inline[:], offset)
}

func patchUint32(b []byte, at int, v uint32) {
	binary.LittleEndian.PutUint32(b[at:], v)
}

func writeIFD(buf *bytes.Buffer, entries []ifdEntry, nextIFD uint32, last bool) {
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(entries)))
	buf.Write(n[:])

	var rec [12]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint16(rec[0:], e.tag)
		binary.LittleEndian.PutUint16(rec[2:], e.typ)
		binary.LittleEndian.PutUint32(rec[4:], e.count)
		copy(rec[8:], e.inline[:])
		buf.Write(rec[:])
	}

	var next [4]byte
	if !last {
		binary.LittleEndian.PutUint32(next[:], nextIFD)
	}
	buf.Write(next[:])
}

func writeExt(buf *bytes.Buffer, entries []ifdEntry) {
	for _, e := range entries {
		if e.ext == nil {
			continue
		}
		buf.Write(e.ext)
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}
}
