package exif

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"
)

type FieldType uint16

const (
	TypeByte      FieldType = 1
	TypeASCII     FieldType = 2
	TypeShort     FieldType = 3
	TypeLong      FieldType = 4
	TypeRational  FieldType = 5
	TypeSByte     FieldType = 6
	TypeUndefined FieldType = 7
	TypeSShort    FieldType = 8
	TypeSLong     FieldType = 9
	TypeSRational FieldType = 10
)

// size returns the encoded byte width of a single value of this type,
// or 0 for types the decoder does not understand.
func (t FieldType) size() int {
	switch t {
	case TypeByte, TypeASCII, TypeSByte, TypeUndefined:
		return 1
	case TypeShort, TypeSShort:
		return 2
	case TypeLong, TypeSLong:
		return 4
	case TypeRational, TypeSRational:
		return 8
	default:
		return 0
	}
}

// Rational is the unsigned numerator/denominator pair used throughout
// the directory format. A zero denominator decodes to 0 rather than
// failing, per the fail-soft contract.
type Rational struct {
	Num uint32
	Den uint32
}

func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}

	return float64(r.Num) / float64(r.Den)
}

type SRational struct {
	Num int32
	Den int32
}

func (r SRational) Float() float64 {
	if r.Den == 0 {
		return 0
	}

	return float64(r.Num) / float64(r.Den)
}

const (
	tagExifSubDirectory = 0x8769
	tagGPSSubDirectory  = 0x8825
)

// parseDirectoryBlock reads the directory header (byte order, magic,
// first-directory offset) and parses the root directory plus the two
// fixed sub-directories (camera settings and GPS).
func parseDirectoryBlock(tiff []byte, result *Result) {
	if len(tiff) < 8 {
		result.note("directory block truncated: %d bytes", len(tiff))
		return
	}

	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		result.note("unrecognised byte-order mark %02X%02X", tiff[0], tiff[1])
		return
	}

	if order.Uint16(tiff[2:4]) != 42 {
		result.note("directory header magic mismatch")
		return
	}

	first := order.Uint32(tiff[4:8])
	parseIFD(tiff, int64(first), order, ifdTagNames, result, true)
}

// parseIFD decodes a single directory: an entry count followed by
// fixed-width (tag, type, count, value-or-offset) entries. Entries
// whose out-of-line values fall outside the buffer are skipped with a
// diagnostic; a truncated entry table aborts the directory but keeps
// everything parsed so far. Sub-directory pointers are only followed
// from the root directory.
func parseIFD(tiff []byte, offset int64, order binary.ByteOrder, names map[uint16]string, result *Result, root bool) {
	if offset < 0 || offset+2 > int64(len(tiff)) {
		result.note("directory offset %d out of bounds", offset)
		return
	}

	count := int(order.Uint16(tiff[offset : offset+2]))
	for i := 0; i < count; i++ {
		entryOffset := offset + 2 + int64(i)*12
		if entryOffset+12 > int64(len(tiff)) {
			result.note("directory truncated after %d of %d entries", i, count)
			return
		}

		entry := tiff[entryOffset : entryOffset+12]
		tag := order.Uint16(entry[0:2])
		fieldType := FieldType(order.Uint16(entry[2:4]))
		valueCount := order.Uint32(entry[4:8])

		if root && (tag == tagExifSubDirectory || tag == tagGPSSubDirectory) {
			subOffset := int64(order.Uint32(entry[8:12]))
			subNames := exifTagNames
			if tag == tagGPSSubDirectory {
				subNames = gpsTagNames
			}

			parseIFD(tiff, subOffset, order, subNames, result, false)
			continue
		}

		value, ok := decodeEntryValue(tiff, order, fieldType, valueCount, entry[8:12])
		if !ok {
			result.note("entry 0x%04X has unreadable value (type %d, count %d)", tag, fieldType, valueCount)
			continue
		}

		result.Tags[tagName(names, tag)] = value
	}
}

// decodeEntryValue materialises an entry's value, dereferencing the
// value offset when the encoded size exceeds the 4 inline bytes.
func decodeEntryValue(tiff []byte, order binary.ByteOrder, fieldType FieldType, count uint32, inline []byte) (any, bool) {
	unit := fieldType.size()
	if unit == 0 || count == 0 || count > uint32(len(tiff)) {
		return nil, false
	}

	size := int64(unit) * int64(count)
	var raw []byte
	if size <= 4 {
		raw = inline[:size]
	} else {
		start := int64(order.Uint32(inline))
		if start < 0 || start+size > int64(len(tiff)) {
			return nil, false
		}
		raw = tiff[start : start+size]
	}

	switch fieldType {
	case TypeASCII:
		return strings.TrimRight(string(raw), "\x00 "), true
	case TypeUndefined:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, true
	case TypeRational:
		values := make([]Rational, count)
		for i := range values {
			values[i] = Rational{order.Uint32(raw[i*8 : i*8+4]), order.Uint32(raw[i*8+4 : i*8+8])}
		}
		return collapseSingle(values), true
	case TypeSRational:
		values := make([]SRational, count)
		for i := range values {
			values[i] = SRational{int32(order.Uint32(raw[i*8 : i*8+4])), int32(order.Uint32(raw[i*8+4 : i*8+8]))}
		}
		return collapseSingle(values), true
	default:
		values := make([]int, count)
		for i := range values {
			switch fieldType {
			case TypeByte:
				values[i] = int(raw[i])
			case TypeSByte:
				values[i] = int(int8(raw[i]))
			case TypeShort:
				values[i] = int(order.Uint16(raw[i*2 : i*2+2]))
			case TypeSShort:
				values[i] = int(int16(order.Uint16(raw[i*2 : i*2+2])))
			case TypeLong:
				values[i] = int(order.Uint32(raw[i*4 : i*4+4]))
			case TypeSLong:
				values[i] = int(int32(order.Uint32(raw[i*4 : i*4+4])))
			}
		}
		return collapseSingle(values), true
	}
}

// collapseSingle unwraps one-element slices so scalar tags are stored
// as scalars in the tag map.
func collapseSingle[T any](values []T) any {
	if len(values) == 1 {
		return values[0]
	}

	return values
}

// captureTimestampLayout is the timestamp encoding mandated by the
// directory format.
const captureTimestampLayout = "2006:01:02 15:04:05"

// populateRecord distils the raw tag map into the technical record.
// Directory-sourced dimensions take priority over any frame-header
// fallback recorded during the marker walk.
func populateRecord(result *Result) {
	record := &result.Record

	if w := tagInt(result.Tags, "ImageWidth", "PixelXDimension"); w != nil && *w > 0 {
		record.Width = w
	}
	if h := tagInt(result.Tags, "ImageLength", "PixelYDimension"); h != nil && *h > 0 {
		record.Height = h
	}

	record.CameraMake = tagString(result.Tags, "Make")
	record.CameraModel = tagString(result.Tags, "Model")

	if exposure, ok := result.Tags["ExposureTime"].(Rational); ok && exposure.Den != 0 && exposure.Num != 0 {
		rendered := renderExposure(exposure)
		record.ExposureTime = &rendered
	}

	if fNumber, ok := result.Tags["FNumber"].(Rational); ok && fNumber.Den != 0 {
		aperture := fNumber.Float()
		record.Aperture = &aperture
	}

	record.ISO = tagInt(result.Tags, "ISOSpeedRatings")

	for _, key := range []string{"DateTimeOriginal", "DateTimeDigitized", "DateTime"} {
		if raw := tagString(result.Tags, key); raw != nil {
			if parsed, err := time.Parse(captureTimestampLayout, *raw); err == nil {
				record.CapturedAt = &parsed
				break
			}

			result.note("%s carries unparseable timestamp %q", key, *raw)
		}
	}

	populateGPS(result)
}

func renderExposure(exposure Rational) string {
	value := exposure.Float()
	if value >= 1 {
		return trimFloat(value)
	}

	// Normalise to the conventional 1/N form.
	return "1/" + strconv.Itoa(int(math.Round(float64(exposure.Den)/float64(exposure.Num))))
}

func tagName(names map[uint16]string, tag uint16) string {
	if name, ok := names[tag]; ok {
		return name
	}

	// Unknown tags are retained under a generic label, never dropped.
	return unknownTagLabel(tag)
}

func tagString(tags map[string]any, key string) *string {
	if value, ok := tags[key].(string); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return &trimmed
		}
	}

	return nil
}

// tagInt returns the first of the named tags holding an integer value.
// Array-valued tags yield their first element, matching how
// multi-valued speed ratings are conventionally read.
func tagInt(tags map[string]any, keys ...string) *int {
	for _, key := range keys {
		switch value := tags[key].(type) {
		case int:
			v := value
			return &v
		case []int:
			if len(value) > 0 {
				v := value[0]
				return &v
			}
		}
	}

	return nil
}
