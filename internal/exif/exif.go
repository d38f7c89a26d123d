// Package exif implements the embedded technical-metadata decoder. It
// locates a TIFF-style tagged directory block inside an image container
// (JPEG APP1 segment, bare TIFF header, or a bounded scan for other
// containers), decodes the directory entries and the camera-settings and
// GPS sub-directories, and folds the interesting tags into a
// TechnicalMetadataRecord.
//
// The decoder never fails hard on malformed input. Truncated or corrupt
// directories degrade to a partial result with a diagnostic note; input
// carrying no recognisable metadata block at all is reported via the
// ErrNoMetadata sentinel.
package exif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNoMetadata indicates the input carried no embedded metadata
// directory. This is expected for many files and is not a decode fault.
var ErrNoMetadata = errors.New("no embedded metadata directory found")

// markerScanBound caps how far into a marker-segmented container the
// decoder will search for the metadata segment.
const markerScanBound = 64 * 1024

type Container int

const (
	ContainerUnknown Container = iota
	ContainerJPEG
	ContainerTIFF
	ContainerPNG
	ContainerWebP
	ContainerHEIC
)

func (c Container) String() string {
	switch c {
	case ContainerJPEG:
		return "jpeg"
	case ContainerTIFF:
		return "tiff"
	case ContainerPNG:
		return "png"
	case ContainerWebP:
		return "webp"
	case ContainerHEIC:
		return "heic"
	default:
		return "unknown"
	}
}

// TechnicalMetadataRecord holds the camera-originated fields extracted
// from an embedded directory. All fields are optional; a nil pointer
// means the source directory did not carry the tag (or carried an
// invalid value which was discarded).
type TechnicalMetadataRecord struct {
	Width        *int
	Height       *int
	CameraMake   *string
	CameraModel  *string
	ExposureTime *string
	Aperture     *float64
	ISO          *int
	CapturedAt   *time.Time
	Latitude     *float64
	Longitude    *float64
	Altitude     *float64
}

// Result is the full decoder output: the distilled record, the raw tag
// map (unknown tags retained under a generic Tag0xNNNN label), and any
// diagnostics gathered while degrading around malformed structures.
type Result struct {
	Record      TechnicalMetadataRecord
	Tags        map[string]any
	Diagnostics []string
}

func (r *Result) note(format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
}

// DetectContainer sniffs the container format from its leading magic
// bytes. Unrecognised input yields ContainerUnknown, which Decode
// treats as a request for the generic bounded scan.
func DetectContainer(data []byte) Container {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return ContainerJPEG
	case len(data) >= 4 && bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}):
		return ContainerTIFF
	case len(data) >= 4 && bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return ContainerTIFF
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return ContainerPNG
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ContainerWebP
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")):
		return ContainerHEIC
	default:
		return ContainerUnknown
	}
}

// Decode parses the embedded metadata directory out of the raw
// container bytes. The declared container kind is trusted only as a
// hint; when it disagrees with the detected signature, the detected
// format wins.
func Decode(data []byte, declared Container) (*Result, error) {
	result := &Result{Tags: make(map[string]any)}

	detected := DetectContainer(data)
	container := detected
	if container == ContainerUnknown {
		container = declared
	}

	var tiff []byte
	switch container {
	case ContainerJPEG:
		tiff = extractJPEGDirectory(data, result)
	case ContainerTIFF:
		tiff = data
	default:
		// PNG, WebP, HEIC and anything unrecognised share the
		// generic bounded scan for an embedded directory block.
		tiff = scanForDirectory(data)
	}

	if tiff == nil {
		if result.Record.Width != nil || result.Record.Height != nil {
			// Frame dimensions recovered from the container itself
			// still constitute a (minimal) technical record.
			return result, nil
		}

		return nil, ErrNoMetadata
	}

	parseDirectoryBlock(tiff, result)
	populateRecord(result)
	return result, nil
}

// exifIdentifier prefixes the directory block inside a JPEG APP1
// segment.
var exifIdentifier = []byte("Exif\x00\x00")

// extractJPEGDirectory walks the JPEG marker segments looking for the
// APP1 segment carrying an embedded directory block. Frame dimensions
// found in SOF segments along the way are recorded as a fallback for
// directories which omit pixel dimensions. Returns nil when no
// directory segment exists.
func extractJPEGDirectory(data []byte, result *Result) []byte {
	var directory []byte

	offset := 2 // skip SOI
	for offset+4 <= len(data) && offset < markerScanBound {
		if data[offset] != 0xFF {
			result.note("marker walk desynchronised at offset %d", offset)
			break
		}

		marker := data[offset+1]
		if marker == 0xFF {
			// Padding byte; resynchronise.
			offset++
			continue
		}

		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) {
			// Standalone markers carry no length field.
			offset += 2
			continue
		}

		if marker == 0xD9 || marker == 0xDA {
			// EOI / start-of-scan: no further metadata segments follow.
			break
		}

		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		if length < 2 || offset+2+length > len(data) {
			result.note("segment 0x%02X at offset %d overruns buffer", marker, offset)
			break
		}

		segment := data[offset+4 : offset+2+length]
		switch {
		case marker == 0xE1 && directory == nil && bytes.HasPrefix(segment, exifIdentifier):
			directory = segment[len(exifIdentifier):]
		case marker == 0xC0 || marker == 0xC1 || marker == 0xC2:
			// SOFn: [precision(1), height(2), width(2), ...]
			if len(segment) >= 5 {
				height := int(binary.BigEndian.Uint16(segment[1:3]))
				width := int(binary.BigEndian.Uint16(segment[3:5]))
				if result.Record.Width == nil && width > 0 {
					result.Record.Width = &width
				}
				if result.Record.Height == nil && height > 0 {
					result.Record.Height = &height
				}
			}
		}

		offset += 2 + length
	}

	return directory
}

// scanForDirectory performs the bounded generic fallback: search the
// head of the file for an identifier-prefixed directory block. Used
// for containers whose metadata embedding we do not model explicitly.
func scanForDirectory(data []byte) []byte {
	bound := len(data)
	if bound > markerScanBound {
		bound = markerScanBound
	}

	idx := bytes.Index(data[:bound], exifIdentifier)
	if idx < 0 {
		return nil
	}

	return data[idx+len(exifIdentifier):]
}
