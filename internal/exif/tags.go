package exif

import (
	"fmt"
	"strconv"
)

// ifdTagNames covers the root directory tags the pipeline cares about.
// Anything absent from these maps survives in the tag map under a
// generic Tag0xNNNN label.
var ifdTagNames = map[uint16]string{
	0x0100: "ImageWidth",
	0x0101: "ImageLength",
	0x0102: "BitsPerSample",
	0x0103: "Compression",
	0x010E: "ImageDescription",
	0x010F: "Make",
	0x0110: "Model",
	0x0112: "Orientation",
	0x011A: "XResolution",
	0x011B: "YResolution",
	0x0128: "ResolutionUnit",
	0x0131: "Software",
	0x0132: "DateTime",
	0x013B: "Artist",
	0x8298: "Copyright",
}

var exifTagNames = map[uint16]string{
	0x829A: "ExposureTime",
	0x829D: "FNumber",
	0x8822: "ExposureProgram",
	0x8827: "ISOSpeedRatings",
	0x9003: "DateTimeOriginal",
	0x9004: "DateTimeDigitized",
	0x9201: "ShutterSpeedValue",
	0x9202: "ApertureValue",
	0x9204: "ExposureBiasValue",
	0x9207: "MeteringMode",
	0x9209: "Flash",
	0x920A: "FocalLength",
	0xA001: "ColorSpace",
	0xA002: "PixelXDimension",
	0xA003: "PixelYDimension",
	0xA403: "WhiteBalance",
	0xA405: "FocalLengthIn35mmFilm",
	0xA433: "LensMake",
	0xA434: "LensModel",
}

// gpsTagNames is a separate namespace; GPS tag ids overlap the root
// directory's low id range.
var gpsTagNames = map[uint16]string{
	0x0000: "GPSVersionID",
	0x0001: "GPSLatitudeRef",
	0x0002: "GPSLatitude",
	0x0003: "GPSLongitudeRef",
	0x0004: "GPSLongitude",
	0x0005: "GPSAltitudeRef",
	0x0006: "GPSAltitude",
	0x0007: "GPSTimeStamp",
	0x001D: "GPSDateStamp",
}

func unknownTagLabel(tag uint16) string {
	return fmt.Sprintf("Tag0x%04X", tag)
}

// trimFloat renders a float without trailing zero noise.
func trimFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
