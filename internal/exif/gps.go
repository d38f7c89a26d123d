package exif

// GPS coordinates are encoded as 3-element rational arrays of degrees,
// minutes and seconds, with a separate reference tag carrying the
// hemisphere. Altitude is a single rational with a below-sea-level flag.

// DegreesMinutesSecondsToDecimal converts a (deg, min, sec) triple and
// its hemisphere reference into a signed decimal coordinate:
//
//	decimal = deg + min/60 + sec/3600
//
// with the sign flipped for the South and West references.
func DegreesMinutesSecondsToDecimal(dms [3]Rational, ref string) float64 {
	decimal := dms[0].Float() + dms[1].Float()/60 + dms[2].Float()/3600
	if ref == "S" || ref == "W" {
		decimal = -decimal
	}

	return decimal
}

func populateGPS(result *Result) {
	record := &result.Record

	if lat, ok := gpsCoordinate(result.Tags, "GPSLatitude", "GPSLatitudeRef"); ok {
		if lat >= -90 && lat <= 90 {
			record.Latitude = &lat
		} else {
			result.note("latitude %f out of range, omitted", lat)
		}
	}

	if lon, ok := gpsCoordinate(result.Tags, "GPSLongitude", "GPSLongitudeRef"); ok {
		if lon >= -180 && lon <= 180 {
			record.Longitude = &lon
		} else {
			result.note("longitude %f out of range, omitted", lon)
		}
	}

	// A lone coordinate is useless to every downstream consumer, so a
	// half-populated pair is dropped entirely.
	if record.Latitude == nil || record.Longitude == nil {
		record.Latitude = nil
		record.Longitude = nil
	}

	if altitude, ok := result.Tags["GPSAltitude"].(Rational); ok {
		value := altitude.Float()
		if ref, ok := result.Tags["GPSAltitudeRef"].(int); ok && ref == 1 {
			// Reference 1 indicates below sea level.
			value = -value
		}

		record.Altitude = &value
	}
}

// gpsCoordinate reads a coordinate pair of tags from the tag map,
// tolerating both scalar and array rational encodings.
func gpsCoordinate(tags map[string]any, key string, refKey string) (float64, bool) {
	ref, _ := tags[refKey].(string)

	switch value := tags[key].(type) {
	case []Rational:
		if len(value) != 3 {
			return 0, false
		}
		return DegreesMinutesSecondsToDecimal([3]Rational{value[0], value[1], value[2]}, ref), true
	case Rational:
		// Some writers store a pre-converted decimal as a single rational.
		decimal := value.Float()
		if ref == "S" || ref == "W" {
			decimal = -decimal
		}
		return decimal, true
	default:
		return 0, false
	}
}
