package metadata

import (
	"fmt"
	"math"
	"time"
)

// Enum allow-lists mirrored by the remote metadata template. A value
// outside its allow-list is clamped to the documented default rather
// than rejected — the sanitizer is total and never raises.
var (
	allowedContentTypes = allowList("artwork", "event", "people", "product", "document", "screenshot", "other")
	allowedLocations    = allowList("studio_1", "studio_2", "studio_3", "main_gallery", "warehouse", "archive_vault", "office", "offsite", "unknown")
	allowedDepartments  = allowList("collections", "marketing", "hr", "sales", "administration", "it", "general")
	allowedImportance   = allowList("low", "medium", "high", "critical")
	allowedUsageRights  = allowList("public", "internal", "restricted", "commercial")
	allowedStages       = allowList(StageUnprocessed, StageBasic, StageExifExtracted, StageAIAnalyzed)
)

const (
	maxFreeTextLength = 1000
	maxDetectedText   = 2000
	maxSubjectLength  = 200
	maxKeywords       = 50
	maxNotes          = 20
)

func allowList(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		set[value] = true
	}

	return set
}

// Sanitize coerces a merged record into a guaranteed schema-valid one.
// Every required field is populated even when every upstream source
// failed; enum fields are clamped to their allow-lists; free text is
// truncated; derived fields (aspect ratio, megapixels) are computed
// from whatever dimensions survived.
func Sanitize(record Record) Record {
	record.ContentType = clampEnum(record.ContentType, allowedContentTypes, "other")
	record.FacilityLocation = clampEnum(record.FacilityLocation, allowedLocations, "unknown")
	record.Department = clampEnum(record.Department, allowedDepartments, "general")
	record.Importance = clampEnum(record.Importance, allowedImportance, "low")
	record.UsageRights = clampEnum(record.UsageRights, allowedUsageRights, "internal")
	record.ProcessingStage = clampEnum(record.ProcessingStage, allowedStages, StageUnprocessed)

	if record.SchemaVersion < 1 {
		record.SchemaVersion = 1
	}

	if record.Keywords == nil {
		record.Keywords = []string{}
	}
	if len(record.Keywords) > maxKeywords {
		record.Keywords = record.Keywords[:maxKeywords]
	}
	if len(record.ProcessingNotes) > maxNotes {
		record.ProcessingNotes = record.ProcessingNotes[:maxNotes]
	}

	record.Subject = truncate(record.Subject, maxSubjectLength)
	record.SceneDescription = truncate(record.SceneDescription, maxFreeTextLength)
	record.DetectedText = truncate(record.DetectedText, maxDetectedText)

	record.ImageWidth = positiveInt(record.ImageWidth)
	record.ImageHeight = positiveInt(record.ImageHeight)
	if record.FileSize != nil && *record.FileSize < 0 {
		record.FileSize = nil
	}

	if record.ImageWidth != nil && record.ImageHeight != nil {
		ratio := aspectRatio(*record.ImageWidth, *record.ImageHeight)
		record.AspectRatio = &ratio

		megapixels := math.Round(float64(*record.ImageWidth)*float64(*record.ImageHeight)/1e6*10) / 10
		record.Megapixels = &megapixels
	} else {
		record.AspectRatio = nil
		record.Megapixels = nil
	}

	if record.GPSLatitude != nil && (*record.GPSLatitude < -90 || *record.GPSLatitude > 90) {
		record.GPSLatitude = nil
	}
	if record.GPSLongitude != nil && (*record.GPSLongitude < -180 || *record.GPSLongitude > 180) {
		record.GPSLongitude = nil
	}
	if record.GPSLatitude == nil || record.GPSLongitude == nil {
		record.GPSLatitude = nil
		record.GPSLongitude = nil
		record.GPSAltitude = nil
	}

	if record.VisionConfidence != nil {
		clamped := math.Min(1, math.Max(0, *record.VisionConfidence))
		record.VisionConfidence = &clamped
	}

	record.UploadedAt = canonicalTime(record.UploadedAt)
	record.CapturedAt = canonicalTime(record.CapturedAt)

	if record.FaceCount != nil && *record.FaceCount < 0 {
		zero := 0
		record.FaceCount = &zero
	}

	return record
}

func clampEnum(value string, allowed map[string]bool, fallback string) string {
	if allowed[value] {
		return value
	}

	return fallback
}

func truncate(value *string, limit int) *string {
	if value == nil {
		return nil
	}

	if *value == "" {
		return nil
	}

	if len(*value) > limit {
		trimmed := (*value)[:limit]
		return &trimmed
	}

	return value
}

func positiveInt(value *int) *int {
	if value == nil || *value <= 0 {
		return nil
	}

	return value
}

// canonicalTime normalizes timestamps to UTC so the remote store only
// ever sees one representation of the same instant.
func canonicalTime(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}

	utc := value.UTC().Truncate(time.Second)
	return &utc
}

// aspectRatio reduces dimensions to their simplest W:H form.
func aspectRatio(width int, height int) string {
	divisor := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/divisor, height/divisor)
}

func gcd(a int, b int) int {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
