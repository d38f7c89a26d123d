// Package metadata defines the enriched metadata record — the single
// schema-conformant structure persisted per file — along with the
// deterministic merge fold that combines the extraction sources and
// the total sanitizer that guarantees schema validity.
package metadata

import "time"

// Processing stages, in order. The stage field on a record only ever
// advances; a later pipeline pass which yields no new data must not
// regress a record that an earlier pass promoted.
const (
	StageUnprocessed   = "unprocessed"
	StageBasic         = "basic"
	StageExifExtracted = "exif_extracted"
	StageAIAnalyzed    = "ai_analyzed"
)

var stageRanks = map[string]int{
	StageUnprocessed:   0,
	StageBasic:         1,
	StageExifExtracted: 2,
	StageAIAnalyzed:    3,
}

// StageRank maps a stage label to its position in the progression.
// Unknown labels rank lowest.
func StageRank(stage string) int {
	return stageRanks[stage]
}

// MaxStage returns whichever of the two stages is further along.
func MaxStage(a string, b string) string {
	if StageRank(b) > StageRank(a) {
		return b
	}

	return a
}

// Record is the persisted unit of the pipeline, keyed by the remote
// platform's file ID. All non-required fields are pointers: nil means
// "no source produced this field", which the sync protocol relies on
// to emit minimal patches.
type Record struct {
	FileID string

	// Base file attributes.
	FileName   *string
	FolderPath *string
	FileSize   *int64
	UploadedAt *time.Time

	// Heuristic classification.
	ContentType      string
	FacilityLocation string
	Department       string
	Importance       string
	UsageRights      string
	Keywords         []string
	Subject          *string

	// Technical fields.
	ImageWidth   *int
	ImageHeight  *int
	AspectRatio  *string
	Megapixels   *float64
	CameraMake   *string
	CameraModel  *string
	ExposureTime *string
	Aperture     *float64
	ISO          *int
	CapturedAt   *time.Time
	GPSLatitude  *float64
	GPSLongitude *float64
	GPSAltitude  *float64

	// Vision enrichment.
	VisionLabels     []string
	VisionObjects    []string
	DetectedText     *string
	DominantColors   []string
	FaceCount        *int
	SceneDescription *string
	VisionConfidence *float64

	// Geocoded location (pure addition, never overrides anything).
	LocationAddress      *string
	LocationVenue        *string
	LocationNeighborhood *string
	LocationCity         *string
	LocationRegion       *string
	LocationCountry      *string

	ProcessingStage string
	ProcessingNotes []string
	SchemaVersion   int
}

// FieldMap flattens the record into the remote store's field keys.
// Nil optional fields are omitted entirely, so the sync diff only
// considers fields some source actually produced.
func (record *Record) FieldMap() map[string]any {
	fields := map[string]any{
		"contentType":      record.ContentType,
		"facilityLocation": record.FacilityLocation,
		"department":       record.Department,
		"importance":       record.Importance,
		"usageRights":      record.UsageRights,
		"processingStage":  record.ProcessingStage,
		"schemaVersion":    record.SchemaVersion,
	}

	putString := func(key string, value *string) {
		if value != nil && *value != "" {
			fields[key] = *value
		}
	}
	putFloat := func(key string, value *float64) {
		if value != nil {
			fields[key] = *value
		}
	}
	putInt := func(key string, value *int) {
		if value != nil {
			fields[key] = *value
		}
	}
	putTime := func(key string, value *time.Time) {
		if value != nil {
			fields[key] = value.UTC().Format(time.RFC3339)
		}
	}
	putList := func(key string, value []string) {
		if len(value) > 0 {
			fields[key] = append([]string{}, value...)
		}
	}

	putString("fileName", record.FileName)
	putString("folderPath", record.FolderPath)
	if record.FileSize != nil {
		fields["fileSize"] = *record.FileSize
	}
	putTime("uploadedAt", record.UploadedAt)

	putList("keywords", record.Keywords)
	putString("subject", record.Subject)

	putInt("imageWidth", record.ImageWidth)
	putInt("imageHeight", record.ImageHeight)
	putString("aspectRatio", record.AspectRatio)
	putFloat("megapixels", record.Megapixels)
	putString("cameraMake", record.CameraMake)
	putString("cameraModel", record.CameraModel)
	putString("exposureTime", record.ExposureTime)
	putFloat("aperture", record.Aperture)
	putInt("iso", record.ISO)
	putTime("capturedAt", record.CapturedAt)
	putFloat("gpsLatitude", record.GPSLatitude)
	putFloat("gpsLongitude", record.GPSLongitude)
	putFloat("gpsAltitude", record.GPSAltitude)

	putList("visionLabels", record.VisionLabels)
	putList("visionObjects", record.VisionObjects)
	putString("detectedText", record.DetectedText)
	putList("dominantColors", record.DominantColors)
	putInt("faceCount", record.FaceCount)
	putString("sceneDescription", record.SceneDescription)
	putFloat("visionConfidence", record.VisionConfidence)

	putString("locationAddress", record.LocationAddress)
	putString("locationVenue", record.LocationVenue)
	putString("locationNeighborhood", record.LocationNeighborhood)
	putString("locationCity", record.LocationCity)
	putString("locationRegion", record.LocationRegion)
	putString("locationCountry", record.LocationCountry)

	putList("processingNotes", record.ProcessingNotes)

	return fields
}
