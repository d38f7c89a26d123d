package metadata

import (
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/hbomb79/Iris/internal/exif"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/heuristics"
	"github.com/hbomb79/Iris/internal/vision"
)

// BaseAttributes are the file facts supplied by the file source
// collaborator, independent of any enrichment.
type BaseAttributes struct {
	FileName   string
	FolderPath string
	FileSize   int64
	UploadedAt time.Time
}

// Sources collects the output of every enrichment stage for one file.
// Any source may be nil — the merge is defined over presence.
type Sources struct {
	Base       BaseAttributes
	Heuristics *heuristics.Classification
	Technical  *exif.TechnicalMetadataRecord
	Vision     *vision.Analysis
	Geocode    *geocode.Place

	// Notes accumulated by the pipeline (decode diagnostics, adapter
	// failures). Carried on the record so failures are visible without
	// blocking synchronization of the fields that did resolve.
	Notes []string

	// PriorStage is the processing stage already persisted remotely,
	// if known. The merged record never regresses below it.
	PriorStage string
}

// visionContentTypes maps high-confidence vision labels onto the
// schema's content types. Only labels in this map are ever allowed to
// override the heuristic classification.
var visionContentTypes = map[string]string{
	"sculpture":   "artwork",
	"painting":    "artwork",
	"art":         "artwork",
	"statue":      "artwork",
	"person":      "people",
	"portrait":    "people",
	"document":    "document",
	"receipt":     "document",
	"screenshot":  "screenshot",
	"product":     "product",
	"celebration": "event",
}

// visionOverrideConfidence is the label confidence above which a
// vision signal is considered stronger than a path-based guess.
const visionOverrideConfidence = 0.85

// Merge folds the enrichment sources into a single record with fixed
// precedence: base attributes, then heuristic classification, then
// technical fields (which override camera/date/dimension data), then
// vision (which may override contentType/subject/keywords given a
// stronger signal), then geocode (pure addition). The fold is
// deterministic — adapter completion order cannot change the result.
func Merge(fileID string, schemaVersion int, src Sources) Record {
	record := Record{
		FileID:          fileID,
		SchemaVersion:   schemaVersion,
		ProcessingStage: StageUnprocessed,
		ProcessingNotes: append([]string{}, src.Notes...),
	}

	mergeBase(&record, src.Base)

	if src.Heuristics != nil {
		mergeHeuristics(&record, src.Heuristics)
		record.ProcessingStage = MaxStage(record.ProcessingStage, StageBasic)
	}

	if src.Technical != nil {
		mergeTechnical(&record, src.Technical)
		record.ProcessingStage = MaxStage(record.ProcessingStage, StageExifExtracted)
	}

	if src.Vision != nil {
		mergeVision(&record, src.Vision)
		record.ProcessingStage = MaxStage(record.ProcessingStage, StageAIAnalyzed)
	}

	if src.Geocode != nil {
		mergeGeocode(&record, src.Geocode)
	}

	record.ProcessingStage = MaxStage(record.ProcessingStage, src.PriorStage)
	return record
}

func mergeBase(record *Record, base BaseAttributes) {
	if base.FileName != "" {
		record.FileName = &base.FileName
	}
	if base.FolderPath != "" {
		record.FolderPath = &base.FolderPath
	}
	if base.FileSize > 0 {
		record.FileSize = &base.FileSize
	}
	if !base.UploadedAt.IsZero() {
		record.UploadedAt = &base.UploadedAt
	}
}

func mergeHeuristics(record *Record, classification *heuristics.Classification) {
	record.ContentType = classification.ContentType
	record.FacilityLocation = classification.FacilityLocation
	record.Department = classification.Department
	record.Importance = classification.Importance
	record.UsageRights = classification.UsageRights
	record.Keywords = append([]string{}, classification.Keywords...)

	if classification.Subject != "" {
		subject := classification.Subject
		record.Subject = &subject
	}

	// Filename-derived dimensions are the weakest signal; they hold
	// only until the technical record supplies real ones.
	record.ImageWidth = classification.ImageWidth
	record.ImageHeight = classification.ImageHeight
}

func mergeTechnical(record *Record, technical *exif.TechnicalMetadataRecord) {
	if technical.Width != nil {
		record.ImageWidth = technical.Width
	}
	if technical.Height != nil {
		record.ImageHeight = technical.Height
	}

	if technical.CameraMake != nil {
		record.CameraMake = technical.CameraMake
	}
	if technical.CameraModel != nil {
		record.CameraModel = technical.CameraModel
	}
	if technical.ExposureTime != nil {
		record.ExposureTime = technical.ExposureTime
	}
	if technical.Aperture != nil {
		record.Aperture = technical.Aperture
	}
	if technical.ISO != nil {
		record.ISO = technical.ISO
	}
	if technical.CapturedAt != nil {
		record.CapturedAt = technical.CapturedAt
	}

	record.GPSLatitude = technical.Latitude
	record.GPSLongitude = technical.Longitude
	record.GPSAltitude = technical.Altitude
}

func mergeVision(record *Record, analysis *vision.Analysis) {
	for _, label := range analysis.Labels {
		record.VisionLabels = append(record.VisionLabels, label.Description)
	}
	for _, object := range analysis.Objects {
		record.VisionObjects = append(record.VisionObjects, object.Name)
	}
	for _, color := range analysis.Colors {
		record.DominantColors = append(record.DominantColors, color.RGB)
	}

	if analysis.Text != "" {
		text := analysis.Text
		record.DetectedText = &text
	}

	faceCount := analysis.FaceCount
	record.FaceCount = &faceCount

	if analysis.SceneDescription != "" {
		scene := analysis.SceneDescription
		record.SceneDescription = &scene
	}

	confidence := analysis.AggregateConfidence
	record.VisionConfidence = &confidence

	record.Keywords = mergeKeywords(record.Keywords, analysis.Labels)

	// Vision may override the heuristic classification, but only with
	// a stronger signal: a high-confidence label with a known content
	// type mapping, and only when the heuristics fell through to the
	// default.
	for _, label := range analysis.Labels {
		if label.Confidence < visionOverrideConfidence {
			continue
		}

		mapped, ok := visionContentTypes[strings.ToLower(label.Description)]
		if !ok {
			continue
		}

		if record.ContentType == "" || record.ContentType == "other" {
			record.ContentType = mapped
		}
		if record.Subject == nil {
			subject := strings.ToLower(label.Description)
			record.Subject = &subject
		}
		break
	}
}

// mergeKeywords appends confident vision labels to the keyword set,
// skipping labels that near-duplicate an existing keyword (plural
// forms, minor spelling variance).
func mergeKeywords(existing []string, labels []vision.Label) []string {
	similarity := &metrics.JaroWinkler{CaseSensitive: false}

	merged := append([]string{}, existing...)
	for _, label := range labels {
		if label.Confidence < 0.7 {
			continue
		}

		candidate := strings.ToLower(label.Description)
		duplicate := false
		for _, keyword := range merged {
			if strutil.Similarity(candidate, keyword, similarity) > 0.92 {
				duplicate = true
				break
			}
		}

		if !duplicate {
			merged = append(merged, candidate)
		}
	}

	return merged
}

func mergeGeocode(record *Record, place *geocode.Place) {
	assign := func(target **string, value string) {
		if value != "" {
			v := value
			*target = &v
		}
	}

	assign(&record.LocationAddress, place.FormattedAddress)
	assign(&record.LocationVenue, place.Venue)
	assign(&record.LocationNeighborhood, place.Neighborhood)
	assign(&record.LocationCity, place.City)
	assign(&record.LocationRegion, place.Region)
	assign(&record.LocationCountry, place.Country)
}
